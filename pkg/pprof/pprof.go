package pprof

import (
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/Slach/logs-insights/pkg/config"
)

// Profiler writes cpu.pprof while running and memory.pprof on Stop.
type Profiler struct {
	dir string
	cpu *os.File
}

// Start begins CPU profiling into dir, ~/.logs-insights when empty.
func Start(dir string) (*Profiler, error) {
	if dir == "" {
		var err error
		if dir, err = config.Dir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create pprof directory")
	}

	cpuFile := filepath.Join(dir, "cpu.pprof")
	f, err := os.Create(cpuFile)
	if err != nil {
		return nil, errors.Wrap(err, "could not create CPU profile file")
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "could not start CPU profile")
	}
	log.Info().Str("path", cpuFile).Msg("CPU profiling started")
	return &Profiler{dir: dir, cpu: f}, nil
}

// Stop ends CPU profiling and writes a heap profile.
func (p *Profiler) Stop() error {
	pprof.StopCPUProfile()
	if err := p.cpu.Close(); err != nil {
		log.Warn().Err(err).Msg("close CPU profile")
	}

	memFile := filepath.Join(p.dir, "memory.pprof")
	f, err := os.Create(memFile)
	if err != nil {
		return errors.Wrap(err, "could not create memory profile file")
	}
	defer f.Close()

	runtime.GC() // up-to-date statistics
	if err := pprof.WriteHeapProfile(f); err != nil {
		return errors.Wrap(err, "could not write memory profile")
	}
	log.Info().Str("path", memFile).Msg("memory profile written")
	return nil
}
