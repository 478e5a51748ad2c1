package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"

	"github.com/Slach/logs-insights/pkg/config"
)

const mainPackage = "github.com/Slach/logs-insights/"

// reserved fields open every line of textWriter output.
var reserved = map[string]bool{"time": true, "level": true, "message": true, "caller": true}

// textWriter turns zerolog JSON events into one readable line each.
// Multiline string fields, such as SQL, follow the line as indented blocks.
type textWriter struct {
	out io.Writer
}

func (w *textWriter) Write(p []byte) (int, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(p), &fields); err != nil {
		return w.out.Write(p)
	}

	str := func(key string) string {
		var s string
		_ = json.Unmarshal(fields[key], &s)
		return s
	}

	var line, blocks strings.Builder
	if ts := str("time"); ts != "" {
		line.WriteString(ts + " ")
	} else if raw, ok := fields["time"]; ok {
		line.Write(raw)
		line.WriteString(" ")
	}
	if level := str("level"); level != "" {
		fmt.Fprintf(&line, "%-5s ", strings.ToUpper(level))
	}
	if caller := str("caller"); caller != "" {
		line.WriteString(caller + " > ")
	}
	line.WriteString(str("message"))

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !reserved[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		var s string
		if err := json.Unmarshal(fields[k], &s); err != nil {
			fmt.Fprintf(&line, " %s=%s", k, fields[k])
			continue
		}
		s = strings.TrimSuffix(s, "\n")
		if strings.Contains(s, "\n") {
			fmt.Fprintf(&blocks, "  %s:\n    %s\n", k, strings.ReplaceAll(s, "\n", "\n    "))
			continue
		}
		fmt.Fprintf(&line, " %s=%s", k, s)
	}
	line.WriteString("\n")
	line.WriteString(blocks.String())

	if _, err := io.WriteString(w.out, line.String()); err != nil {
		return 0, err
	}
	return len(p), nil
}

// stackMarshaler keeps the innermost pkg/errors frame, trimmed to the module.
func stackMarshaler(err error) interface{} {
	var tracer interface{ StackTrace() errors.StackTrace }
	if !errors.As(err, &tracer) {
		return pkgerrors.MarshalStack(err)
	}
	st := tracer.StackTrace()
	if len(st) == 0 {
		return nil
	}
	frame := strings.TrimPrefix(fmt.Sprintf("%+s:%d", st[0], st[0]), mainPackage)
	return strings.ReplaceAll(frame, "\n\t", " > ")
}

func callerMarshaler(_ uintptr, file string, line int) string {
	if i := strings.Index(file, mainPackage); i >= 0 {
		file = file[i+len(mainPackage):]
	}
	return file + ":" + strconv.Itoa(line)
}

// InitConsoleStdErrLog is the logger used until the log file is open.
func InitConsoleStdErrLog() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = stackMarshaler
	zerolog.CallerMarshalFunc = callerMarshaler

	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().
		Timestamp().
		Caller().
		Logger()
}

// fatalStackHook adds stack traces to Fatal level logs
type fatalStackHook struct{}

func (h fatalStackHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level == zerolog.FatalLevel {
		e.Stack()
	}
}

// DefaultLogPath is ~/.logs-insights/logs-insights.log.
func DefaultLogPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs-insights.log"), nil
}

// InitLogFile sends all further logging to logPath, or the default path
// when empty. The terminal stays free for the TUI and the stdio protocol.
func InitLogFile(logPath, level, version string) error {
	if logPath == "" {
		var err error
		if logPath, err = DefaultLogPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return errors.Wrap(err, "failed to create log directory")
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "failed to open log file")
	}
	if err := SetLevel(level); err != nil {
		return err
	}

	log.Logger = zerolog.New(zerolog.SyncWriter(&textWriter{out: logFile})).
		With().
		Timestamp().
		Caller().
		Str("version", version).
		Logger().
		Hook(fatalStackHook{})
	return nil
}

// SetLevel sets the global level; empty means info.
func SetLevel(level string) error {
	if level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return nil
	}
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	zerolog.SetGlobalLevel(parsed)
	return nil
}
