package document

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"
)

// File is a document stored on disk. Edits made by other programs are
// picked up by Watch.
type File struct {
	path string
	subs subscribers

	mu     sync.Mutex
	digest [32]byte
	known  bool
}

// OpenFile binds a document to path. The file must exist.
func OpenFile(path string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "open document %s", abs)
	}
	return &File{path: abs, digest: blake3.Sum256(data), known: true}, nil
}

// CreateFile writes text to a new file at path and binds a document to it.
func CreateFile(path, text string) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve %s", path)
	}
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "create document %s", abs)
	}
	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "write document %s", abs)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Wrapf(err, "close document %s", abs)
	}
	return &File{path: abs, digest: blake3.Sum256([]byte(text)), known: true}, nil
}

func (f *File) URI() string { return "file://" + filepath.ToSlash(f.path) }

// Path is the absolute file path.
func (f *File) Path() string { return f.path }

func (f *File) Text() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", errors.Wrapf(err, "read document %s", f.path)
	}
	return string(data), nil
}

// Replace writes text to a temp file in the same directory and renames it
// over the document, so readers never observe a partial write.
func (f *File) Replace(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp document")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, "write temp document")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return errors.Wrap(err, "sync temp document")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return errors.Wrap(err, "close temp document")
	}
	if info, err := os.Stat(f.path); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		cleanup()
		return errors.Wrapf(err, "replace document %s", f.path)
	}

	digest := blake3.Sum256([]byte(text))
	f.mu.Lock()
	changed := !f.known || digest != f.digest
	f.digest, f.known = digest, true
	f.mu.Unlock()
	if changed {
		f.subs.notify()
	}
	return nil
}

func (f *File) Subscribe(fn func()) func() {
	return f.subs.add(fn)
}

// Poll checks the file once and notifies subscribers when its content
// differs from the last content seen. It reports whether a change was found.
func (f *File) Poll() (bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return false, errors.Wrapf(err, "read document %s", f.path)
	}
	digest := blake3.Sum256(data)
	f.mu.Lock()
	changed := !f.known || digest != f.digest
	f.digest, f.known = digest, true
	f.mu.Unlock()
	if changed {
		f.subs.notify()
	}
	return changed, nil
}

// Watch polls the file every interval until ctx is done.
func (f *File) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if changed, err := f.Poll(); err != nil {
				log.Warn().Err(err).Str("document", f.path).Msg("watch document")
			} else if changed {
				log.Debug().Str("document", f.path).Msg("document changed on disk")
			}
		}
	}
}
