package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir stores files in a directory. Bytes land in a hidden temp file that is
// renamed into place on Finalize, so a failed transfer never leaves a
// partial file under the real name.
type Dir struct {
	Label string
	Path  string
}

// NewDir returns a directory strategy named label.
func NewDir(label, path string) *Dir {
	return &Dir{Label: label, Path: path}
}

func (d *Dir) Name() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Path
}

func (d *Dir) Open(name string, size int64) (Sink, error) {
	if d.Path == "" {
		return nil, errors.New("no directory configured")
	}
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	name = SanitizeName(name)
	tmp := filepath.Join(d.Path, fmt.Sprintf(".%s.%s.part", name, uuid.NewString()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileSink{dir: d.Path, name: name, tmpPath: tmp, f: f}, nil
}

type fileSink struct {
	dir       string
	name      string
	tmpPath   string
	f         *os.File
	committed int64
	final     string
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.committed += int64(n)
	return n, err
}

func (s *fileSink) Flush() error {
	return s.f.Sync()
}

func (s *fileSink) Finalize() error {
	if err := s.f.Sync(); err != nil {
		s.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := s.f.Close(); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	final, err := publish(s.tmpPath, s.dir, s.name)
	if err != nil {
		os.Remove(s.tmpPath)
		return err
	}
	s.final = final
	return nil
}

func (s *fileSink) Abort() error {
	s.f.Close()
	if err := os.Remove(s.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileSink) Location() string {
	if s.final != "" {
		return s.final
	}
	return filepath.Join(s.dir, s.name)
}

// Replay reopens the temp file and returns the bytes written so far.
func (s *fileSink) Replay() (io.ReadCloser, int64, error) {
	f, err := os.Open(s.tmpPath)
	if err != nil {
		return nil, 0, err
	}
	return struct {
		io.Reader
		io.Closer
	}{io.LimitReader(f, s.committed), f}, s.committed, nil
}

// publish moves tmp to the first free "name", "name (1)", ... in dir.
func publish(tmp, dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 10000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		dst := filepath.Join(dir, candidate)
		// Link fails on an existing target, which makes the claim atomic.
		err := os.Link(tmp, dst)
		if err == nil {
			os.Remove(tmp)
			return dst, nil
		}
		if errors.Is(err, os.ErrExist) {
			continue
		}
		// Filesystems without hard links: check then rename.
		if _, statErr := os.Lstat(dst); statErr == nil {
			continue
		}
		if err := os.Rename(tmp, dst); err != nil {
			return "", fmt.Errorf("rename into place: %w", err)
		}
		return dst, nil
	}
	return "", fmt.Errorf("no free name for %s in %s", name, dir)
}
