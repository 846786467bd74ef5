package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Item is a resolved outgoing file.
type Item struct {
	Name string
	Size int64
	Body io.ReadCloser
}

// Source resolves a file reference into something the sender can stream.
type Source interface {
	Resolve(ref string) (Item, error)
}

// FileSource resolves local filesystem paths.
type FileSource struct{}

func (FileSource) Resolve(ref string) (Item, error) {
	f, err := os.Open(ref)
	if err != nil {
		return Item{}, fmt.Errorf("could not open file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return Item{}, fmt.Errorf("could not get file info: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return Item{}, fmt.Errorf("%s is not a regular file", ref)
	}
	return Item{Name: filepath.Base(ref), Size: info.Size(), Body: f}, nil
}
