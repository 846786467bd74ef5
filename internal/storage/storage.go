// Package storage holds the sink strategies that persist received bytes and
// the source that feeds outgoing sends.
package storage

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/bjarneo/linkdrop/internal/core"
)

// Sink receives the body of one file. Exactly one of Finalize or Abort is called.
type Sink interface {
	io.Writer
	Flush() error
	// Finalize makes the stored bytes visible under their final name.
	Finalize() error
	// Abort discards everything written so far.
	Abort() error
	// Location describes where the bytes end up.
	Location() string
}

// Replayer is implemented by sinks that can hand back the prefix they have
// already committed, so a fallback strategy can take over mid-stream.
type Replayer interface {
	Replay() (io.ReadCloser, int64, error)
}

// Strategy opens sinks at one persistence location.
type Strategy interface {
	Name() string
	Open(name string, size int64) (Sink, error)
}

// Chain is an ordered list of strategies tried in sequence.
type Chain []Strategy

// Open returns a sink from the first strategy at or after index start that
// accepts the file, along with that strategy's index.
func (c Chain) Open(start int, name string, size int64) (Sink, int, error) {
	var errs []error
	for i := start; i < len(c); i++ {
		sink, err := c[i].Open(name, size)
		if err == nil {
			return sink, i, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c[i].Name(), err))
	}
	if len(errs) == 0 {
		return nil, -1, fmt.Errorf("%w: no storage strategy configured", core.ErrStorageFailure)
	}
	return nil, -1, fmt.Errorf("%w: %w", core.ErrStorageFailure, errors.Join(errs...))
}

// SanitizeName reduces a peer-supplied filename to a single safe path element.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(filepath.FromSlash(name))
	name = strings.TrimSpace(name)
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return "unknown_file"
	}
	return name
}

var knownTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heic",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".txt":  "text/plain",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".apk":  "application/vnd.android.package-archive",
}

// MIMEType guesses a content type from the file extension.
func MIMEType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}
