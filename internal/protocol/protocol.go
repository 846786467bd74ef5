package protocol

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"unicode/utf8"

	"github.com/bjarneo/linkdrop/internal/core"
)

// --- Protocol Definition ---

const (
	// DefaultPort is the single well-known port for handshake and file connections.
	DefaultPort = 8988
	// HandshakePrefix marks a handshake string; the remainder is the client's IPv4 address.
	HandshakePrefix = "CLIENT_IP::"
	// MaxStringLen is the largest string a 2-byte length prefix can carry.
	MaxStringLen = 1<<16 - 1
)

var ErrStringTooLong = errors.New("string exceeds 65535 bytes")

// Kind discriminates the two frames a connection may carry.
type Kind int

const (
	KindHandshake Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Frame is the single message read from the start of a connection. For
// KindFile exactly Size raw body bytes follow on the stream.
type Frame struct {
	Kind    Kind
	Address netip.Addr
	Name    string
	Size    int64
}

// WriteString writes a 2-byte big-endian byte length followed by the UTF-8 bytes.
func WriteString(w io.Writer, s string) error {
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
	}
	buf := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(buf, uint16(len(s)))
	copy(buf[2:], s)
	_, err := w.Write(buf)
	return err
}

// ReadString reads a string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", fmt.Errorf("%w: read string length: %w", core.ErrMalformedFrame, err)
	}
	n := binary.BigEndian.Uint16(hdr[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", fmt.Errorf("%w: read %d string bytes: %w", core.ErrMalformedFrame, n, err)
	}
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: string is not valid UTF-8", core.ErrMalformedFrame)
	}
	return string(body), nil
}

// WriteInt64 writes n as 8 big-endian bytes.
func WriteInt64(w io.Writer, n int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt64 reads 8 big-endian bytes as a signed integer.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read int64: %w", core.ErrMalformedFrame, err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// HandshakeString renders the handshake string for addr.
func HandshakeString(addr netip.Addr) string {
	return HandshakePrefix + addr.String()
}

// ParseHandshake extracts the IPv4 address from a handshake string.
// ok is false when s does not carry the handshake prefix at all.
func ParseHandshake(s string) (addr netip.Addr, ok bool, err error) {
	rest, found := strings.CutPrefix(s, HandshakePrefix)
	if !found {
		return netip.Addr{}, false, nil
	}
	addr, err = netip.ParseAddr(rest)
	if err != nil {
		return netip.Addr{}, true, fmt.Errorf("%w: handshake address %q: %w", core.ErrMalformedFrame, rest, err)
	}
	if !addr.Is4() {
		return netip.Addr{}, true, fmt.Errorf("%w: handshake address %q is not IPv4", core.ErrMalformedFrame, rest)
	}
	return addr, true, nil
}

// WriteHandshake writes a handshake frame announcing addr.
func WriteHandshake(w io.Writer, addr netip.Addr) error {
	if !addr.Is4() {
		return fmt.Errorf("handshake address %s is not IPv4", addr)
	}
	return WriteString(w, HandshakeString(addr))
}

// WriteFileHeader writes the filename and declared size. The body follows separately.
func WriteFileHeader(w io.Writer, name string, size int64) error {
	if size < 0 {
		return fmt.Errorf("negative file size %d", size)
	}
	if name == "" || strings.HasPrefix(name, HandshakePrefix) {
		return fmt.Errorf("invalid file name %q", name)
	}
	if err := WriteString(w, name); err != nil {
		return err
	}
	return WriteInt64(w, size)
}

// ReadFrame reads the frame at the start of a connection. For a file frame
// the reader is left positioned at the first body byte.
func ReadFrame(r io.Reader) (Frame, error) {
	first, err := ReadString(r)
	if err != nil {
		return Frame{}, err
	}

	addr, isHandshake, err := ParseHandshake(first)
	if err != nil {
		return Frame{}, err
	}
	if isHandshake {
		return Frame{Kind: KindHandshake, Address: addr}, nil
	}

	if first == "" {
		return Frame{}, fmt.Errorf("%w: empty file name", core.ErrMalformedFrame)
	}
	size, err := ReadInt64(r)
	if err != nil {
		return Frame{}, err
	}
	if size < 0 {
		return Frame{}, fmt.Errorf("%w: negative file size %d", core.ErrMalformedFrame, size)
	}
	return Frame{Kind: KindFile, Name: first, Size: size}, nil
}

// NewReader wraps a connection for frame reads. Large body reads bypass the buffer.
func NewReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 8192)
}
