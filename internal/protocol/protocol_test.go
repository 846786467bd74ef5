package protocol

import (
	"bytes"
	"errors"
	"io"
	"net/netip"
	"strings"
	"testing"

	"github.com/bjarneo/linkdrop/internal/core"
)

func TestStringEncoding(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteString(&buf, "héllo.txt"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	raw := buf.Bytes()
	if raw[0] != 0 || raw[1] != 10 {
		t.Fatalf("expected 2-byte big-endian length 10, got % x", raw[:2])
	}

	got, err := ReadString(&buf)
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if got != "héllo.txt" {
		t.Errorf("expected %q, got %q", "héllo.txt", got)
	}
}

func TestWriteStringTooLong(t *testing.T) {
	err := WriteString(io.Discard, strings.Repeat("x", MaxStringLen+1))
	if !errors.Is(err, ErrStringTooLong) {
		t.Fatalf("expected ErrStringTooLong, got %v", err)
	}
	if err := WriteString(io.Discard, strings.Repeat("x", MaxStringLen)); err != nil {
		t.Fatalf("expected max length string to encode, got %v", err)
	}
}

func TestReadStringTruncated(t *testing.T) {
	cases := map[string][]byte{
		"empty":         {},
		"half length":   {0x00},
		"short body":    {0x00, 0x05, 'a', 'b'},
		"invalid utf-8": {0x00, 0x02, 0xff, 0xfe},
		"overlong nul":  {0x00, 0x02, 0xc0, 0x80},
		"surrogate":     {0x00, 0x03, 0xed, 0xa0, 0xbd},
	}
	for name, in := range cases {
		if _, err := ReadString(bytes.NewReader(in)); !errors.Is(err, core.ErrMalformedFrame) {
			t.Errorf("%s: expected ErrMalformedFrame, got %v", name, err)
		}
	}
}

func TestInt64Encoding(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteInt64(&buf, 0x0102030405060708); err != nil {
		t.Fatalf("WriteInt64: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("expected % x, got % x", want, buf.Bytes())
	}
	n, err := ReadInt64(&buf)
	if err != nil || n != 0x0102030405060708 {
		t.Fatalf("ReadInt64 = %d, %v", n, err)
	}
	if _, err := ReadInt64(bytes.NewReader([]byte{1, 2, 3})); !errors.Is(err, core.ErrMalformedFrame) {
		t.Errorf("expected ErrMalformedFrame on truncated int64, got %v", err)
	}
}

func TestParseHandshake(t *testing.T) {
	addr, ok, err := ParseHandshake("CLIENT_IP::192.168.49.5")
	if err != nil || !ok {
		t.Fatalf("ParseHandshake: ok=%v err=%v", ok, err)
	}
	if addr != netip.MustParseAddr("192.168.49.5") {
		t.Errorf("expected 192.168.49.5, got %s", addr)
	}

	for _, bad := range []string{"CLIENT_IP::", "CLIENT_IP::not-an-ip", "CLIENT_IP::300.1.1.1", "CLIENT_IP::fe80::1"} {
		_, ok, err := ParseHandshake(bad)
		if !ok {
			t.Errorf("%q: expected prefix to be recognised", bad)
		}
		if !errors.Is(err, core.ErrMalformedFrame) {
			t.Errorf("%q: expected ErrMalformedFrame, got %v", bad, err)
		}
	}

	if _, ok, err := ParseHandshake("photo.jpg"); ok || err != nil {
		t.Errorf("expected a filename not to be a handshake, ok=%v err=%v", ok, err)
	}
}

func TestReadFrameHandshake(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHandshake(&buf, netip.MustParseAddr("10.0.0.2")); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}
	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Kind != KindHandshake || f.Address.String() != "10.0.0.2" {
		t.Errorf("unexpected frame %+v", f)
	}
}

func TestReadFrameFileHeaderLeavesBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFileHeader(&buf, "a.txt", 3); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	buf.WriteString("abcEXTRA")

	f, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Kind != KindFile || f.Name != "a.txt" || f.Size != 3 {
		t.Fatalf("unexpected frame %+v", f)
	}
	if rest := buf.String(); rest != "abcEXTRA" {
		t.Errorf("expected body to remain unread, got %q", rest)
	}
}

func TestReadFrameRejectsBadFileHeaders(t *testing.T) {
	var missingSize bytes.Buffer
	WriteString(&missingSize, "a.txt")

	var negative bytes.Buffer
	WriteString(&negative, "a.txt")
	WriteInt64(&negative, -1)

	var empty bytes.Buffer
	WriteString(&empty, "")
	WriteInt64(&empty, 1)

	var badAddr bytes.Buffer
	WriteString(&badAddr, "CLIENT_IP::nope")

	cases := map[string]*bytes.Buffer{
		"missing size":  &missingSize,
		"negative size": &negative,
		"empty name":    &empty,
		"bad address":   &badAddr,
	}
	for name, in := range cases {
		if _, err := ReadFrame(in); !errors.Is(err, core.ErrMalformedFrame) {
			t.Errorf("%s: expected ErrMalformedFrame, got %v", name, err)
		}
	}
}

func TestWriteFileHeaderValidation(t *testing.T) {
	if err := WriteFileHeader(io.Discard, "a.txt", -1); err == nil {
		t.Error("expected negative size to be rejected")
	}
	if err := WriteFileHeader(io.Discard, "", 1); err == nil {
		t.Error("expected empty name to be rejected")
	}
	if err := WriteFileHeader(io.Discard, "CLIENT_IP::1.2.3.4", 1); err == nil {
		t.Error("expected a name colliding with the handshake prefix to be rejected")
	}
	if err := WriteHandshake(io.Discard, netip.MustParseAddr("::1")); err == nil {
		t.Error("expected IPv6 handshake address to be rejected")
	}
}
