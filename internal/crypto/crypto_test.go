package crypto

import (
	"strings"
	"testing"
)

func TestDigestMatchesOneShot(t *testing.T) {
	d := NewDigest()
	d.Write([]byte("ab"))
	d.Write([]byte("c"))

	if got, want := d.Sum(), SumBytes([]byte("abc")); got != want {
		t.Fatalf("streaming digest %s != one-shot %s", got, want)
	}

	fromReader, err := SumReader(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("SumReader: %v", err)
	}
	if fromReader != d.Sum() {
		t.Errorf("SumReader %s != %s", fromReader, d.Sum())
	}
	if len(fromReader) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(fromReader))
	}
}

func TestDigestEmpty(t *testing.T) {
	// BLAKE2b-256 of the empty string.
	const want = "0e5751c026e543b2e8ab2eb06099daa1d1e5df47778f7787faab45cdf12fe3a8"
	if got := NewDigest().Sum(); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}
