package progress

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
)

func TestTrackerRateLimitsSamples(t *testing.T) {
	mock := clock.NewMock()
	var samples []Sample
	tr := NewTracker(mock, 1000, 100*time.Millisecond, func(s Sample) { samples = append(samples, s) })

	tr.Advance(100)
	mock.Add(50 * time.Millisecond)
	tr.Advance(100)
	if len(samples) != 0 {
		t.Fatalf("expected no samples inside the interval, got %d", len(samples))
	}

	mock.Add(50 * time.Millisecond)
	tr.Advance(100)
	if len(samples) != 1 {
		t.Fatalf("expected 1 sample after the interval, got %d", len(samples))
	}
	if samples[0].BytesMoved != 300 {
		t.Errorf("expected 300 bytes moved, got %d", samples[0].BytesMoved)
	}
	if samples[0].RateBytesPerSec != 3000 {
		t.Errorf("expected 3000 B/s, got %f", samples[0].RateBytesPerSec)
	}
}

func TestTrackerMonotonicAndFinalEqualsTotal(t *testing.T) {
	mock := clock.NewMock()
	var samples []Sample
	const total = 10_000
	tr := NewTracker(mock, total, 100*time.Millisecond, func(s Sample) { samples = append(samples, s) })

	for moved := int64(0); moved < total; moved += 700 {
		n := int64(700)
		if moved+n > total {
			n = total - moved
		}
		tr.Advance(n)
		mock.Add(40 * time.Millisecond)
	}
	final := tr.Finish()

	if final.BytesMoved != total || final.TotalBytes != total {
		t.Fatalf("final sample %d/%d, want %d/%d", final.BytesMoved, final.TotalBytes, total, total)
	}
	if samples[len(samples)-1] != final {
		t.Errorf("last reported sample is not the final one")
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].BytesMoved < samples[i-1].BytesMoved {
			t.Fatalf("sample %d went backwards: %d < %d", i, samples[i].BytesMoved, samples[i-1].BytesMoved)
		}
		if samples[i].SampledAt.Before(samples[i-1].SampledAt) {
			t.Fatalf("sample %d has an earlier timestamp", i)
		}
	}
}

func TestTrackerIgnoresNonPositiveAdvance(t *testing.T) {
	tr := NewTracker(clock.NewMock(), 10, 0, nil)
	tr.Advance(0)
	tr.Advance(-5)
	if tr.Moved() != 0 {
		t.Errorf("expected 0 moved, got %d", tr.Moved())
	}
}

func TestSampleFraction(t *testing.T) {
	cases := []struct {
		s    Sample
		want int
	}{
		{Sample{BytesMoved: 0, TotalBytes: 0}, 100},
		{Sample{BytesMoved: 1, TotalBytes: 4}, 25},
		{Sample{BytesMoved: 8, TotalBytes: 4}, 100},
	}
	for _, c := range cases {
		if got := c.s.Percent(); got != c.want {
			t.Errorf("Percent(%d/%d) = %d, want %d", c.s.BytesMoved, c.s.TotalBytes, got, c.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	cases := map[int64]string{
		512:             "512 B",
		2048:            "2.00 KB",
		5 * 1024 * 1024: "5.00 MB",
		3 << 30:         "3.00 GB",
	}
	for in, want := range cases {
		if got := FormatSize(in); got != want {
			t.Errorf("FormatSize(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTrackerAverageRate(t *testing.T) {
	clk := clock.NewMock()
	tr := NewTracker(clk, 1000, time.Second, func(Sample) {})
	if got := tr.AverageRate(); got != 0 {
		t.Fatalf("rate before any time passed = %v, want 0", got)
	}
	tr.Advance(500)
	clk.Add(2 * time.Second)
	tr.Advance(500)
	if got := tr.AverageRate(); got != 500 {
		t.Errorf("AverageRate = %v, want 500", got)
	}
}
