// Package progress computes rate-limited throughput samples for a single
// transfer. A Tracker belongs to exactly one send or receive and is not
// safe for concurrent use.
package progress

import (
	"fmt"
	"time"

	"github.com/andres-erbsen/clock"
)

// DefaultInterval is the minimum spacing between two reported samples.
const DefaultInterval = 100 * time.Millisecond

// Sample is one observation of a transfer.
type Sample struct {
	BytesMoved      int64
	TotalBytes      int64
	SampledAt       time.Time
	RateBytesPerSec float64
}

// Fraction returns the completed share in [0, 1]. An empty transfer is complete.
func (s Sample) Fraction() float64 {
	if s.TotalBytes <= 0 {
		return 1
	}
	f := float64(s.BytesMoved) / float64(s.TotalBytes)
	if f > 1 {
		return 1
	}
	return f
}

// Percent returns the integer percentage, truncated like a progress bar.
func (s Sample) Percent() int {
	return int(s.Fraction() * 100)
}

// Tracker accumulates moved bytes and reports a Sample at most once per interval.
type Tracker struct {
	clock    clock.Clock
	interval time.Duration
	report   func(Sample)

	total     int64
	moved     int64
	startedAt time.Time
	lastAt    time.Time
	lastBytes int64
}

// NewTracker starts tracking a transfer of total bytes. report may be nil.
func NewTracker(clk clock.Clock, total int64, interval time.Duration, report func(Sample)) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := clk.Now()
	return &Tracker{
		clock:     clk,
		interval:  interval,
		report:    report,
		total:     total,
		startedAt: now,
		lastAt:    now,
	}
}

// Advance records n more bytes and reports a sample if the interval has elapsed.
func (t *Tracker) Advance(n int64) {
	if n <= 0 {
		return
	}
	t.moved += n
	now := t.clock.Now()
	if now.Sub(t.lastAt) < t.interval {
		return
	}
	t.emit(now)
}

// Finish reports and returns a final sample regardless of the interval.
func (t *Tracker) Finish() Sample {
	return t.emit(t.clock.Now())
}

// Moved returns the bytes recorded so far.
func (t *Tracker) Moved() int64 {
	return t.moved
}

// Elapsed returns the time since the tracker started.
func (t *Tracker) Elapsed() time.Duration {
	return t.clock.Now().Sub(t.startedAt)
}

// AverageRate returns bytes per second over the whole transfer so far.
func (t *Tracker) AverageRate() float64 {
	secs := t.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(t.moved) / secs
}

func (t *Tracker) emit(now time.Time) Sample {
	var rate float64
	if dt := now.Sub(t.lastAt).Seconds(); dt > 0 {
		rate = float64(t.moved-t.lastBytes) / dt
	}
	s := Sample{
		BytesMoved:      t.moved,
		TotalBytes:      t.total,
		SampledAt:       now,
		RateBytesPerSec: rate,
	}
	t.lastAt = now
	t.lastBytes = t.moved
	if t.report != nil {
		t.report(s)
	}
	return s
}

// FormatSize renders a byte count the way the transfer log shows it.
func FormatSize(size int64) string {
	kb := float64(size) / 1024
	mb := kb / 1024
	gb := mb / 1024
	switch {
	case gb >= 1:
		return fmt.Sprintf("%.2f GB", gb)
	case mb >= 1:
		return fmt.Sprintf("%.2f MB", mb)
	case kb >= 1:
		return fmt.Sprintf("%.2f KB", kb)
	default:
		return fmt.Sprintf("%d B", size)
	}
}

// FormatRate renders bytes per second as MB/s.
func FormatRate(bytesPerSec float64) string {
	return fmt.Sprintf("%.2f MB/s", bytesPerSec/1024/1024)
}
