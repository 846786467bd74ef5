package logging

import (
	"io"
	"time"

	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// MetricsReporter writes tally snapshots to a zap logger at debug level.
// Counters carry the delta since the previous report.
type MetricsReporter struct {
	log *zap.Logger
}

var _ tally.StatsReporter = (*MetricsReporter)(nil)

func NewMetricsReporter(log *zap.Logger) *MetricsReporter {
	return &MetricsReporter{log: log.Named("metrics")}
}

// NewMetricsScope returns a root scope reporting to log every interval.
// Closing the returned closer flushes a final report.
func NewMetricsScope(log *zap.Logger, prefix string, interval time.Duration) (tally.Scope, io.Closer) {
	return tally.NewRootScope(tally.ScopeOptions{
		Prefix:   prefix,
		Reporter: NewMetricsReporter(log),
	}, interval)
}

func (r *MetricsReporter) ReportCounter(name string, tags map[string]string, value int64) {
	if value == 0 {
		return
	}
	r.log.Debug("counter", zap.String("name", name), zap.Any("tags", tags), zap.Int64("value", value))
}

func (r *MetricsReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.log.Debug("gauge", zap.String("name", name), zap.Any("tags", tags), zap.Float64("value", value))
}

func (r *MetricsReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.log.Debug("timer", zap.String("name", name), zap.Any("tags", tags), zap.Duration("value", interval))
}

func (r *MetricsReporter) ReportHistogramValueSamples(name string, tags map[string]string, _ tally.Buckets, lower, upper float64, samples int64) {
	r.log.Debug("histogram",
		zap.String("name", name),
		zap.Any("tags", tags),
		zap.Float64("lower", lower),
		zap.Float64("upper", upper),
		zap.Int64("samples", samples))
}

func (r *MetricsReporter) ReportHistogramDurationSamples(name string, tags map[string]string, _ tally.Buckets, lower, upper time.Duration, samples int64) {
	r.log.Debug("histogram",
		zap.String("name", name),
		zap.Any("tags", tags),
		zap.Duration("lower", lower),
		zap.Duration("upper", upper),
		zap.Int64("samples", samples))
}

func (r *MetricsReporter) Capabilities() tally.Capabilities {
	return r
}

func (r *MetricsReporter) Reporting() bool { return true }

func (r *MetricsReporter) Tagging() bool { return true }

func (r *MetricsReporter) Flush() {}
