package telemetry

import "time"

// Cache outcomes reported by ObserveCacheAspect.
const (
	OutcomeAbsent   = "absent"
	OutcomeHit      = "hit"
	OutcomeUploaded = "uploaded"
	OutcomeError    = "error"
)

// Metrics is the sink every component reports to.
type Metrics interface {
	ObserveCacheAspect(aspect, outcome string, duration time.Duration)
	ObserveUpload(aspect string, bytes int64, err error)
	ObserveAggregate(catalog string, duration time.Duration, err error)
	ObserveRequest(route string, status int, duration time.Duration)
	ObserveSign(err error)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) ObserveCacheAspect(string, string, time.Duration) {}
func (NoopMetrics) ObserveUpload(string, int64, error)               {}
func (NoopMetrics) ObserveAggregate(string, time.Duration, error)    {}
func (NoopMetrics) ObserveRequest(string, int, time.Duration)        {}
func (NoopMetrics) ObserveSign(error)                                {}

var _ Metrics = NoopMetrics{}
