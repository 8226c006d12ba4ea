package ftpstore

import "time"

// MetricsCollector receives adapter measurements. Implementations must be
// safe for concurrent use. The metrics package provides a Prometheus one.
type MetricsCollector interface {
	// RecordOperation is called once per adapter operation.
	RecordOperation(op string, success bool, duration time.Duration)

	// RecordTransfer is called after each completed upload ("upload") or
	// download ("download").
	RecordTransfer(direction string, bytes int64, duration time.Duration)

	// RecordSession is called for every session attempt.
	RecordSession(encryption string, success bool)
}

type nopMetrics struct{}

func (nopMetrics) RecordOperation(string, bool, time.Duration) {}
func (nopMetrics) RecordTransfer(string, int64, time.Duration) {}
func (nopMetrics) RecordSession(string, bool) {}
