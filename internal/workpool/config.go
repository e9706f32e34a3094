package workpool

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind names a pool's purpose. Pools of the same kind are shared through
// the pool manager.
type Kind string

const (
	KindSourceIO  Kind = "source_io"
	KindFileIO    Kind = "file_io"
	KindNetworkIO Kind = "network_io"
	KindGeneral   Kind = "general"
)

// Config tunes one pool. The zero value is usable: worker count derived
// from the CPU count, a queue as deep as the worker set, blocking
// admission, no retries, breaker disabled.
type Config struct {
	Kind Kind

	// Workers fixes the worker count. When zero it is derived from the
	// CPU count multiplied by CPUFactor.
	Workers   int
	CPUFactor float64

	// QueueSize bounds the number of in-flight tasks (queued plus
	// executing). Zero means the worker count.
	QueueSize int
	// QueueBlock selects blocking admission; when false a full queue
	// rejects the submission with ErrQueueFull instead.
	QueueBlock bool

	// Timeout bounds each awaited task in SubmitAwait. Zero disables it.
	Timeout time.Duration

	// Retries re-runs a failing task up to N extra times with
	// exponential backoff between attempts.
	Retries          int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// BreakerFailures is the consecutive-failure threshold tripping the
	// circuit breaker; zero disables it.
	BreakerFailures     int
	BreakerResetTimeout time.Duration
	BreakerHysteresis   time.Duration

	// AllowedCallables, when non-empty, is the sandbox allow-list of
	// submittable callable names.
	AllowedCallables []string

	// Metrics, when set, receives the pool's Prometheus collectors.
	Metrics prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindGeneral
	}
	if c.CPUFactor <= 0 {
		c.CPUFactor = 4.0
	}
	if c.Workers <= 0 {
		c.Workers = max(1, int(float64(runtime.NumCPU())*c.CPUFactor))
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers
	}
	if c.RetryBackoffBase <= 0 {
		c.RetryBackoffBase = 500 * time.Millisecond
	}
	if c.RetryBackoffMax <= 0 {
		c.RetryBackoffMax = 5 * time.Second
	}
	if c.BreakerResetTimeout <= 0 {
		c.BreakerResetTimeout = 60 * time.Second
	}
	if c.BreakerHysteresis <= 0 {
		c.BreakerHysteresis = time.Second
	}
	return c
}
