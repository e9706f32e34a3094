package workpool

import "sync"

// Telemetry is the per-pool task bookkeeping. At rest (no task in flight)
// Finished + Failed + Cancelled always equals Submitted and Active is zero.
type Telemetry struct {
	Submitted         int64 `json:"submitted"`
	Finished          int64 `json:"finished"`
	Failed            int64 `json:"failed"`
	Cancelled         int64 `json:"cancelled"`
	TimedOut          int64 `json:"timed_out"`
	Active            int64 `json:"active"`
	Rejected          int64 `json:"rejected"`
	Retries           int64 `json:"retries"`
	BreakerOpens      int64 `json:"breaker_opens"`
	SandboxViolations int64 `json:"sandbox_violations"`
}

// telemetry wraps the counters with their dedicated lock.
type telemetry struct {
	mu sync.Mutex
	t  Telemetry
}

func (c *telemetry) update(f func(*Telemetry)) {
	c.mu.Lock()
	f(&c.t)
	c.mu.Unlock()
}

func (c *telemetry) snapshot() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}
