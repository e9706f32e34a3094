package procpool

import (
	"bytes"
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// testJobs builds the registry used by both the test process and the
// re-executed worker children.
func testJobs() *JobRegistry {
	reg := NewJobRegistry()
	reg.Register("sum", func(ctx context.Context, payload []byte) ([]byte, error) {
		var values []float64
		if err := msgpack.Unmarshal(payload, &values); err != nil {
			return nil, err
		}
		var total float64
		for _, v := range values {
			total += v
		}
		return msgpack.Marshal(total)
	})
	reg.Register("fail", func(ctx context.Context, payload []byte) ([]byte, error) {
		return nil, assert.AnError
	})
	reg.Register("sleep", func(ctx context.Context, payload []byte) ([]byte, error) {
		var ms int
		if err := msgpack.Unmarshal(payload, &ms); err != nil {
			return nil, err
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return msgpack.Marshal(ms)
	})
	return reg
}

// TestMain doubles as the worker entrypoint: when the test binary is
// re-executed as a pool worker it serves jobs instead of running tests.
func TestMain(m *testing.M) {
	if IsWorkerProcess() {
		if err := WorkerMain(testJobs()); err != nil {
			os.Exit(1)
		}
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func sumPayload(t *testing.T, values ...float64) []byte {
	t.Helper()
	payload, err := msgpack.Marshal(values)
	require.NoError(t, err)
	return payload
}

func TestWorkerLoop(t *testing.T) {
	t.Parallel()

	var in, out bytes.Buffer
	require.NoError(t, writeFrame(&in, request{ID: "1", Job: "sum", Payload: sumPayload(t, 1, 2, 3)}))
	require.NoError(t, writeFrame(&in, request{ID: "2", Job: "nope"}))

	require.NoError(t, workerLoop(testJobs(), &in, &out))

	var first, second response
	require.NoError(t, readFrame(&out, &first))
	require.True(t, first.OK)
	var total float64
	require.NoError(t, msgpack.Unmarshal(first.Payload, &total))
	assert.Equal(t, 6.0, total)

	require.NoError(t, readFrame(&out, &second))
	require.False(t, second.OK)
	assert.Contains(t, second.Error, "unknown job")
}

func TestSubmitRoundTrip(t *testing.T) {
	t.Parallel()

	p := New(Config{Kind: KindCPU, Workers: 2})
	defer p.Shutdown()

	result, err := p.Submit(context.Background(), "sum", sumPayload(t, 2, 3, 4))
	require.NoError(t, err)

	var total float64
	require.NoError(t, msgpack.Unmarshal(result, &total))
	assert.Equal(t, 9.0, total)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Finished)
	assert.Zero(t, stats.Active)
}

func TestJobFailure(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1})
	defer p.Shutdown()

	var jobErr *JobError
	_, err := p.Submit(context.Background(), "fail", nil)
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, "fail", jobErr.Job)
	assert.Equal(t, int64(1), p.Stats().Failed)

	// A job failure does not break the worker; the next task reuses it.
	_, err = p.Submit(context.Background(), "sum", sumPayload(t, 1))
	require.NoError(t, err)
}

func TestUnknownJob(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1})
	defer p.Shutdown()

	var jobErr *JobError
	_, err := p.Submit(context.Background(), "no-such-job", nil)
	require.ErrorAs(t, err, &jobErr)
	assert.Contains(t, jobErr.Msg, "unknown job")
}

func TestSubmitAwaitTimeoutKillsWorkers(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1, Timeout: 50 * time.Millisecond, KillOnTimeout: true})
	defer p.Shutdown()

	slow, err := msgpack.Marshal(5000)
	require.NoError(t, err)

	_, err = p.SubmitAwait(context.Background(), "sleep", slow)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), p.Stats().TimedOut)

	// The worker set was torn down; the next submission respawns lazily
	// and succeeds.
	result, err := p.SubmitAwait(context.Background(), "sum", sumPayload(t, 10))
	require.NoError(t, err)
	var total float64
	require.NoError(t, msgpack.Unmarshal(result, &total))
	assert.Equal(t, 10.0, total)
}

func TestTimeoutKillsBusyWorker(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1, Timeout: 100 * time.Millisecond, KillOnTimeout: true})
	defer p.Shutdown()

	slow, err := msgpack.Marshal(5000)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.SubmitAwait(context.Background(), "sleep", slow)
		errCh <- err
	}()

	// Grab the worker process while it is busy with the sleeping job.
	var proc *os.Process
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		for w := range p.live {
			proc = w.cmd.Process
		}
		return proc != nil
	}, 2*time.Second, 5*time.Millisecond)

	require.ErrorIs(t, <-errCh, context.DeadlineExceeded)

	// The borrowed worker must be killed outright, not left sleeping out
	// its job.
	require.Eventually(t, func() bool {
		return proc.Signal(syscall.Signal(0)) != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestScaleWorkersRefusesWhileActive(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 2})
	defer p.Shutdown()

	slow, err := msgpack.Marshal(500)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Submit(context.Background(), "sleep", slow)
	}()

	// Give the submission time to land on a worker.
	require.Eventually(t, func() bool {
		return p.Stats().Active > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, p.ScaleWorkers(1, false), ErrActiveTasks)
	require.NoError(t, p.ScaleWorkers(1, true))
	assert.Equal(t, 1, p.Workers())
	<-done
}

func TestSubmitAfterShutdown(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 1})
	p.Shutdown()

	_, err := p.Submit(context.Background(), "sum", sumPayload(t, 1))
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestTelemetryConsistency(t *testing.T) {
	t.Parallel()

	p := New(Config{Workers: 2})
	defer p.Shutdown()

	const n = 10
	for i := 0; i < n; i++ {
		job := "sum"
		if i%3 == 0 {
			job = "fail"
		}
		_, _ = p.Submit(context.Background(), job, sumPayload(t, float64(i)))
	}

	stats := p.Stats()
	assert.Equal(t, int64(n), stats.Submitted)
	assert.Equal(t, stats.Submitted, stats.Finished+stats.Failed+stats.Cancelled)
	assert.Zero(t, stats.Active)
}
