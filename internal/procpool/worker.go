package procpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// IsWorkerProcess reports whether the current process was spawned as a
// pool worker.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// WorkerMain is the entrypoint of a worker process. It reads requests from
// stdin, executes the matching registered job and writes responses to
// stdout, one request at a time, until the parent closes the pipe. Job
// panics are converted into failure responses so a bad payload never takes
// the worker down.
func WorkerMain(reg *JobRegistry) error {
	return workerLoop(reg, os.Stdin, os.Stdout)
}

func workerLoop(reg *JobRegistry, in io.Reader, out io.Writer) error {
	ctx := context.Background()
	for {
		var req request
		if err := readFrame(in, &req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		resp := response{ID: req.ID}
		fn, ok := reg.Lookup(req.Job)
		if !ok {
			resp.Error = fmt.Sprintf("unknown job %q", req.Job)
		} else if payload, err := runJob(ctx, fn, req.Payload); err != nil {
			resp.Error = err.Error()
		} else {
			resp.OK = true
			resp.Payload = payload
		}

		if err := writeFrame(out, resp); err != nil {
			return err
		}
	}
}

func runJob(ctx context.Context, fn JobFn, payload []byte) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return fn(ctx, payload)
}
