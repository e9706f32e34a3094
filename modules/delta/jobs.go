package delta

import (
	"context"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/stagegrid/internal/procpool"
)

// JobMagnitude is the process-pool job computing the change magnitude
// between two sample vectors.
const JobMagnitude = "delta.magnitude"

type magnitudeRequest struct {
	Current  []float64 `msgpack:"current"`
	Previous []float64 `msgpack:"previous"`
}

type magnitudeResponse struct {
	Magnitude  float64 `msgpack:"magnitude"`
	Dimensions int     `msgpack:"dimensions"`
}

// RegisterJobs registers this package's jobs. Both the parent process and
// the re-executed worker must call it with the same registry contents.
func RegisterJobs(reg *procpool.JobRegistry) {
	reg.Register(JobMagnitude, magnitudeJob)
}

// magnitudeJob computes the Euclidean distance between the current and
// previous sample vectors. A missing previous vector is treated as zero.
func magnitudeJob(ctx context.Context, payload []byte) ([]byte, error) {
	var req magnitudeRequest
	if err := msgpack.Unmarshal(payload, &req); err != nil {
		return nil, err
	}
	var sum float64
	for i, cur := range req.Current {
		prev := 0.0
		if i < len(req.Previous) {
			prev = req.Previous[i]
		}
		d := cur - prev
		sum += d * d
	}
	return msgpack.Marshal(magnitudeResponse{
		Magnitude:  math.Sqrt(sum),
		Dimensions: len(req.Current),
	})
}
