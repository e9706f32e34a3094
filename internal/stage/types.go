package stage

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a controller.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusError   Status = "error"
)

// ErrConfig indicates a malformed controller definition, such as a missing
// id or type. Callers should test for it with errors.Is.
var ErrConfig = errors.New("invalid controller configuration")

// Config describes a single controller instance. It is the unit that is
// persisted in the topology document, so the json tags are part of the
// on-disk format.
type Config struct {
	ID               string         `json:"controller_id"`
	Type             string         `json:"type"`
	Enabled          bool           `json:"enabled"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	InputSensors     []string       `json:"input_sensors,omitempty"`
	InputControllers []string       `json:"input_controllers,omitempty"`
	OutputName       string         `json:"output_name,omitempty"`
}

// Validate checks the fields that every controller definition must carry.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: missing controller_id", ErrConfig)
	}
	if c.Type == "" {
		return fmt.Errorf("%w: missing type", ErrConfig)
	}
	return nil
}

// Input is the data a controller receives for one processing call. Sensors
// holds the external inputs filtered to the controller's declared
// input_sensors; Upstream holds the outputs of upstream controllers, keyed
// by their id, after any dependency field remapping has been applied.
type Input struct {
	Sensors   map[string]any
	Upstream  map[string]map[string]any
	Timestamp time.Time
	Metadata  map[string]any
}

// Result is the outcome of one processing call.
type Result struct {
	OK       bool
	Data     map[string]any
	Error    string
	Metadata map[string]any
	Elapsed  time.Duration
}

// Success builds a successful result carrying the given payload.
func Success(data map[string]any) Result {
	return Result{OK: true, Data: data}
}

// Failure builds a failed result carrying an error message.
func Failure(msg string) Result {
	return Result{OK: false, Error: msg}
}

// Stats is a point-in-time snapshot of a controller's runtime counters.
type Stats struct {
	ID           string        `json:"controller_id"`
	Type         string        `json:"type"`
	Enabled      bool          `json:"enabled"`
	Status       Status        `json:"status"`
	LastElapsed  time.Duration `json:"last_elapsed"`
	ErrorCount   int           `json:"error_count"`
	LastSuccess  *bool         `json:"last_success,omitempty"`
	HasOutput    bool          `json:"has_output"`
	OutputLength int           `json:"output_length"`
}
