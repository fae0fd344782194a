package sandbox

import "github.com/mavleo96/remote-test-harness/internal/models"

// Frame kinds written by the sandbox process
const (
	FrameProgress = "progress"
	FrameResult   = "result"
)

// RequestInfo is the work handed to a sandbox: a staging directory and the units to run there
type RequestInfo struct {
	LoadPath string            `msgpack:"load_path"`
	Tests    []models.TestUnit `msgpack:"tests"`
}

// Progress reports the outcome of one unit while the request is still running
type Progress struct {
	TestName string `msgpack:"test_name"`
	Driver   string `msgpack:"driver"`
	Passed   bool   `msgpack:"passed"`
}

// String renders the progress line logged by the parent
func (p Progress) String() string {
	if p.Passed {
		return p.Driver + " passed"
	}
	return p.Driver + ": failed"
}

// Frame is one message on the sandbox event pipe
type Frame struct {
	Kind     string                `msgpack:"kind"`
	Progress *Progress             `msgpack:"progress,omitempty"`
	Results  *models.TestResultSet `msgpack:"results,omitempty"`
}
