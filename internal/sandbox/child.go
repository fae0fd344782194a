package sandbox

import (
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// ChildEnv marks a process started as a sandbox by a test binary
const ChildEnv = "HARNESS_SANDBOX_CHILD"

// File descriptors of the pipes inherited by the sandbox process
const (
	requestFD = 3
	eventFD   = 4
)

// RunChild reads one request from in, runs it and writes progress and result frames to out
func RunChild(in io.Reader, out io.Writer) error {
	var req RequestInfo
	if err := msgpack.NewDecoder(in).Decode(&req); err != nil {
		return errors.Wrap(err, "failed to decode request")
	}
	log.Infof("[Sandbox] running %d tests from %s", len(req.Tests), req.LoadPath)

	enc := msgpack.NewEncoder(out)
	loader := CreateLoader(req.LoadPath, func(p Progress) {
		if err := enc.Encode(&Frame{Kind: FrameProgress, Progress: &p}); err != nil {
			log.Debugf("[Sandbox] dropping progress for %s: %v", p.TestName, err)
		}
	})
	set := loader.Test(req.Tests)
	if err := enc.Encode(&Frame{Kind: FrameResult, Results: set}); err != nil {
		return errors.Wrap(err, "failed to send results")
	}
	return nil
}

// ChildMain is the body of the sandbox process; it returns the exit code
func ChildMain() int {
	log.SetOutput(os.Stderr)
	in := os.NewFile(requestFD, "sandbox-request")
	out := os.NewFile(eventFD, "sandbox-events")
	if in == nil || out == nil {
		log.Error("[Sandbox] request and event pipes are missing")
		return 2
	}
	defer in.Close()
	defer out.Close()

	if err := RunChild(in, out); err != nil {
		log.Errorf("[Sandbox] %v", err)
		return 1
	}
	return 0
}
