package sandbox

import (
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrCrashed is returned when a sandbox exits without reporting a result
var ErrCrashed = errors.New("sandbox exited without a result")

const unloadGrace = 3 * time.Second

// Spawner starts sandbox processes
type Spawner struct {
	Command []string
	Env     []string
}

// CreateSpawner splits commandLine into the sandbox command.
// An empty command line re-executes the current binary with the sandbox subcommand.
func CreateSpawner(commandLine string) (*Spawner, error) {
	if commandLine == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "failed to locate executable")
		}
		return &Spawner{Command: []string{exe, "sandbox"}}, nil
	}
	args, err := shellquote.Split(commandLine)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid sandbox command %q", commandLine)
	}
	if len(args) == 0 {
		return nil, errors.Errorf("invalid sandbox command %q", commandLine)
	}
	return &Spawner{Command: args}, nil
}

// Domain is a running sandbox process
type Domain struct {
	ID string

	cmd     *exec.Cmd
	reqW    *os.File
	evtR    *os.File
	logW    *io.PipeWriter
	done    chan struct{}
	waitErr error

	mu       sync.Mutex
	unloaded bool
}

// CreateDomain starts a sandbox process; ctx kills it when done
func (s *Spawner) CreateDomain(ctx context.Context) (*Domain, error) {
	if len(s.Command) == 0 {
		return nil, errors.New("empty sandbox command")
	}
	id := uuid.NewString()

	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request pipe")
	}
	evtR, evtW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, errors.Wrap(err, "failed to create event pipe")
	}

	logW := log.WithField("sandbox", id[:8]).WriterLevel(log.InfoLevel)
	cmd := exec.CommandContext(ctx, s.Command[0], s.Command[1:]...)
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.ExtraFiles = []*os.File{reqR, evtW}
	cmd.Stdout = logW
	cmd.Stderr = logW
	cmd.WaitDelay = time.Second

	err = cmd.Start()
	// the child holds its own copies now
	reqR.Close()
	evtW.Close()
	if err != nil {
		reqW.Close()
		evtR.Close()
		logW.Close()
		return nil, errors.Wrap(err, "failed to start sandbox")
	}

	d := &Domain{
		ID:   id,
		cmd:  cmd,
		reqW: reqW,
		evtR: evtR,
		logW: logW,
		done: make(chan struct{}),
	}
	go func() {
		d.waitErr = cmd.Wait()
		close(d.done)
	}()
	log.Infof("[Sandbox] created %s (pid %d)", id, cmd.Process.Pid)
	return d, nil
}

// Run hands req to the sandbox and waits for its result, forwarding progress frames
func (d *Domain) Run(req RequestInfo, progress func(Progress)) (*models.TestResultSet, error) {
	err := msgpack.NewEncoder(d.reqW).Encode(&req)
	d.reqW.Close()
	if err != nil {
		return nil, errors.Wrapf(err, "sandbox %s: failed to send request", d.ID)
	}

	dec := msgpack.NewDecoder(d.evtR)
	for {
		var f Frame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				<-d.done
				return nil, errors.Wrapf(ErrCrashed, "sandbox %s: %v", d.ID, d.waitErr)
			}
			return nil, errors.Wrapf(ErrCrashed, "sandbox %s: %v", d.ID, err)
		}
		switch f.Kind {
		case FrameProgress:
			if f.Progress != nil && progress != nil {
				progress(*f.Progress)
			}
		case FrameResult:
			if f.Results == nil {
				return nil, errors.Errorf("sandbox %s: empty result frame", d.ID)
			}
			return f.Results, nil
		default:
			log.Warnf("[Sandbox] %s: unknown frame %q", d.ID, f.Kind)
		}
	}
}

// Unload closes the pipes and reaps the process, killing it if it does not exit in time
func (d *Domain) Unload() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unloaded {
		return
	}
	d.unloaded = true

	d.reqW.Close()
	d.evtR.Close()
	select {
	case <-d.done:
	case <-time.After(unloadGrace):
		log.Warnf("[Sandbox] %s did not exit, killing", d.ID)
		if err := d.cmd.Process.Kill(); err != nil {
			log.Warnf("[Sandbox] failed to kill %s: %v", d.ID, err)
		}
		<-d.done
	}
	d.logW.Close()
	if d.waitErr != nil {
		log.Debugf("[Sandbox] %s exited: %v", d.ID, d.waitErr)
	}
	log.Infof("[Sandbox] unloaded %s", d.ID)
}
