package harness

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/mavleo96/remote-test-harness/internal/config"
	"github.com/mavleo96/remote-test-harness/internal/models"
	"github.com/mavleo96/remote-test-harness/internal/sandbox"
	"github.com/mavleo96/remote-test-harness/internal/utils"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// Author of every reply sent by the harness
	Author     = "TestHarness"
	clientName = "TH"

	progressBuffer = 100
)

// Messenger is the peer channel the harness receives requests on and replies through
type Messenger interface {
	GetMessage() *models.Message
	PostMessage(msg *models.Message)
	Endpoint() string
}

// ArtifactStore fetches artifacts into a local directory
type ArtifactStore interface {
	DownloadTo(ctx context.Context, name, dir string) (int64, error)
}

// LogStore persists result records
type LogStore interface {
	Upload(ctx context.Context, name string, r io.Reader) (int64, error)
}

// TestHarness receives test requests, runs each in its own sandbox and replies with the results
type TestHarness struct {
	cfg       config.HarnessConfig
	comm      Messenger
	artifacts ArtifactStore
	logs      LogStore
	spawner   *sandbox.Spawner

	inbound  *utils.BlockingQueue[*models.Message]
	progress chan progressEvent

	// domainMu serializes sandbox creation and unloading across workers
	domainMu sync.Mutex
	seq      atomic.Uint64

	ctx        context.Context
	wg         sync.WaitGroup
	progressWg sync.WaitGroup
	stopOnce   sync.Once
	waitOnce   sync.Once
}

type progressEvent struct {
	key string
	sandbox.Progress
}

type request struct {
	worker    int
	msg       *models.Message
	key       string
	dir       string
	units     []models.TestUnit
	stored    bool
	lifecycle *fsm.FSM
}

func (r *request) advance(event string) {
	if err := r.lifecycle.Event(event); err != nil {
		log.Warnf("[TestHarness] %s: %s from %s: %v", r.key, event, r.lifecycle.Current(), err)
	}
}

// CreateTestHarness creates a harness; logs may be nil to skip persistence
func CreateTestHarness(cfg config.HarnessConfig, comm Messenger, artifacts ArtifactStore, logs LogStore, spawner *sandbox.Spawner) *TestHarness {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &TestHarness{
		cfg:       cfg,
		comm:      comm,
		artifacts: artifacts,
		logs:      logs,
		spawner:   spawner,
		inbound:   utils.CreateBlockingQueue[*models.Message](),
		progress:  make(chan progressEvent, progressBuffer),
	}
}

// Start starts the receive routine and the worker pool
func (h *TestHarness) Start(ctx context.Context) {
	h.ctx = ctx
	h.progressWg.Go(h.progressRoutine)
	h.wg.Go(h.receiveRoutine)
	for i := range h.cfg.Workers {
		h.wg.Go(func() { h.workerRoutine(i + 1) })
	}
	log.Infof("[TestHarness] started %d workers on %s", h.cfg.Workers, h.comm.Endpoint())
}

// Stop asks the harness to finish once the requests already received are done
func (h *TestHarness) Stop() {
	h.stopOnce.Do(func() {
		ep := h.comm.Endpoint()
		h.comm.PostMessage(models.MakeQuitMessage(ep, ep))
	})
}

// Wait blocks until every worker has stopped
func (h *TestHarness) Wait() {
	h.wg.Wait()
	h.waitOnce.Do(func() {
		close(h.progress)
		h.progressWg.Wait()
	})
	log.Infof("[TestHarness] stopped")
}

// receiveRoutine moves received messages to the worker queue until quit
func (h *TestHarness) receiveRoutine() {
	for {
		msg := h.comm.GetMessage()
		msg.Time = time.Now()
		if msg.IsQuit() {
			log.Infof("[TestHarness] received quit from %s", msg.From)
			h.inbound.Enqueue(msg)
			return
		}
		log.Infof("[TestHarness] received %s from %s", msg.Type, msg.From)
		log.Debugf("[TestHarness] %s", msg.Show())
		h.inbound.Enqueue(msg)
	}
}

// workerRoutine handles one request at a time; quit is put back for the other workers
func (h *TestHarness) workerRoutine(worker int) {
	for {
		msg := h.inbound.Dequeue()
		if msg.IsQuit() {
			h.inbound.Enqueue(msg)
			log.Debugf("[TestHarness] worker %d stopping", worker)
			return
		}
		if msg.Type != models.TestRequestType {
			log.Warnf("[TestHarness] worker %d: ignoring %s message from %s", worker, msg.Type, msg.From)
			continue
		}
		h.processRequest(worker, msg)
	}
}

// progressRoutine logs progress reported by the sandboxes
func (h *TestHarness) progressRoutine() {
	for p := range h.progress {
		log.Infof("[TestHarness] %s: %s", p.key, p.Progress)
	}
}

func (h *TestHarness) processRequest(worker int, msg *models.Message) {
	start := time.Now()
	req := &request{
		worker: worker,
		msg:    msg,
		key:    h.makeKey(msg.Author, worker),
	}
	req.dir = filepath.Join(h.cfg.StagingDir, req.key)
	req.lifecycle = newLifecycle(req.key)

	set, err := h.runRequest(req)
	if err != nil {
		log.Errorf("[TestHarness] %s: %v", req.key, err)
		req.advance(EventFail)
		set = failedResults(req, err)
	}

	req.advance(EventReply)
	h.reply(req, set)
	req.advance(EventDone)
	log.Infof("[TestHarness] %s: executed in %d µs", req.key, time.Since(start).Microseconds())
}

// runRequest takes a request from parsing to persistence
func (h *TestHarness) runRequest(req *request) (*models.TestResultSet, error) {
	req.advance(EventParse)
	units, err := models.ParseTestRequest(req.msg.Body)
	if err != nil {
		return nil, err
	}
	req.units = units

	req.advance(EventStage)
	if err := h.stage(h.ctx, req); err != nil {
		return nil, err
	}

	req.advance(EventExecute)
	set, err := h.execute(req)
	if err != nil {
		return nil, err
	}
	set.TestKey = req.key

	req.advance(EventPersist)
	req.stored = h.persist(set)
	return set, nil
}

// execute runs the units in a fresh sandbox, then tears it and the staging directory down
func (h *TestHarness) execute(req *request) (*models.TestResultSet, error) {
	h.domainMu.Lock()
	domain, err := h.spawner.CreateDomain(h.ctx)
	h.domainMu.Unlock()
	if err != nil {
		h.removeStaging(req)
		return nil, errors.WithMessage(err, "failed to create sandbox")
	}

	set, runErr := domain.Run(sandbox.RequestInfo{LoadPath: req.dir, Tests: req.units}, func(p sandbox.Progress) {
		select {
		case h.progress <- progressEvent{key: req.key, Progress: p}:
		default:
		}
	})

	req.advance(EventCollect)
	h.domainMu.Lock()
	domain.Unload()
	h.domainMu.Unlock()
	h.removeStaging(req)
	return set, runErr
}

// persist stores the record of set; failures are logged only
func (h *TestHarness) persist(set *models.TestResultSet) bool {
	if h.logs == nil {
		return false
	}
	if _, err := h.logs.Upload(h.ctx, set.LogName(), strings.NewReader(set.Record())); err != nil {
		log.Errorf("[TestHarness] failed to persist %s: %v", set.LogName(), err)
		return false
	}
	log.Infof("[TestHarness] stored %s", set.LogName())
	return true
}

// reply sends the result set back to the requester
func (h *TestHarness) reply(req *request, set *models.TestResultSet) {
	if req.msg.From == "" {
		log.Warnf("[TestHarness] %s: request has no return address, dropping results", req.key)
		return
	}
	body, err := set.Body()
	if err != nil {
		log.Errorf("[TestHarness] %s: %v", req.key, err)
		return
	}
	msg := &models.Message{
		ID:         uuid.NewString(),
		ReplyTo:    req.msg.ID,
		Type:       models.TestResultsType,
		To:         req.msg.From,
		From:       h.comm.Endpoint(),
		Author:     Author,
		Time:       time.Now(),
		Body:       body,
		ClientName: clientName,
		ToName:     req.msg.ClientName,
	}
	if req.stored {
		msg.Files = []string{set.LogName()}
	}
	h.comm.PostMessage(msg)
}

// failedResults marks every parsed unit failed with the request's error
func failedResults(req *request, err error) *models.TestResultSet {
	set := &models.TestResultSet{TestKey: req.key, Timestamp: time.Now()}
	for _, u := range req.units {
		set.Results = append(set.Results, models.TestResult{TestName: u.Name, Status: models.Failed, Log: err.Error()})
	}
	if len(set.Results) == 0 {
		set.Results = []models.TestResult{{TestName: "request", Status: models.Failed, Log: err.Error()}}
	}
	return set
}
