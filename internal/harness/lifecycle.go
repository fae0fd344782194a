package harness

import (
	"github.com/looplab/fsm"
	log "github.com/sirupsen/logrus"
)

// states of a request
const (
	StateQueued     = "queued"
	StateParsing    = "parsing"
	StateStaging    = "staging"
	StateExecuting  = "executing"
	StateCollecting = "collecting"
	StatePersisting = "persisting"
	StateReplying   = "replying"
	StateDone       = "done"
	StateFailed     = "failed"
)

// events of a request
const (
	EventParse   = "parse"
	EventStage   = "stage"
	EventExecute = "execute"
	EventCollect = "collect"
	EventPersist = "persist"
	EventReply   = "reply"
	EventDone    = "done"
	EventFail    = "fail"
)

// newLifecycle creates the state machine followed by one request
func newLifecycle(label string) *fsm.FSM {
	failEvent := fsm.EventDesc{
		Name: EventFail,
		Src:  []string{StateQueued, StateParsing, StateStaging, StateExecuting, StateCollecting, StatePersisting},
		Dst:  StateFailed,
	}
	events := []fsm.EventDesc{
		{Name: EventParse, Src: []string{StateQueued}, Dst: StateParsing},
		{Name: EventStage, Src: []string{StateParsing}, Dst: StateStaging},
		{Name: EventExecute, Src: []string{StateStaging}, Dst: StateExecuting},
		{Name: EventCollect, Src: []string{StateExecuting}, Dst: StateCollecting},
		{Name: EventPersist, Src: []string{StateCollecting}, Dst: StatePersisting},
		{Name: EventReply, Src: []string{StatePersisting, StateFailed}, Dst: StateReplying},
		{Name: EventDone, Src: []string{StateReplying}, Dst: StateDone},
		failEvent,
	}
	return fsm.NewFSM(StateQueued, events, fsm.Callbacks{
		"enter_state": func(e *fsm.Event) {
			log.Debugf("[TestHarness] %s: %s -> %s", label, e.Src, e.Dst)
		},
	})
}
