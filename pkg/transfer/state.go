package transfer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/apyrgio/kamaki/internal/logger"
	"github.com/apyrgio/kamaki/pkg/kamakierr"
	"github.com/apyrgio/kamaki/pkg/scheduler"
)

// State is one point in a transfer's lifecycle state machine.
type State string

// Upload states.
const (
	StateInit           State = "INIT"
	StatePolicyLoaded   State = "POLICY_LOADED"
	StateHashed         State = "HASHED"
	StateCommittedProbe State = "COMMITTED_PROBE"
	StateUploading      State = "UPLOADING"
	StateCommittedFinal State = "COMMITTED_FINAL"
)

// Download states.
const (
	StateRemoteHashmapLoaded State = "REMOTE_HASHMAP_LOADED"
	StateResuming           State = "RESUMING"
	StateFetching           State = "FETCHING"
)

// Terminal states, shared by both directions.
const (
	StateDone   State = "DONE"
	StateFailed State = "FAILED"
)

// uploadTransitions and downloadTransitions enumerate the legal forward
// moves of each state machine (spec §4.8); FAILED is always legal from
// any non-terminal state and is checked separately.
var uploadTransitions = map[State][]State{
	StateInit:           {StatePolicyLoaded},
	StatePolicyLoaded:   {StateHashed},
	StateHashed:         {StateCommittedProbe},
	StateCommittedProbe: {StateUploading, StateDone}, // 201 on probe skips straight to done
	StateUploading:      {StateCommittedFinal},
	StateCommittedFinal: {StateDone},
}

var downloadTransitions = map[State][]State{
	StateInit:                {StateRemoteHashmapLoaded},
	StateRemoteHashmapLoaded: {StateResuming, StateFetching},
	StateResuming:            {StateFetching, StateDone},
	StateFetching:            {StateDone},
}

// TransferState owns the bookkeeping for exactly one in-flight upload or
// download: its lifecycle state, its UUID (for log correlation), and the
// first error recorded by any worker. It is created at transfer start
// and discarded at the end — never shared or reused across transfers.
type TransferState struct {
	ID        string
	Direction string // "upload" or "download"
	Object    string

	mu          sync.Mutex
	state       State
	transitions map[State][]State
	firstErr    error
	completed   int
}

// NewUploadState creates a TransferState for an upload of object.
func NewUploadState(object string) *TransferState {
	return newState("upload", object, uploadTransitions)
}

// NewDownloadState creates a TransferState for a download of object.
func NewDownloadState(object string) *TransferState {
	return newState("download", object, downloadTransitions)
}

func newState(direction, object string, transitions map[State][]State) *TransferState {
	return &TransferState{
		ID:          uuid.NewString(),
		Direction:   direction,
		Object:      object,
		state:       StateInit,
		transitions: transitions,
	}
}

// State returns the current lifecycle state.
func (t *TransferState) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Transition moves the state machine to next, logging the move at Debug
// level with the transfer's UUID. An illegal transition returns
// ErrPrecondition and leaves the state unchanged.
func (t *TransferState) Transition(ctx context.Context, next State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateFailed || t.state == StateDone {
		return kamakierr.New("transition", t.Object, fmt.Errorf("%w: transfer already terminal (%s)", kamakierr.ErrPrecondition, t.state))
	}

	if next != StateFailed {
		legal := t.transitions[t.state]
		ok := false
		for _, s := range legal {
			if s == next {
				ok = true
				break
			}
		}
		if !ok {
			return kamakierr.New("transition", t.Object, fmt.Errorf("%w: illegal transition %s -> %s", kamakierr.ErrPrecondition, t.state, next))
		}
	}

	prev := t.state
	t.state = next
	logger.DebugCtx(ctx, "transfer state transition",
		logger.TransferID(t.ID),
		logger.Direction(t.Direction),
		logger.Object(t.Object),
		logger.State(string(next)),
		"from", string(prev),
	)
	return nil
}

// Fail records err as the transfer's terminal failure the first time it
// is called; subsequent calls are no-ops so the first error wins.
func (t *TransferState) Fail(ctx context.Context, err error) {
	t.mu.Lock()
	if t.firstErr != nil || t.state == StateFailed || t.state == StateDone {
		t.mu.Unlock()
		return
	}
	t.firstErr = err
	prev := t.state
	t.state = StateFailed
	t.mu.Unlock()

	logger.DebugCtx(ctx, "transfer state transition",
		logger.TransferID(t.ID),
		logger.Direction(t.Direction),
		logger.Object(t.Object),
		logger.State(string(StateFailed)),
		"from", string(prev),
		logger.Err(err),
	)
}

// FirstError returns the first error recorded by Fail, or nil.
func (t *TransferState) FirstError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firstErr
}

// IncCompleted bumps the completed-unit counter, returning the new
// total — used for progress-ticker plumbing and tests.
func (t *TransferState) IncCompleted() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	return t.completed
}

// reapCompleted drains sched's already-finished handles and records the
// first one's error, if any, against state. Called between submissions
// so a background task's failure stops further work as soon as it is
// observed, rather than only once every item has already been queued
// (spec §4.4/§4.5 step 5: "poll readies; on any exception, abort").
func reapCompleted(ctx context.Context, sched *scheduler.Scheduler, op, object string, state *TransferState) {
	for _, h := range sched.PollCompleted() {
		if err := h.Err(); err != nil {
			state.Fail(ctx, kamakierr.New(op, object, err))
		}
	}
}
