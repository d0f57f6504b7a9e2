package executor

import (
	"log/slog"
	stdsync "sync"
	"sync/atomic"

	"github.com/tonimelisma/treesync/internal/planner"
)

// TrackedCommand pairs a planner.Command with its in-memory dependency
// state. Workers pull TrackedCommands from the tracker's ready channel.
type TrackedCommand struct {
	Command *planner.Command

	depsLeft   atomic.Int32
	dependents []*TrackedCommand
}

// Tracker is an in-memory dependency graph that dispatches commands to a
// single ready channel as their dependencies reach a terminal state. It is
// populated from a planner.Plan and driven to completion by worker
// Complete() calls, generalizing the teacher's DepTracker
// (internal/sync/tracker.go) from path-keyed sync actions to the
// dependency-DAG commands produced by module J.
type Tracker struct {
	mu        stdsync.Mutex
	commands  map[uint64]*TrackedCommand
	ready     chan *TrackedCommand
	done      chan struct{}
	total     atomic.Int32
	completed atomic.Int32
	logger    *slog.Logger
}

// NewTracker creates a tracker sized for a plan of the given length so
// dispatch never blocks on the ready channel.
func NewTracker(planSize int, logger *slog.Logger) *Tracker {
	if planSize < 1 {
		planSize = 1
	}

	return &Tracker{
		commands: make(map[uint64]*TrackedCommand),
		ready:    make(chan *TrackedCommand, planSize),
		done:     make(chan struct{}),
		logger:   logger,
	}
}

// Add inserts cmd into the tracker. If every dependency has already
// completed (or cmd has none), it is dispatched immediately; otherwise it
// waits for Complete() to clear its remaining dependency count to zero.
func (t *Tracker) Add(cmd *planner.Command) {
	tc := &TrackedCommand{Command: cmd}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.commands[cmd.ID] = tc
	t.total.Add(1)

	var depsRemaining int32

	for _, depID := range cmd.DependsOn {
		dep, ok := t.commands[depID]
		if !ok {
			// Dependency not part of this plan, or not added yet —
			// treat as satisfied.
			continue
		}

		dep.dependents = append(dep.dependents, tc)
		depsRemaining++
	}

	tc.depsLeft.Store(depsRemaining)

	if depsRemaining == 0 {
		t.dispatch(tc)
	}
}

// Complete marks cmd as done, decrementing every dependent's remaining
// count and dispatching any that reach zero. Closes Done() once every
// added command has completed.
func (t *Tracker) Complete(id uint64) {
	t.mu.Lock()
	tc, ok := t.commands[id]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("executor: Complete called with untracked command ID", slog.Uint64("id", id))

		if t.completed.Add(1) == t.total.Load() {
			close(t.done)
		}

		return
	}

	dependents := make([]*TrackedCommand, len(tc.dependents))
	copy(dependents, tc.dependents)
	t.mu.Unlock()

	for _, dep := range dependents {
		if dep.depsLeft.Add(-1) == 0 {
			t.dispatch(dep)
		}
	}

	if t.completed.Add(1) == t.total.Load() {
		close(t.done)
	}
}

// Ready returns the channel workers read tracked commands from.
func (t *Tracker) Ready() <-chan *TrackedCommand {
	return t.ready
}

// Done returns a channel closed once every command added to the tracker
// has been completed.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// InFlightCount returns the number of added commands not yet completed.
func (t *Tracker) InFlightCount() int {
	return int(t.total.Load() - t.completed.Load())
}

func (t *Tracker) dispatch(tc *TrackedCommand) {
	t.ready <- tc
}
