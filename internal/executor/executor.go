// Package executor implements the operation executor / sequencer (module
// K): it pulls dependency-satisfied commands from the planner's DAG,
// runs each on its own worker pool, performs the underlying I/O, and
// reports the resulting tree-store effects. Crash safety is provided by a
// pending-ops log committed before any command is dispatched (store.go),
// so an EXECUTING command can be re-run on restart. Local mkdir, local
// delete and local rename treat an already-applied state as success;
// copies, uploads and downloads do not compare against an existing
// destination and are redone in full.
//
// Grounded on the teacher's internal/sync/worker.go WorkerPool (the
// minWorkers floor, the capped diagnostic error list, the
// panic-recovery wrapper) paired with tracker.go's DepTracker, adapted
// from path-keyed one-shot sync actions to the command DAG module J
// produces.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"

	"github.com/tonimelisma/treesync/internal/node"
	"github.com/tonimelisma/treesync/internal/planner"
)

// minWorkers is the floor for total worker count, matching the teacher's
// worker.go constant.
const minWorkers = 4

// maxRecordedErrors caps the diagnostic error slice so a long sync run
// doesn't grow it unbounded; the failed counter stays accurate regardless.
const maxRecordedErrors = 1000

var errUnknownCommandType = errors.New("executor: unknown command type in dispatch")

// Clock supplies the current time as unix nanoseconds, so tests can
// control timestamps without depending on time.Now directly.
type Clock func() int64

// Executor drives a planner.Plan's commands to completion: it commits each
// to the pending-ops log, tracks dependencies via Tracker, and fans work
// out across a worker pool.
type Executor struct {
	store   *Store
	local   *LocalTransferer
	gdrive  GDriveClient
	logger  *slog.Logger
	clock   Clock
	workers int

	tracker *Tracker

	succeeded atomic.Int32
	failed    atomic.Int32
	errors    []error
	errorsMu  stdsync.Mutex
	dropped   atomic.Int64

	results chan UserOpResult

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates an Executor. workers is the desired worker-pool size; it is
// floored at minWorkers. gdrive may be nil if no GDrive-side commands will
// ever be dispatched (e.g. a single-device local-only configuration).
func New(store *Store, gdrive GDriveClient, logger *slog.Logger, clock Clock, workers int) *Executor {
	if workers < minWorkers {
		workers = minWorkers
	}

	return &Executor{
		store:   store,
		local:   NewLocalTransferer(),
		gdrive:  gdrive,
		logger:  logger,
		clock:   clock,
		workers: workers,
	}
}

// Run commits every command in plan to the pending-ops log, builds a
// Tracker over plan's dependency edges, starts the worker pool, and blocks
// until every command reaches a terminal state. Returns the per-command
// results in no particular order; a UserOpResult does not record which
// command produced it.
func (e *Executor) Run(ctx context.Context, plan *planner.Plan) ([]UserOpResult, error) {
	e.tracker = NewTracker(len(plan.Commands), e.logger)
	e.results = make(chan UserOpResult, max(len(plan.Commands), 1))

	for _, cmd := range plan.Commands {
		if err := e.store.CommitPending(ctx, cmd, e.clock()); err != nil {
			return nil, err
		}
	}

	for _, cmd := range plan.Commands {
		e.tracker.Add(cmd)
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	for range e.workers {
		e.wg.Add(1)
		go e.worker(runCtx)
	}

	e.logger.Info("executor: worker pool started", slog.Int("workers", e.workers))

	<-e.tracker.Done()

	cancel()
	e.wg.Wait()
	close(e.results)

	results := make([]UserOpResult, 0, len(plan.Commands))
	for r := range e.results {
		results = append(results, r)
	}

	return results, nil
}

// Stats returns execution counters and any errors collected during the run.
func (e *Executor) Stats() (succeeded, failed int, errs []error) {
	e.errorsMu.Lock()
	defer e.errorsMu.Unlock()

	out := make([]error, len(e.errors))
	copy(out, e.errors)

	return int(e.succeeded.Load()), int(e.failed.Load()), out
}

// PendingFromPreviousRun reports commands left over in the pending-ops log
// from a prior process: ids in executing had reached EXECUTING (so must
// be re-dispatched under the idempotent-command contract); ids in
// notStarted had been committed but never begun. The caller is
// responsible for reconstructing the corresponding planner.Commands (via
// the originating tree stores, keyed by the GUIDs recorded in
// pending_change) and resubmitting them through Run.
func (e *Executor) PendingFromPreviousRun(ctx context.Context) (executing, notStarted []uint64, err error) {
	return e.store.PendingCommandIDs(ctx)
}

func (e *Executor) worker(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.tracker.Done():
			return
		case tc := <-e.tracker.Ready():
			if tc == nil {
				continue
			}

			e.safeExecute(ctx, tc)
		}
	}
}

// safeExecute wraps execute with panic recovery so one command's panic
// doesn't take down the whole pool, mirroring the teacher's
// safeExecuteAction.
func (e *Executor) safeExecute(ctx context.Context, tc *TrackedCommand) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("executor: panic executing command",
				slog.Uint64("command_id", tc.Command.ID),
				slog.Any("panic", r),
			)
			e.recordFailure(fmt.Errorf("panic: %v", r))
			e.emit(UserOpResult{Status: StatusStoppedOnError, Err: fmt.Errorf("panic: %v", r)})
			e.finish(ctx, tc, fmt.Sprintf("panic: %v", r))
		}
	}()

	e.execute(ctx, tc)
}

func (e *Executor) execute(ctx context.Context, tc *TrackedCommand) {
	cmd := tc.Command

	if err := e.store.MarkExecuting(ctx, cmd.ID); err != nil {
		e.recordFailure(err)
		e.emit(UserOpResult{Status: StatusStoppedOnError, Err: err})
		e.finish(ctx, tc, err.Error())

		return
	}

	result := e.dispatch(ctx, cmd)

	now := e.clock()

	if result.Status == StatusStoppedOnError {
		errMsg := ""
		if result.Err != nil {
			errMsg = result.Err.Error()
		}

		if err := e.store.MarkFailed(ctx, cmd.ID, cmd.Type.String(), errMsg, now); err != nil {
			e.logger.Error("executor: recording failed command", slog.Uint64("command_id", cmd.ID), slog.String("error", err.Error()))
		}

		e.recordFailure(result.Err)
	} else {
		if err := e.store.MarkCompleted(ctx, cmd.ID, cmd.Type.String(), now); err != nil {
			e.logger.Error("executor: recording completed command", slog.Uint64("command_id", cmd.ID), slog.String("error", err.Error()))
		}

		e.succeeded.Add(1)
	}

	e.emit(result)
	e.tracker.Complete(cmd.ID)
}

// finish records a result for a command that failed before dispatch could
// even run (e.g. panic, pending-log write failure) and completes it.
func (e *Executor) finish(ctx context.Context, tc *TrackedCommand, errMsg string) {
	now := e.clock()
	if err := e.store.MarkFailed(ctx, tc.Command.ID, tc.Command.Type.String(), errMsg, now); err != nil {
		e.logger.Error("executor: recording failed command", slog.Uint64("command_id", tc.Command.ID), slog.String("error", err.Error()))
	}

	e.tracker.Complete(tc.Command.ID)
}

func (e *Executor) recordFailure(err error) {
	if err == nil {
		return
	}

	e.failed.Add(1)
	e.errorsMu.Lock()
	defer e.errorsMu.Unlock()

	if len(e.errors) >= maxRecordedErrors {
		e.dropped.Add(1)
		return
	}

	e.errors = append(e.errors, err)
}

func (e *Executor) emit(r UserOpResult) {
	select {
	case e.results <- r:
	default:
		e.logger.Warn("executor: results channel full, dropping result")
	}
}

// dispatch routes cmd to its concrete I/O implementation and builds the
// UserOpResult the caller's tree store will apply.
func (e *Executor) dispatch(ctx context.Context, cmd *planner.Command) UserOpResult {
	switch cmd.Type {
	case planner.CmdCreateLocalDir:
		return e.execCreateLocalDir(cmd)
	case planner.CmdCreateGDriveFolder:
		return e.execCreateGDriveFolder(ctx, cmd)
	case planner.CmdDeleteLocal:
		return e.execDeleteLocal(cmd)
	case planner.CmdDeleteGDrive:
		return e.execDeleteGDrive(ctx, cmd)
	case planner.CmdCopyLocalLocal, planner.CmdOverwriteLocalLocal:
		return e.execCopyLocalLocal(ctx, cmd)
	case planner.CmdCopyWithinGDrive, planner.CmdOverwriteWithinGDrive:
		return e.execCopyWithinGDrive(ctx, cmd)
	case planner.CmdUploadLocalToGDrive, planner.CmdOverwriteUpload:
		return e.execUpload(ctx, cmd)
	case planner.CmdDownloadGDriveToLocal, planner.CmdOverwriteDownload:
		return e.execDownload(ctx, cmd)
	case planner.CmdMoveLocalLocal:
		return e.execMoveLocalLocal(cmd)
	case planner.CmdMoveWithinGDrive:
		return e.execMoveWithinGDrive(ctx, cmd)
	case planner.CmdUploadThenDeleteSrc:
		return e.execUploadThenDeleteSrc(ctx, cmd)
	case planner.CmdDownloadThenDeleteSrc:
		return e.execDownloadThenDeleteSrc(ctx, cmd)
	default:
		return UserOpResult{Status: StatusStoppedOnError, Err: fmt.Errorf("%w: %v", errUnknownCommandType, cmd.Type)}
	}
}

func localPath(n node.Node) (string, bool) {
	if n == nil {
		return "", false
	}

	paths := n.Ident().PathList
	if len(paths) == 0 {
		return "", false
	}

	return paths[0], true
}

func googID(n node.Node) (string, bool) {
	switch v := n.(type) {
	case *node.GDriveFile:
		return v.GoogID, true
	case *node.GDriveFolder:
		return v.GoogID, true
	default:
		return "", false
	}
}

func deviceUID(n node.Node) uint64 {
	if n == nil {
		return 0
	}

	return n.Ident().DeviceUID
}

func nameFromPath(p string) string {
	return filepath.Base(p)
}
