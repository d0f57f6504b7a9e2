package executor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tonimelisma/treesync/internal/node"
	"github.com/tonimelisma/treesync/internal/planner"
	_ "modernc.org/sqlite"
)

// Store is the pending-ops log: every command is recorded here before it
// is dispatched, so a crash mid-execution can be recovered from on
// restart (spec.md §4.K crash-safety requirement).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenStore opens (creating if necessary) the pending_ops.db database.
func OpenStore(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("executor: opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("executor: setting pragma: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CommitPending records cmd as NOT_STARTED before it may be dispatched.
func (s *Store) CommitPending(ctx context.Context, cmd *planner.Command, nowNano int64) error {
	deps := make([]string, len(cmd.DependsOn))
	for i, d := range cmd.DependsOn {
		deps[i] = strconv.FormatUint(d, 10)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_change (command_id, command_type, src_guid, dst_guid, depends_on, state, created_ts)
		VALUES (?, ?, ?, ?, ?, 'NOT_STARTED', ?)
		ON CONFLICT(command_id) DO NOTHING`,
		cmd.ID, cmd.Type.String(), guidOf(cmd.SrcNode), guidOf(cmd.DstNode), strings.Join(deps, ","), nowNano)
	if err != nil {
		return fmt.Errorf("executor: committing pending command %d: %w", cmd.ID, err)
	}

	return nil
}

// MarkExecuting transitions a pending command's on-disk state to
// EXECUTING, the last write before I/O begins.
func (s *Store) MarkExecuting(ctx context.Context, commandID uint64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pending_change SET state = 'EXECUTING' WHERE command_id = ?`, commandID)
	if err != nil {
		return fmt.Errorf("executor: marking command %d executing: %w", commandID, err)
	}

	return nil
}

// MarkCompleted moves a command from pending_change to completed_change.
func (s *Store) MarkCompleted(ctx context.Context, commandID uint64, commandType string, nowNano int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("executor: beginning completion transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_change WHERE command_id = ?`, commandID); err != nil {
		tx.Rollback()
		return fmt.Errorf("executor: clearing pending command %d: %w", commandID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO completed_change (command_id, command_type, completed_ts) VALUES (?, ?, ?)
		 ON CONFLICT(command_id) DO NOTHING`, commandID, commandType, nowNano); err != nil {
		tx.Rollback()
		return fmt.Errorf("executor: recording completed command %d: %w", commandID, err)
	}

	return tx.Commit()
}

// MarkFailed moves a command from pending_change to failed_change.
func (s *Store) MarkFailed(ctx context.Context, commandID uint64, commandType string, errMsg string, nowNano int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("executor: beginning failure transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_change WHERE command_id = ?`, commandID); err != nil {
		tx.Rollback()
		return fmt.Errorf("executor: clearing pending command %d: %w", commandID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO failed_change (command_id, command_type, error, failed_ts) VALUES (?, ?, ?, ?)
		 ON CONFLICT(command_id) DO NOTHING`, commandID, commandType, errMsg, nowNano); err != nil {
		tx.Rollback()
		return fmt.Errorf("executor: recording failed command %d: %w", commandID, err)
	}

	return tx.Commit()
}

// PendingCommandIDs returns every command_id still recorded in
// pending_change, split by whether it had reached EXECUTING before the
// process stopped. Commands in EXECUTING must be re-dispatched on
// restart since their outcome is unknown; idempotent command execution
// makes this safe.
func (s *Store) PendingCommandIDs(ctx context.Context) (executing []uint64, notStarted []uint64, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT command_id, state FROM pending_change`)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: loading pending commands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uint64
		var state string

		if err := rows.Scan(&id, &state); err != nil {
			return nil, nil, fmt.Errorf("executor: scanning pending command: %w", err)
		}

		if state == "EXECUTING" {
			executing = append(executing, id)
		} else {
			notStarted = append(notStarted, id)
		}
	}

	return executing, notStarted, rows.Err()
}

// guidOf renders n's stable GUID for persistence, using its first known
// path. Returns "" for a nil node (DstNode is absent on most command types).
func guidOf(n node.Node) string {
	if n == nil {
		return ""
	}

	id := n.Ident()
	if len(id.PathList) == 0 {
		return id.SPID("").GUID()
	}

	return id.SPID(id.PathList[0]).GUID()
}
