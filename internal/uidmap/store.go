// Package uidmap implements the UID generator and the persistent
// path<->uid and cloud-id<->uid bidirectional mappers (module A). Writes
// are buffered behind a hold-off timer, a single goroutine per mapper that
// batches dirty state and flushes it to SQLite, mirroring the write-behind
// idiom the teacher's sync package uses for its delta cursor.
package uidmap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"
)

// walJournalSizeLimit caps the WAL file at 64 MiB before a checkpoint is
// forced, the same limit the teacher's sync store uses.
const walJournalSizeLimit = 67108864

// Store owns the uidmap database: the UID counters and the two bidirectional
// mappers built on top of them.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	NodeUIDCounter    *Counter
	ContentUIDCounter *Counter
	PathMapper        *PathMapper
	CloudIDMapper     *CloudIDMapper
}

// Open opens (creating if necessary) the uid-map database at dbPath,
// applies migrations, and constructs the two disjoint UID counters plus
// both mappers. holdOffMs is the write-behind batching window; 0 selects
// the default of 1000ms per the spec's hold-off-timer default.
func Open(ctx context.Context, dbPath string, holdOffMs int, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("uidmap: opening database: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if holdOffMs <= 0 {
		holdOffMs = defaultHoldOffMs
	}

	nodeCounter, err := loadCounter(ctx, db, "node_uid", logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	contentCounter, err := loadCounter(ctx, db, "content_uid", logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	pm, err := newPathMapper(ctx, db, holdOffMs, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	pm.SetCounter(nodeCounter)

	cm, err := newCloudIDMapper(ctx, db, holdOffMs, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	cm.SetCounter(nodeCounter)

	return &Store{
		db:                db,
		logger:            logger,
		NodeUIDCounter:    nodeCounter,
		ContentUIDCounter: contentCounter,
		PathMapper:        pm,
		CloudIDMapper:     cm,
	}, nil
}

// setPragmas configures WAL journaling the way every sqlite-backed store in
// this repo does, following the teacher's sync store convention.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("uidmap: setting pragma %q: %w", p, err)
		}
	}

	return nil
}

// Close flushes both mappers and closes the database. Safe to call once.
func (s *Store) Close() error {
	return multierr.Combine(
		s.PathMapper.Close(),
		s.CloudIDMapper.Close(),
		s.db.Close(),
	)
}
