package uidmap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
)

// Counter is a persistent, atomic, monotonically increasing UID generator.
// Two disjoint instances are kept — one for node UIDs, one for content
// UIDs — so that a content_uid can never collide with a node_uid even
// though both are drawn from the same uint64 space.
type Counter struct {
	mu     sync.Mutex
	db     *sql.DB
	name   string
	next   uint64
	logger *slog.Logger
}

// loadCounter reads the persisted next_value for name, defaulting to 1
// (0 is reserved as NullUID) if no row exists yet.
func loadCounter(ctx context.Context, db *sql.DB, name string, logger *slog.Logger) (*Counter, error) {
	var next uint64

	err := db.QueryRowContext(ctx, `SELECT next_value FROM uid_counter WHERE name = ?`, name).Scan(&next)
	switch {
	case err == sql.ErrNoRows:
		next = 1
		if _, err := db.ExecContext(ctx, `INSERT INTO uid_counter (name, next_value) VALUES (?, ?)`, name, next); err != nil {
			return nil, fmt.Errorf("uidmap: initializing counter %q: %w", name, err)
		}
	case err != nil:
		return nil, fmt.Errorf("uidmap: loading counter %q: %w", name, err)
	}

	return &Counter{db: db, name: name, next: next, logger: logger}, nil
}

// Next returns the next UID and persists the advanced counter immediately.
// Restart recovery is simply reading next_value back on Open — no
// in-memory-ahead-of-disk window survives a crash with this scheme.
func (c *Counter) Next(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	uid := c.next
	c.next++

	if _, err := c.db.ExecContext(ctx, `UPDATE uid_counter SET next_value = ? WHERE name = ?`, c.next, c.name); err != nil {
		c.next--
		return 0, fmt.Errorf("uidmap: persisting counter %q: %w", c.name, err)
	}

	return uid, nil
}

// ObserveHint advances the counter past uid if uid is at or beyond the
// current watermark, without allocating a UID. Used when a hinted
// identifier (e.g. recovered from a cloud ID mapping or an imported path
// mapping) reveals a UID higher than anything this counter has issued —
// the watermark must jump past it so future Next() calls never collide.
func (c *Counter) ObserveHint(ctx context.Context, uid uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if uid < c.next {
		return nil
	}

	newNext := uid + 1

	if _, err := c.db.ExecContext(ctx, `UPDATE uid_counter SET next_value = ? WHERE name = ?`, newNext, c.name); err != nil {
		return fmt.Errorf("uidmap: persisting counter %q watermark: %w", c.name, err)
	}

	c.next = newNext

	return nil
}
