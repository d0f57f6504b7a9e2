// Package contentmeta implements content-addressed dedup (module D): a
// get-or-create store keyed by (size, md5?, sha256?) that hands out a
// shared content_uid to every node whose bytes match, so the differ can
// pair nodes by content instead of by path.
package contentmeta

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tonimelisma/treesync/internal/node"
	"github.com/tonimelisma/treesync/internal/uidmap"
	_ "modernc.org/sqlite"
)

// ContentMeta is a single deduplicated content record.
type ContentMeta struct {
	ContentUID uint64
	Size       int64
	MD5        string
	SHA256     string
	Refcount   int64
}

// Unknown is the sentinel ContentMeta for nodes whose content has not been
// hashed yet (e.g. a freshly discovered local file, pending the signature
// calculator). It is never persisted.
var Unknown = ContentMeta{ContentUID: node.NullUID}

// Store is the content-meta database: get-or-create plus lazy GC.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	counter *uidmap.Counter
	logger  *slog.Logger
}

// Open opens the content.db database, applies migrations, and wires the
// content-uid counter (a disjoint uidmap.Counter instance, distinct from
// the node-uid counter, so content UIDs and node UIDs never collide).
func Open(ctx context.Context, dbPath string, counter *uidmap.Counter, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("contentmeta: opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("contentmeta: setting pragma: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, counter: counter, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the shared ContentMeta for the given (size, md5?,
// sha256?) triple, creating one and incrementing its refcount if no match
// exists, or incrementing the refcount of an existing match. If both md5
// and sha256 are empty, Unknown is returned without touching the database —
// a node with unknown content never shares a content_uid with anything.
func (s *Store) GetOrCreate(ctx context.Context, size int64, md5, sha256 string) (ContentMeta, error) {
	if md5 == "" && sha256 == "" {
		return Unknown, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok, err := s.lookup(ctx, size, md5, sha256); err != nil {
		return ContentMeta{}, err
	} else if ok {
		if _, err := s.db.ExecContext(ctx, `UPDATE content SET refcount = refcount + 1 WHERE content_uid = ?`, existing.ContentUID); err != nil {
			return ContentMeta{}, fmt.Errorf("contentmeta: incrementing refcount: %w", err)
		}

		existing.Refcount++

		return existing, nil
	}

	uid, err := s.counter.Next(ctx)
	if err != nil {
		return ContentMeta{}, err
	}

	cm := ContentMeta{ContentUID: uid, Size: size, MD5: md5, SHA256: sha256, Refcount: 1}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO content (content_uid, size, md5, sha256, refcount) VALUES (?, ?, ?, ?, 1)`,
		cm.ContentUID, cm.Size, nullableString(md5), nullableString(sha256))
	if err != nil {
		return ContentMeta{}, fmt.Errorf("contentmeta: inserting content row: %w", err)
	}

	return cm, nil
}

func (s *Store) lookup(ctx context.Context, size int64, md5, sha256 string) (ContentMeta, bool, error) {
	var row *sql.Row

	switch {
	case md5 != "":
		row = s.db.QueryRowContext(ctx,
			`SELECT content_uid, size, COALESCE(md5, ''), COALESCE(sha256, ''), refcount FROM content WHERE md5 = ? AND size = ?`,
			md5, size)
	case sha256 != "":
		row = s.db.QueryRowContext(ctx,
			`SELECT content_uid, size, COALESCE(md5, ''), COALESCE(sha256, ''), refcount FROM content WHERE sha256 = ? AND size = ?`,
			sha256, size)
	default:
		return ContentMeta{}, false, nil
	}

	var cm ContentMeta

	err := row.Scan(&cm.ContentUID, &cm.Size, &cm.MD5, &cm.SHA256, &cm.Refcount)
	switch {
	case err == sql.ErrNoRows:
		if md5 != "" && sha256 != "" {
			return s.lookup(ctx, size, "", sha256)
		}

		return ContentMeta{}, false, nil
	case err != nil:
		return ContentMeta{}, false, fmt.Errorf("contentmeta: looking up content: %w", err)
	}

	return cm, true, nil
}

// Release decrements the refcount for contentUID. The row is not deleted
// immediately — GCZeroRefcount reaps zero-refcount rows lazily, since a
// node's removal and its replacement with identical content often happen
// back-to-back and immediate deletion would just force a re-create.
func (s *Store) Release(ctx context.Context, contentUID uint64) error {
	if contentUID == node.NullUID {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE content SET refcount = MAX(refcount - 1, 0) WHERE content_uid = ?`, contentUID)
	if err != nil {
		return fmt.Errorf("contentmeta: releasing content %d: %w", contentUID, err)
	}

	return nil
}

// GCZeroRefcount deletes every content row whose refcount has reached
// zero. Intended to be called periodically by the cache manager's
// background maintenance pass, not on every release.
func (s *Store) GCZeroRefcount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM content WHERE refcount <= 0`)
	if err != nil {
		return 0, fmt.Errorf("contentmeta: GC: %w", err)
	}

	return res.RowsAffected()
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
