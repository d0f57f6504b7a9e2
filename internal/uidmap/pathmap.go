package uidmap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// defaultHoldOffMs is the default write-behind batching window.
const defaultHoldOffMs = 1000

type pathKey struct {
	deviceUID uint64
	path      string
}

type uidKey struct {
	deviceUID uint64
	nodeUID   uint64
}

// PathMapper is the bidirectional path<->uid mapper for a device tree.
// New bindings and rebindings are buffered in memory and written to SQLite
// by a single background goroutine on a hold-off timer, rather than
// synchronously on every call.
type PathMapper struct {
	mu      sync.Mutex
	db      *sql.DB
	counter *Counter
	holdOff time.Duration
	logger  *slog.Logger

	byPath map[pathKey]uint64
	byUID  map[uidKey]string
	dirty  map[pathKey]uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

func newPathMapper(ctx context.Context, db *sql.DB, holdOffMs int, logger *slog.Logger) (*PathMapper, error) {
	pm := &PathMapper{
		db:      db,
		holdOff: time.Duration(holdOffMs) * time.Millisecond,
		logger:  logger,
		byPath:  make(map[pathKey]uint64),
		byUID:   make(map[uidKey]string),
		dirty:   make(map[pathKey]uint64),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := pm.loadAll(ctx); err != nil {
		return nil, err
	}

	go pm.flushLoop()

	return pm, nil
}

// SetCounter wires the node-UID counter used to mint new UIDs for paths
// that have never been seen. Split from the constructor since the store
// wires counters and mappers independently.
func (pm *PathMapper) SetCounter(c *Counter) {
	pm.counter = c
}

func (pm *PathMapper) loadAll(ctx context.Context) error {
	rows, err := pm.db.QueryContext(ctx, `SELECT device_uid, node_uid, path FROM uid_path_map`)
	if err != nil {
		return fmt.Errorf("uidmap: loading path map: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k pathKey
		var uid uint64
		if err := rows.Scan(&k.deviceUID, &uid, &k.path); err != nil {
			return fmt.Errorf("uidmap: scanning path map row: %w", err)
		}

		pm.byPath[k] = uid
		pm.byUID[uidKey{k.deviceUID, uid}] = k.path
	}

	return rows.Err()
}

// UIDForPath returns the UID bound to path on deviceUID, minting and
// binding a fresh one via the wired Counter if no binding exists yet.
func (pm *PathMapper) UIDForPath(ctx context.Context, deviceUID uint64, path string) (uint64, error) {
	pm.mu.Lock()
	k := pathKey{deviceUID, path}
	if uid, ok := pm.byPath[k]; ok {
		pm.mu.Unlock()
		return uid, nil
	}
	pm.mu.Unlock()

	if pm.counter == nil {
		return 0, fmt.Errorf("uidmap: no counter wired for path mapper")
	}

	uid, err := pm.counter.Next(ctx)
	if err != nil {
		return 0, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	// Another caller may have raced us and already bound this path; keep
	// the winner's binding and don't burn the UID we just minted on a
	// collision (it simply goes unused, which is fine for a monotonic
	// counter).
	if existing, ok := pm.byPath[k]; ok {
		return existing, nil
	}

	pm.bindLocked(k, uid)

	return uid, nil
}

// BindHint records an externally-observed (path, uid) binding — e.g. from
// a cloud listing or an imported path mapping. If path is already bound to
// a different uid, the existing binding is kept and a warning is logged;
// hints never override an established mapping.
func (pm *PathMapper) BindHint(ctx context.Context, deviceUID, uid uint64, path string) error {
	if pm.counter != nil {
		if err := pm.counter.ObserveHint(ctx, uid); err != nil {
			return err
		}
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	k := pathKey{deviceUID, path}

	if existing, ok := pm.byPath[k]; ok {
		if existing != uid {
			pm.logger.Warn("uidmap: conflicting uid hint for path, keeping existing binding",
				slog.Uint64("device_uid", deviceUID),
				slog.String("path", path),
				slog.Uint64("existing_uid", existing),
				slog.Uint64("hinted_uid", uid),
			)
		}

		return nil
	}

	pm.bindLocked(k, uid)

	return nil
}

// bindLocked must be called with pm.mu held.
func (pm *PathMapper) bindLocked(k pathKey, uid uint64) {
	pm.byPath[k] = uid
	pm.byUID[uidKey{k.deviceUID, uid}] = k.path
	pm.dirty[k] = uid
}

// PathForUID returns the path bound to (deviceUID, uid), if any.
func (pm *PathMapper) PathForUID(deviceUID, uid uint64) (string, bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	path, ok := pm.byUID[uidKey{deviceUID, uid}]

	return path, ok
}

// Rebind moves a uid's binding from oldPath to newPath (a filesystem move
// or rename). Returns an error if oldPath was not bound.
func (pm *PathMapper) Rebind(deviceUID, uid uint64, oldPath, newPath string) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	oldKey := pathKey{deviceUID, oldPath}
	if pm.byPath[oldKey] != uid {
		return fmt.Errorf("uidmap: rebind: %s is not bound to uid %d", oldPath, uid)
	}

	delete(pm.byPath, oldKey)

	newKey := pathKey{deviceUID, newPath}
	pm.bindLocked(newKey, uid)

	return nil
}

func (pm *PathMapper) flushLoop() {
	defer close(pm.doneCh)

	ticker := time.NewTicker(pm.holdOff)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pm.flush(context.Background())
		case <-pm.stopCh:
			pm.flush(context.Background())
			return
		}
	}
}

func (pm *PathMapper) flush(ctx context.Context) {
	pm.mu.Lock()
	if len(pm.dirty) == 0 {
		pm.mu.Unlock()
		return
	}

	batch := pm.dirty
	pm.dirty = make(map[pathKey]uint64)
	pm.mu.Unlock()

	tx, err := pm.db.BeginTx(ctx, nil)
	if err != nil {
		pm.logger.Error("uidmap: path flush begin failed", slog.String("error", err.Error()))
		return
	}

	for k, uid := range batch {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO uid_path_map (device_uid, node_uid, path) VALUES (?, ?, ?)
			 ON CONFLICT(device_uid, path) DO UPDATE SET node_uid = excluded.node_uid`,
			k.deviceUID, uid, k.path)
		if err != nil {
			pm.logger.Error("uidmap: path flush write failed", slog.String("error", err.Error()))
			tx.Rollback()
			return
		}
	}

	if err := tx.Commit(); err != nil {
		pm.logger.Error("uidmap: path flush commit failed", slog.String("error", err.Error()))
	}
}

// Close stops the flush goroutine and performs one final synchronous
// flush so no dirty binding is lost on shutdown.
func (pm *PathMapper) Close() error {
	close(pm.stopCh)
	<-pm.doneCh

	return nil
}
