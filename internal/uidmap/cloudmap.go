package uidmap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type cloudKey struct {
	deviceUID uint64
	cloudID   string
}

// CloudIDMapper is the bidirectional cloud-id<->uid mapper for a cloud
// device tree, structured identically to PathMapper: in-memory maps plus
// a hold-off-timer write-behind goroutine.
type CloudIDMapper struct {
	mu      sync.Mutex
	db      *sql.DB
	counter *Counter
	holdOff time.Duration
	logger  *slog.Logger

	byCloudID map[cloudKey]uint64
	byUID     map[uidKey]string
	dirty     map[cloudKey]uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

func newCloudIDMapper(ctx context.Context, db *sql.DB, holdOffMs int, logger *slog.Logger) (*CloudIDMapper, error) {
	cm := &CloudIDMapper{
		db:        db,
		holdOff:   time.Duration(holdOffMs) * time.Millisecond,
		logger:    logger,
		byCloudID: make(map[cloudKey]uint64),
		byUID:     make(map[uidKey]string),
		dirty:     make(map[cloudKey]uint64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	if err := cm.loadAll(ctx); err != nil {
		return nil, err
	}

	go cm.flushLoop()

	return cm, nil
}

// SetCounter wires the node-UID counter used to mint new UIDs for cloud
// IDs that have never been seen.
func (cm *CloudIDMapper) SetCounter(c *Counter) {
	cm.counter = c
}

func (cm *CloudIDMapper) loadAll(ctx context.Context) error {
	rows, err := cm.db.QueryContext(ctx, `SELECT device_uid, node_uid, cloud_id FROM uid_cloud_id_map`)
	if err != nil {
		return fmt.Errorf("uidmap: loading cloud id map: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k cloudKey
		var uid uint64
		if err := rows.Scan(&k.deviceUID, &uid, &k.cloudID); err != nil {
			return fmt.Errorf("uidmap: scanning cloud id map row: %w", err)
		}

		cm.byCloudID[k] = uid
		cm.byUID[uidKey{k.deviceUID, uid}] = k.cloudID
	}

	return rows.Err()
}

// UIDForCloudID returns the UID bound to cloudID, minting and binding a
// fresh one if no binding exists yet.
func (cm *CloudIDMapper) UIDForCloudID(ctx context.Context, deviceUID uint64, cloudID string) (uint64, error) {
	cm.mu.Lock()
	k := cloudKey{deviceUID, cloudID}
	if uid, ok := cm.byCloudID[k]; ok {
		cm.mu.Unlock()
		return uid, nil
	}
	cm.mu.Unlock()

	if cm.counter == nil {
		return 0, fmt.Errorf("uidmap: no counter wired for cloud id mapper")
	}

	uid, err := cm.counter.Next(ctx)
	if err != nil {
		return 0, err
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	if existing, ok := cm.byCloudID[k]; ok {
		return existing, nil
	}

	cm.bindLocked(k, uid)

	return uid, nil
}

// BindHint records an externally-observed (cloud_id, uid) binding. If
// cloudID is already bound to a different uid, the existing binding wins
// and a warning is logged.
func (cm *CloudIDMapper) BindHint(ctx context.Context, deviceUID, uid uint64, cloudID string) error {
	if cm.counter != nil {
		if err := cm.counter.ObserveHint(ctx, uid); err != nil {
			return err
		}
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	k := cloudKey{deviceUID, cloudID}

	if existing, ok := cm.byCloudID[k]; ok {
		if existing != uid {
			cm.logger.Warn("uidmap: conflicting uid hint for cloud id, keeping existing binding",
				slog.Uint64("device_uid", deviceUID),
				slog.String("cloud_id", cloudID),
				slog.Uint64("existing_uid", existing),
				slog.Uint64("hinted_uid", uid),
			)
		}

		return nil
	}

	cm.bindLocked(k, uid)

	return nil
}

func (cm *CloudIDMapper) bindLocked(k cloudKey, uid uint64) {
	cm.byCloudID[k] = uid
	cm.byUID[uidKey{k.deviceUID, uid}] = k.cloudID
	cm.dirty[k] = uid
}

// CloudIDForUID returns the cloud id bound to (deviceUID, uid), if any.
func (cm *CloudIDMapper) CloudIDForUID(deviceUID, uid uint64) (string, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	id, ok := cm.byUID[uidKey{deviceUID, uid}]

	return id, ok
}

func (cm *CloudIDMapper) flushLoop() {
	defer close(cm.doneCh)

	ticker := time.NewTicker(cm.holdOff)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.flush(context.Background())
		case <-cm.stopCh:
			cm.flush(context.Background())
			return
		}
	}
}

func (cm *CloudIDMapper) flush(ctx context.Context) {
	cm.mu.Lock()
	if len(cm.dirty) == 0 {
		cm.mu.Unlock()
		return
	}

	batch := cm.dirty
	cm.dirty = make(map[cloudKey]uint64)
	cm.mu.Unlock()

	tx, err := cm.db.BeginTx(ctx, nil)
	if err != nil {
		cm.logger.Error("uidmap: cloud id flush begin failed", slog.String("error", err.Error()))
		return
	}

	for k, uid := range batch {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO uid_cloud_id_map (device_uid, node_uid, cloud_id) VALUES (?, ?, ?)
			 ON CONFLICT(device_uid, cloud_id) DO UPDATE SET node_uid = excluded.node_uid`,
			k.deviceUID, uid, k.cloudID)
		if err != nil {
			cm.logger.Error("uidmap: cloud id flush write failed", slog.String("error", err.Error()))
			tx.Rollback()
			return
		}
	}

	if err := tx.Commit(); err != nil {
		cm.logger.Error("uidmap: cloud id flush commit failed", slog.String("error", err.Error()))
	}
}

// Close stops the flush goroutine and performs one final synchronous flush.
func (cm *CloudIDMapper) Close() error {
	close(cm.stopCh)
	<-cm.doneCh

	return nil
}
