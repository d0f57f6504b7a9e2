// Package treestore implements the per-device tree store (module C): an
// in-memory parent->children tree over node.Node, backed by a SQLite table
// cache split by node variant (local_dir, local_file, goog_folder,
// goog_file, goog_id_parent_mappings), mirroring the per-kind table split
// spec.md lays out for the persisted layout.
package treestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/tonimelisma/treesync/internal/node"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a UID has no known node.
var ErrNotFound = fmt.Errorf("treestore: node not found")

// ErrDirNotEmpty is returned by RemoveSingleNode when asked to remove a
// directory that still has children — callers must remove children first.
var ErrDirNotEmpty = fmt.Errorf("treestore: refusing to remove non-empty directory")

// BatchListener is invoked once per SubmitBatchOfChanges call, after the
// batch has been fully applied, carrying every node touched, and once per
// UpsertSingleNode/RemoveSingleNode call with that single node. The cache
// manager wires this to fire a single DISPLAY_TREE_CHANGED signal per
// batch rather than one per node.
type BatchListener func(upserted []node.Node, removed []node.SPID)

// Store is a single device's tree store. One Store exists per registered
// device (local disk root or GDrive account), owned exclusively by the
// cache manager.
type Store struct {
	mu        sync.Mutex
	db        *sql.DB
	deviceUID uint64
	logger    *slog.Logger

	nodes    map[uint64]node.Node
	children map[uint64]map[uint64]struct{}

	// contentIndex maps a content_uid to every node UID currently holding
	// it, an optional index used by the differ to pair nodes by content
	// without a full tree scan.
	contentIndex map[uint64]map[uint64]struct{}

	listeners []BatchListener
}

// Open opens (creating if necessary) a device's cache database, applies
// migrations, and loads the on-disk table cache into memory.
func Open(ctx context.Context, dbPath string, deviceUID uint64, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("treestore: opening database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("treestore: setting pragma: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:           db,
		deviceUID:    deviceUID,
		logger:       logger,
		nodes:        make(map[uint64]node.Node),
		children:     make(map[uint64]map[uint64]struct{}),
		contentIndex: make(map[uint64]map[uint64]struct{}),
	}

	if err := s.loadAll(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// OnBatchApplied registers a listener invoked after each batch commit.
func (s *Store) OnBatchApplied(l BatchListener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners = append(s.listeners, l)
}

func (s *Store) indexLocked(n node.Node) {
	uid := n.Ident().NodeUID
	s.nodes[uid] = n

	for _, parentUID := range n.ParentUIDs() {
		if s.children[parentUID] == nil {
			s.children[parentUID] = make(map[uint64]struct{})
		}

		s.children[parentUID][uid] = struct{}{}
	}

	if cuid := n.ContentUID(); cuid != node.NullUID {
		if s.contentIndex[cuid] == nil {
			s.contentIndex[cuid] = make(map[uint64]struct{})
		}

		s.contentIndex[cuid][uid] = struct{}{}
	}
}

func (s *Store) unindexLocked(uid uint64) {
	existing, ok := s.nodes[uid]
	if !ok {
		return
	}

	for _, parentUID := range existing.ParentUIDs() {
		if set, ok := s.children[parentUID]; ok {
			delete(set, uid)
			if len(set) == 0 {
				delete(s.children, parentUID)
			}
		}
	}

	if cuid := existing.ContentUID(); cuid != node.NullUID {
		if set, ok := s.contentIndex[cuid]; ok {
			delete(set, uid)
			if len(set) == 0 {
				delete(s.contentIndex, cuid)
			}
		}
	}

	delete(s.nodes, uid)
}

// GetNodeForUID returns the node bound to uid, if present.
func (s *Store) GetNodeForUID(uid uint64) (node.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[uid]

	return n, ok
}

// GetChildList returns the direct children of parentUID, sorted by UID for
// deterministic iteration.
func (s *Store) GetChildList(parentUID uint64) []node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.children[parentUID]
	if !ok {
		return nil
	}

	uids := make([]uint64, 0, len(set))
	for uid := range set {
		uids = append(uids, uid)
	}

	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	out := make([]node.Node, 0, len(uids))
	for _, uid := range uids {
		out = append(out, s.nodes[uid])
	}

	return out
}

// GetSubtreeBFS returns rootUID and every descendant in breadth-first order.
func (s *Store) GetSubtreeBFS(rootUID uint64) []node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.nodes[rootUID]
	if !ok {
		return nil
	}

	out := []node.Node{root}
	queue := []uint64{rootUID}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		set, ok := s.children[parent]
		if !ok {
			continue
		}

		uids := make([]uint64, 0, len(set))
		for uid := range set {
			uids = append(uids, uid)
		}

		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

		for _, uid := range uids {
			out = append(out, s.nodes[uid])
			queue = append(queue, uid)
		}
	}

	return out
}

// NodesByContentUID returns every node currently sharing contentUID.
func (s *Store) NodesByContentUID(contentUID uint64) []node.Node {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.contentIndex[contentUID]
	if !ok {
		return nil
	}

	out := make([]node.Node, 0, len(set))
	for uid := range set {
		out = append(out, s.nodes[uid])
	}

	return out
}

// UpsertSingleNode inserts or updates a node. If a node already exists at
// the same UID, UpdateFrom merges mutable fields onto the existing variant
// rather than replacing the stored value outright, preserving fields
// (like all_children_fetched) the new observation may not carry.
func (s *Store) UpsertSingleNode(ctx context.Context, n node.Node) error {
	s.mu.Lock()

	uid := n.Ident().NodeUID
	if existing, ok := s.nodes[uid]; ok {
		if err := existing.UpdateFrom(n); err == nil {
			n = existing
		}
	}

	s.unindexLocked(uid)
	s.indexLocked(n)
	s.mu.Unlock()

	if err := s.persistUpsert(ctx, n); err != nil {
		return err
	}

	s.notifyListeners([]node.Node{n}, nil)

	return nil
}

// RemoveSingleNode removes the node at uid. Refuses to remove a directory
// that still has children.
func (s *Store) RemoveSingleNode(ctx context.Context, uid uint64) error {
	s.mu.Lock()

	n, ok := s.nodes[uid]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}

	if n.IsDir() {
		if children, ok := s.children[uid]; ok && len(children) > 0 {
			s.mu.Unlock()
			return ErrDirNotEmpty
		}
	}

	s.unindexLocked(uid)
	s.mu.Unlock()

	if err := s.persistRemove(ctx, n); err != nil {
		return err
	}

	spid := n.Ident().SPID(firstPath(n))
	s.notifyListeners(nil, []node.SPID{spid})

	return nil
}

// SubmitBatchOfChanges applies a batch of removals and upserts atomically:
// removals bottom-up (deepest descendants first, so a directory is always
// empty by the time its own removal is processed), then upserts top-down
// (parents before children, so a child's parent always already exists),
// followed by a single batch-wide listener notification.
func (s *Store) SubmitBatchOfChanges(ctx context.Context, upserts []node.Node, removeUIDs []uint64) error {
	s.mu.Lock()

	sortedRemoves := s.sortRemovalsBottomUpLocked(removeUIDs)
	sortedUpserts := s.sortUpsertsTopDownLocked(upserts)

	var removedSPIDs []node.SPID

	for _, uid := range sortedRemoves {
		n, ok := s.nodes[uid]
		if !ok {
			continue
		}

		removedSPIDs = append(removedSPIDs, n.Ident().SPID(firstPath(n)))
		s.unindexLocked(uid)
	}

	finalUpserts := make([]node.Node, 0, len(sortedUpserts))

	for _, n := range sortedUpserts {
		uid := n.Ident().NodeUID
		if existing, ok := s.nodes[uid]; ok {
			if err := existing.UpdateFrom(n); err == nil {
				n = existing
			}

			s.unindexLocked(uid)
		}

		s.indexLocked(n)
		finalUpserts = append(finalUpserts, n)
	}

	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("treestore: beginning batch transaction: %w", err)
	}

	for _, uid := range sortedRemoves {
		if err := s.persistRemoveTx(ctx, tx, uid); err != nil {
			tx.Rollback()
			return err
		}
	}

	for _, n := range finalUpserts {
		if err := s.persistUpsertTx(ctx, tx, n); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("treestore: committing batch: %w", err)
	}

	s.notifyListeners(finalUpserts, removedSPIDs)

	return nil
}

// sortRemovalsBottomUpLocked orders removeUIDs so deeper nodes (by path
// segment count) come first. Must be called with s.mu held.
func (s *Store) sortRemovalsBottomUpLocked(uids []uint64) []uint64 {
	out := append([]uint64(nil), uids...)

	depth := func(uid uint64) int {
		n, ok := s.nodes[uid]
		if !ok || len(n.Ident().PathList) == 0 {
			return 0
		}

		return strings.Count(strings.TrimSuffix(n.Ident().PathList[0], "/"), "/")
	}

	sort.Slice(out, func(i, j int) bool { return depth(out[i]) > depth(out[j]) })

	return out
}

// sortUpsertsTopDownLocked orders upserts so shallower nodes are applied
// first, guaranteeing a parent is indexed before any child referencing it.
func (s *Store) sortUpsertsTopDownLocked(nodes []node.Node) []node.Node {
	out := append([]node.Node(nil), nodes...)

	depth := func(n node.Node) int {
		if len(n.Ident().PathList) == 0 {
			return 0
		}

		return strings.Count(strings.TrimSuffix(n.Ident().PathList[0], "/"), "/")
	}

	sort.Slice(out, func(i, j int) bool { return depth(out[i]) < depth(out[j]) })

	return out
}

// ReplaceSubtree atomically swaps rootUID's descendants for newNodes,
// deleting any descendant not present in newNodes. Used after a full
// cloud-side rescan of a subtree whose all_children_fetched status had
// lapsed.
func (s *Store) ReplaceSubtree(ctx context.Context, rootUID uint64, newNodes []node.Node) error {
	s.mu.Lock()

	existing := s.subtreeUIDsLocked(rootUID)
	keep := make(map[uint64]struct{}, len(newNodes))
	for _, n := range newNodes {
		keep[n.Ident().NodeUID] = struct{}{}
	}

	var toRemove []uint64
	for uid := range existing {
		if uid == rootUID {
			continue
		}

		if _, ok := keep[uid]; !ok {
			toRemove = append(toRemove, uid)
		}
	}

	s.mu.Unlock()

	return s.SubmitBatchOfChanges(ctx, newNodes, toRemove)
}

func (s *Store) subtreeUIDsLocked(rootUID uint64) map[uint64]struct{} {
	out := map[uint64]struct{}{rootUID: {}}
	queue := []uint64{rootUID}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for uid := range s.children[parent] {
			if _, seen := out[uid]; !seen {
				out[uid] = struct{}{}
				queue = append(queue, uid)
			}
		}
	}

	return out
}

func (s *Store) notifyListeners(upserted []node.Node, removed []node.SPID) {
	s.mu.Lock()
	listeners := append([]BatchListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(upserted, removed)
	}
}

func firstPath(n node.Node) string {
	paths := n.Ident().PathList
	if len(paths) == 0 {
		return ""
	}

	return paths[0]
}

func (s *Store) loadAll(ctx context.Context) error {
	if err := s.loadLocalDirs(ctx); err != nil {
		return err
	}

	if err := s.loadLocalFiles(ctx); err != nil {
		return err
	}

	if err := s.loadGoogFolders(ctx); err != nil {
		return err
	}

	if err := s.loadGoogFiles(ctx); err != nil {
		return err
	}

	return nil
}
