// Package changetree implements the change tree (module I): a
// category-grouped, display-only tree whose leaves carry (SPID, op) pairs
// destined for the planner, with interior nodes used purely for UI
// grouping.
package changetree

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tonimelisma/treesync/internal/node"
)

// OpEntry is a single leaf: the node an operation applies to, plus the
// category it belongs under.
type OpEntry struct {
	Node   node.Node
	OpType node.UserOpType
}

type leaf struct {
	entry OpEntry
	spid  node.SPID
}

// Tree is one side's change tree (one per tree_id, i.e. one per display
// tree under reconciliation).
type Tree struct {
	mu     sync.Mutex
	treeID string
	root   *node.RootType

	// categories are keyed by op type and containers by their synthetic
	// GUID, so GetSNForGUID can resolve interior display nodes too.
	categories map[node.UserOpType]*node.Category
	containers map[string]*node.Container
	leaves     map[string]*leaf

	// childrenOf maps a container/category GUID to the GUIDs directly
	// beneath it, preserving the tree shape for UI rendering.
	childrenOf map[string][]string

	selected map[string]struct{}
}

// New creates an empty change tree for treeID.
func New(treeID string) *Tree {
	return &Tree{
		treeID:     treeID,
		root:       &node.RootType{TreeID: treeID},
		categories: make(map[node.UserOpType]*node.Category),
		containers: make(map[string]*node.Container),
		leaves:     make(map[string]*leaf),
		childrenOf: make(map[string][]string),
		selected:   make(map[string]struct{}),
	}
}

func categoryGUID(treeID string, opType node.UserOpType) string {
	return fmt.Sprintf("%s:%s", treeID, opType)
}

func containerGUID(treeID string, opType node.UserOpType, pathPrefix string) string {
	return fmt.Sprintf("%s:%s:%s", treeID, opType, pathPrefix)
}

// AddOpListWithTargetSN inserts ops under their op type's category,
// creating synthetic directory container nodes for each path segment
// between the category root and each op node's own path that doesn't
// already exist. target is not used to place the ops.
func (t *Tree) AddOpListWithTargetSN(target node.Node, ops []OpEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, op := range ops {
		t.addOneLocked(op)
	}

	return nil
}

func (t *Tree) addOneLocked(op OpEntry) {
	cat, ok := t.categories[op.OpType]
	if !ok {
		cat = &node.Category{OpType: op.OpType}
		t.categories[op.OpType] = cat
	}

	path := firstPath(op.Node)
	parentGUID := categoryGUID(t.treeID, op.OpType)
	parentGUID = t.ensureContainersLocked(op.OpType, path, parentGUID)

	spid := op.Node.Ident().SPID(path)
	guid := spid.GUID()

	t.leaves[guid] = &leaf{entry: op, spid: spid}
	t.childrenOf[parentGUID] = appendUnique(t.childrenOf[parentGUID], guid)
}

// ensureContainersLocked creates a Container node for each intermediate
// directory segment of path, returning the GUID of the immediate parent
// container the leaf should be attached under.
func (t *Tree) ensureContainersLocked(opType node.UserOpType, path, rootGUID string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) <= 1 {
		return rootGUID
	}

	parentGUID := rootGUID
	prefix := ""

	for _, seg := range segments[:len(segments)-1] {
		prefix += "/" + seg
		guid := containerGUID(t.treeID, opType, prefix)

		if _, ok := t.containers[guid]; !ok {
			t.containers[guid] = &node.Container{Name: seg}
			t.childrenOf[parentGUID] = appendUnique(t.childrenOf[parentGUID], guid)
		}

		parentGUID = guid
	}

	return parentGUID
}

func appendUnique(list []string, guid string) []string {
	for _, g := range list {
		if g == guid {
			return list
		}
	}

	return append(list, guid)
}

// GetOpListForGUID returns the leaf op for guid, if any.
func (t *Tree) GetOpListForGUID(guid string) (OpEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.leaves[guid]
	if !ok {
		return OpEntry{}, false
	}

	return l.entry, true
}

// GetSNForGUID returns the node behind guid, whether a leaf or a
// display-only container/category.
func (t *Tree) GetSNForGUID(guid string) (node.Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if l, ok := t.leaves[guid]; ok {
		return l.entry.Node, true
	}

	if c, ok := t.containers[guid]; ok {
		return c, true
	}

	for opType, cat := range t.categories {
		if categoryGUID(t.treeID, opType) == guid {
			return cat, true
		}
	}

	return nil, false
}

// AllLeafGUIDs returns every leaf GUID, sorted for deterministic
// iteration.
func (t *Tree) AllLeafGUIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.leaves))
	for guid := range t.leaves {
		out = append(out, guid)
	}

	sort.Strings(out)

	return out
}

// Select marks guid selected.
func (t *Tree) Select(guid string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.selected[guid] = struct{}{}
}

// Deselect clears guid's selection.
func (t *Tree) Deselect(guid string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.selected, guid)
}

// SelectedGUIDs returns the current selection set for this tree_id.
func (t *Tree) SelectedGUIDs() map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]struct{}, len(t.selected))
	for g := range t.selected {
		out[g] = struct{}{}
	}

	return out
}

// Merge produces a single change tree containing only the leaves selected
// in each of left and right (by GUID), re-inserted under a fresh tree
// sharing left's tree_id. Used when the user has made independent
// selections on both sides and wants to execute a unified plan.
func Merge(left *Tree, leftSelected map[string]struct{}, right *Tree, rightSelected map[string]struct{}) *Tree {
	merged := New(left.treeID)

	for _, src := range []struct {
		tree     *Tree
		selected map[string]struct{}
	}{
		{left, leftSelected},
		{right, rightSelected},
	} {
		src.tree.mu.Lock()
		for guid := range src.selected {
			if l, ok := src.tree.leaves[guid]; ok {
				merged.addOneLocked(l.entry)
			}
		}
		src.tree.mu.Unlock()
	}

	return merged
}

func firstPath(n node.Node) string {
	paths := n.Ident().PathList
	if len(paths) == 0 {
		return ""
	}

	return paths[0]
}
