// Package differ implements the content-first bidirectional diff (module
// H): given two display-tree roots, it emits a (node, UserOpType) change
// for each side describing how to reconcile that side to match the other.
package differ

import (
	"sort"

	"github.com/tonimelisma/treesync/internal/node"
)

// Side identifies which of the two trees a Change applies to.
type Side int

const (
	SideLeft Side = iota
	SideRight
)

// Change is a single (node, op) pair destined for one side's change tree.
type Change struct {
	Side   Side
	Node   node.Node
	OpType node.UserOpType
	// MoveFrom is set only for MV ops: the sibling node on the same side
	// that this node's path used to belong to before the move.
	MoveFrom node.Node
}

// Options controls tie-break behavior.
type Options struct {
	// UseModifyTimes selects the older-mtime side as a move's source when
	// true. When false, both sides treat the other's copy as the
	// destination (no source/destination distinction is made).
	UseModifyTimes bool
	// DetectSamePathUpdates enables the optional same-path,
	// different-signature walk that emits UP ops.
	DetectSamePathUpdates bool
}

type signatureKey struct {
	contentUID uint64
}

// Diff computes the bidirectional change set between left and right. Both
// slices must already exclude trashed nodes and unresolved symlinks — the
// caller (the cache manager, which alone knows the subtree roots needed to
// validate symlink targets) is responsible for that filtering before
// calling Diff.
func Diff(left, right []node.Node, opts Options) []Change {
	leftByPath := indexByPath(left)
	rightByPath := indexByPath(right)
	leftBySig := indexBySignature(left)
	rightBySig := indexBySignature(right)

	var changes []Change

	allSigs := make(map[signatureKey]struct{})
	for sig := range leftBySig {
		allSigs[sig] = struct{}{}
	}
	for sig := range rightBySig {
		allSigs[sig] = struct{}{}
	}

	sortedSigs := sortedSignatureKeys(allSigs)

	for _, sig := range sortedSigs {
		leftNodes := leftBySig[sig]
		rightNodes := rightBySig[sig]

		changes = append(changes, pairBySignature(leftNodes, rightNodes, opts)...)
	}

	if opts.DetectSamePathUpdates {
		changes = append(changes, detectSamePathUpdates(leftByPath, rightByPath)...)
	}

	return changes
}

func indexByPath(nodes []node.Node) map[string]node.Node {
	out := make(map[string]node.Node, len(nodes))
	for _, n := range nodes {
		for _, p := range n.Ident().PathList {
			out[p] = n
		}
	}

	return out
}

func indexBySignature(nodes []node.Node) map[signatureKey][]node.Node {
	out := make(map[signatureKey][]node.Node)
	for _, n := range nodes {
		cuid := n.ContentUID()
		if cuid == node.NullUID {
			// Nodes without a signature (directories, unhashed files) are
			// never paired by content; path-identity handles them via the
			// same-path-update pass or are left untouched if unchanged.
			continue
		}

		key := signatureKey{contentUID: cuid}
		out[key] = append(out[key], n)
	}

	return out
}

func sortedSignatureKeys(m map[signatureKey]struct{}) []signatureKey {
	out := make([]signatureKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].contentUID < out[j].contentUID })

	return out
}

// pairBySignature pairs the left-set and right-set of nodes sharing one
// signature, per spec.md §4.H step 2.
func pairBySignature(left, right []node.Node, opts Options) []Change {
	sortByPath(left)
	sortByPath(right)

	if len(left) == 0 {
		// Present only on the right: every right node is an ADD on the
		// right's own side's terms — but from the left side's
		// perspective it needs to be added there too, so emit ADD(left)
		// and nothing needed on the right (it already exists there).
		var out []Change
		for _, n := range right {
			out = append(out, Change{Side: SideLeft, Node: n, OpType: node.OpCp})
		}

		return out
	}

	if len(right) == 0 {
		var out []Change
		for _, n := range left {
			out = append(out, Change{Side: SideRight, Node: n, OpType: node.OpCp})
		}

		return out
	}

	// Present on both: pair by path-identity first (no-op), then pair
	// remaining nodes arbitrarily (in sorted-path order, for
	// determinism). Differing-path pairs are moves.
	leftRemaining, rightRemaining := removeIdentityPairs(left, right)

	var out []Change

	n := minInt(len(leftRemaining), len(rightRemaining))
	for i := 0; i < n; i++ {
		out = append(out, pairAsMove(leftRemaining[i], rightRemaining[i], opts)...)
	}

	// Leftover odd counts are ADD/DEL.
	for i := n; i < len(leftRemaining); i++ {
		out = append(out, Change{Side: SideRight, Node: leftRemaining[i], OpType: node.OpCp})
	}

	for i := n; i < len(rightRemaining); i++ {
		out = append(out, Change{Side: SideLeft, Node: rightRemaining[i], OpType: node.OpCp})
	}

	return out
}

// removeIdentityPairs strips nodes that already occupy the same path on
// both sides (no change needed) and returns the remainder of each slice.
func removeIdentityPairs(left, right []node.Node) ([]node.Node, []node.Node) {
	rightByPath := make(map[string]node.Node, len(right))
	for _, n := range right {
		for _, p := range n.Ident().PathList {
			rightByPath[p] = n
		}
	}

	matched := make(map[uint64]struct{})

	var leftRemaining []node.Node

	for _, ln := range left {
		identical := false

		for _, p := range ln.Ident().PathList {
			if rn, ok := rightByPath[p]; ok {
				matched[rn.Ident().NodeUID] = struct{}{}
				identical = true

				break
			}
		}

		if !identical {
			leftRemaining = append(leftRemaining, ln)
		}
	}

	var rightRemaining []node.Node

	for _, rn := range right {
		if _, ok := matched[rn.Ident().NodeUID]; !ok {
			rightRemaining = append(rightRemaining, rn)
		}
	}

	return leftRemaining, rightRemaining
}

// pairAsMove emits the MOVE change(s) for a pair of nodes that share
// content but sit at different paths on each side.
func pairAsMove(left, right node.Node, opts Options) []Change {
	if opts.UseModifyTimes {
		leftTS := modifyTimestamp(left)
		rightTS := modifyTimestamp(right)

		if leftTS < rightTS {
			// Left is older: left is the source, so the move happens on
			// the right side to match left's path.
			return []Change{{Side: SideRight, Node: left, OpType: node.OpMv, MoveFrom: right}}
		}

		return []Change{{Side: SideLeft, Node: right, OpType: node.OpMv, MoveFrom: left}}
	}

	// Without modify-time ordering, both sides view the other's copy as
	// the move destination — emit a move for each side to converge to.
	return []Change{
		{Side: SideRight, Node: left, OpType: node.OpMv, MoveFrom: right},
		{Side: SideLeft, Node: right, OpType: node.OpMv, MoveFrom: left},
	}
}

func modifyTimestamp(n node.Node) int64 {
	switch v := n.(type) {
	case *node.LocalFile:
		return v.ModifyTS
	case *node.GDriveFile:
		return v.ModifyTS
	case *node.GDriveFolder:
		return v.ModifyTS
	default:
		return 0
	}
}

// detectSamePathUpdates walks both path indices looking for same-path
// entries whose signatures differ, emitting UP ops.
func detectSamePathUpdates(leftByPath, rightByPath map[string]node.Node) []Change {
	var out []Change

	paths := make([]string, 0, len(leftByPath))
	for p := range leftByPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		ln, ok := rightByPath[p]
		if !ok {
			continue
		}

		rn := leftByPath[p]

		if rn.ContentUID() == node.NullUID || ln.ContentUID() == node.NullUID {
			continue
		}

		if rn.ContentUID() != ln.ContentUID() {
			out = append(out, Change{Side: SideRight, Node: rn, OpType: node.OpUp})
		}
	}

	return out
}

func sortByPath(nodes []node.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return firstPath(nodes[i]) < firstPath(nodes[j])
	})
}

func firstPath(n node.Node) string {
	paths := n.Ident().PathList
	if len(paths) == 0 {
		return ""
	}

	return paths[0]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}
