package executor

import "github.com/tonimelisma/treesync/internal/contentmeta"

// Status is a command's terminal outcome.
type Status int

const (
	StatusCompletedOK Status = iota
	StatusCompletedNoOp
	StatusStoppedOnError
)

func (s Status) String() string {
	switch s {
	case StatusCompletedOK:
		return "COMPLETED_OK"
	case StatusCompletedNoOp:
		return "COMPLETED_NO_OP"
	case StatusStoppedOnError:
		return "STOPPED_ON_ERROR"
	default:
		return "UNKNOWN"
	}
}

// UpsertEffect describes a node that must be created or refreshed in a
// device's tree store once a command completes. The executor reports raw
// I/O facts here; it does not allocate UIDs or resolve content dedup
// itself — the caller wires a node_uid (via uidmap) and a content_uid
// (via contentmeta.Store.GetOrCreate) before calling treestore.Store.UpsertSingleNode,
// keeping those concerns owned by their respective modules.
type UpsertEffect struct {
	DeviceUID uint64
	Path      string
	IsDir     bool
	Size      int64
	Digests   contentmeta.Digests
	ModifyTS  int64
	CloudID   string // set for GDrive-side effects, empty for local ones
	ParentIDs []string
}

// DeleteEffect describes a node that must be removed from a device's tree
// store once a command completes.
type DeleteEffect struct {
	DeviceUID uint64
	Path      string
}

// UserOpResult is the outcome of one executed command, exactly as spec.md
// §4.K's execution contract names it: a status plus the upsert/delete
// effects the tree store must apply.
type UserOpResult struct {
	Status  Status
	Upserts []UpsertEffect
	Deletes []DeleteEffect
	Err     error
}
