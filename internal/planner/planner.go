// Package planner implements the operation planner / command builder
// (module J): it maps each UserOp to a concrete Command via the lookup
// table in spec.md §4.J, and derives the command DAG's dependency edges.
package planner

import (
	"fmt"
	"path"
	"sort"

	"github.com/tonimelisma/treesync/internal/node"
)

// TreeType distinguishes which storage backend a node belongs to.
type TreeType int

const (
	TreeLocal TreeType = iota
	TreeGDrive
)

// CommandType is the concrete action a Command performs.
type CommandType int

const (
	CmdCreateLocalDir CommandType = iota
	CmdCreateGDriveFolder
	CmdDeleteLocal
	CmdDeleteGDrive
	CmdCopyLocalLocal
	CmdCopyWithinGDrive
	CmdUploadLocalToGDrive
	CmdDownloadGDriveToLocal
	CmdMoveLocalLocal
	CmdMoveWithinGDrive
	CmdUploadThenDeleteSrc
	CmdDownloadThenDeleteSrc
	CmdOverwriteLocalLocal
	CmdOverwriteWithinGDrive
	CmdOverwriteUpload
	CmdOverwriteDownload
)

func (c CommandType) String() string {
	names := map[CommandType]string{
		CmdCreateLocalDir:        "CreateLocalDir",
		CmdCreateGDriveFolder:    "CreateGDriveFolder",
		CmdDeleteLocal:           "DeleteLocal",
		CmdDeleteGDrive:          "DeleteGDrive",
		CmdCopyLocalLocal:        "CopyLocalLocal",
		CmdCopyWithinGDrive:      "CopyWithinGDrive",
		CmdUploadLocalToGDrive:   "UploadLocalToGDrive",
		CmdDownloadGDriveToLocal: "DownloadGDriveToLocal",
		CmdMoveLocalLocal:        "MoveLocalLocal",
		CmdMoveWithinGDrive:      "MoveWithinGDrive",
		CmdUploadThenDeleteSrc:   "UploadThenDeleteSrc",
		CmdDownloadThenDeleteSrc: "DownloadThenDeleteSrc",
		CmdOverwriteLocalLocal:   "OverwriteLocalLocal",
		CmdOverwriteWithinGDrive: "OverwriteWithinGDrive",
		CmdOverwriteUpload:       "OverwriteUpload",
		CmdOverwriteDownload:     "OverwriteDownload",
	}

	if n, ok := names[c]; ok {
		return n
	}

	return "Unknown"
}

// UserOp is the planner's input: a single user- or diff-originated
// operation, exactly as spec.md §4.J defines it.
type UserOp struct {
	OpType  node.UserOpType
	SrcNode node.Node
	DstNode node.Node // present for CP_ONTO/MV_ONTO; nil otherwise
}

// Command is one DAG node: a concrete, executable action derived from a
// UserOp via the mapping table.
type Command struct {
	ID        uint64
	Type      CommandType
	SrcNode   node.Node
	DstNode   node.Node
	DependsOn []uint64
}

// Plan is the resulting command DAG.
type Plan struct {
	Commands []*Command
}

// ErrCrossDeviceSameTreeType is returned when an op would move/copy
// between two distinct devices of the same tree type (e.g. local disk A
// to local disk B), which this planner does not support.
var ErrCrossDeviceSameTreeType = fmt.Errorf("planner: cross-device operations within the same tree type are not supported")

// Planner builds command DAGs from UserOp lists, assigning sequential
// command IDs and wiring dependency edges as it goes.
type Planner struct {
	nextID uint64
}

// New returns a Planner with a fresh ID sequence.
func New() *Planner {
	return &Planner{nextID: 1}
}

// Plan builds a Plan for ops, processed in order. Dependency edges are
// derived from the creator index built incrementally as commands are
// produced, so an op's dependencies must appear before it in ops (the
// change tree's category + path ordering guarantees MKDIR ops for parent
// directories are emitted before ops targeting their children).
func (p *Planner) Plan(ops []UserOp) (*Plan, error) {
	plan := &Plan{}
	creatorByPath := make(map[string]uint64)

	for _, op := range ops {
		cmd, err := p.buildCommand(op)
		if err != nil {
			return nil, err
		}

		p.wireDependencies(cmd, op, creatorByPath)

		plan.Commands = append(plan.Commands, cmd)

		if createdPath := destPath(op); createdPath != "" {
			creatorByPath[createdPath] = cmd.ID
		}
	}

	return plan, nil
}

func (p *Planner) buildCommand(op UserOp) (*Command, error) {
	srcTT := treeTypeOf(op.SrcNode)

	cmd := &Command{ID: p.nextID, SrcNode: op.SrcNode, DstNode: op.DstNode}
	p.nextID++

	switch op.OpType {
	case node.OpMkdir:
		if srcTT == TreeLocal {
			cmd.Type = CmdCreateLocalDir
		} else {
			cmd.Type = CmdCreateGDriveFolder
		}

	case node.OpRm:
		if srcTT == TreeLocal {
			cmd.Type = CmdDeleteLocal
		} else {
			cmd.Type = CmdDeleteGDrive
		}

	case node.OpCp:
		return p.buildTransferCommand(cmd, op, false)

	case node.OpMv:
		return p.buildMoveCommand(cmd, op)

	case node.OpCpOnto, node.OpMvOnto:
		return p.buildOverwriteCommand(cmd, op)

	case node.OpUp:
		return p.buildTransferCommand(cmd, op, true)

	default:
		return nil, fmt.Errorf("planner: unhandled op type %v", op.OpType)
	}

	return cmd, nil
}

func (p *Planner) buildTransferCommand(cmd *Command, op UserOp, overwrite bool) (*Command, error) {
	srcTT := treeTypeOf(op.SrcNode)
	dstTT := srcTT

	if op.DstNode != nil {
		dstTT = treeTypeOf(op.DstNode)
	}

	sameDevice := op.DstNode == nil || op.SrcNode.Ident().DeviceUID == op.DstNode.Ident().DeviceUID

	switch {
	case srcTT == TreeLocal && dstTT == TreeLocal:
		if !sameDevice {
			return nil, ErrCrossDeviceSameTreeType
		}

		cmd.Type = pick(overwrite, CmdOverwriteLocalLocal, CmdCopyLocalLocal)
	case srcTT == TreeGDrive && dstTT == TreeGDrive:
		if !sameDevice {
			return nil, ErrCrossDeviceSameTreeType
		}

		cmd.Type = pick(overwrite, CmdOverwriteWithinGDrive, CmdCopyWithinGDrive)
	case srcTT == TreeLocal && dstTT == TreeGDrive:
		cmd.Type = pick(overwrite, CmdOverwriteUpload, CmdUploadLocalToGDrive)
	case srcTT == TreeGDrive && dstTT == TreeLocal:
		cmd.Type = pick(overwrite, CmdOverwriteDownload, CmdDownloadGDriveToLocal)
	}

	return cmd, nil
}

func (p *Planner) buildMoveCommand(cmd *Command, op UserOp) (*Command, error) {
	srcTT := treeTypeOf(op.SrcNode)
	dstTT := srcTT

	if op.DstNode != nil {
		dstTT = treeTypeOf(op.DstNode)
	}

	sameDevice := op.DstNode == nil || op.SrcNode.Ident().DeviceUID == op.DstNode.Ident().DeviceUID

	switch {
	case srcTT == TreeLocal && dstTT == TreeLocal:
		if !sameDevice {
			return nil, ErrCrossDeviceSameTreeType
		}

		cmd.Type = CmdMoveLocalLocal
	case srcTT == TreeGDrive && dstTT == TreeGDrive:
		if !sameDevice {
			return nil, ErrCrossDeviceSameTreeType
		}

		cmd.Type = CmdMoveWithinGDrive
	case srcTT == TreeLocal && dstTT == TreeGDrive:
		cmd.Type = CmdUploadThenDeleteSrc
	case srcTT == TreeGDrive && dstTT == TreeLocal:
		cmd.Type = CmdDownloadThenDeleteSrc
	}

	return cmd, nil
}

func (p *Planner) buildOverwriteCommand(cmd *Command, op UserOp) (*Command, error) {
	overwrite := true
	if op.OpType == node.OpMvOnto {
		// MV_ONTO is a CP_ONTO followed implicitly by removal of the
		// source; the executor treats the overwrite command the same
		// way and the source deletion is a separate Command the caller
		// must also plan (mirroring plain MV's upload/download+delete
		// pattern), so the mapping here covers only the overwrite half.
		_ = overwrite
	}

	return p.buildTransferCommand(cmd, op, true)
}

func pick(cond bool, ifTrue, ifFalse CommandType) CommandType {
	if cond {
		return ifTrue
	}

	return ifFalse
}

// wireDependencies derives two dependency-edge rules: create-destination
// depends on its parent's creator; a move/copy whose source was itself
// created by another command depends on that command. A cross-device move
// is a single command (UploadThenDeleteSrc/DownloadThenDeleteSrc) that
// deletes its source only after its own transfer succeeds, so no separate
// delete-source edge is wired.
func (p *Planner) wireDependencies(cmd *Command, op UserOp, creatorByPath map[string]uint64) {
	if dp := destPath(op); dp != "" {
		parent := path.Dir(dp)
		if creatorID, ok := creatorByPath[parent]; ok {
			cmd.DependsOn = appendDep(cmd.DependsOn, creatorID)
		}
	}

	if sp := srcPath(op); sp != "" {
		if creatorID, ok := creatorByPath[sp]; ok {
			cmd.DependsOn = appendDep(cmd.DependsOn, creatorID)
		}
	}
}

func appendDep(deps []uint64, id uint64) []uint64 {
	for _, d := range deps {
		if d == id {
			return deps
		}
	}

	return append(deps, id)
}

func destPath(op UserOp) string {
	if op.DstNode != nil {
		return firstPath(op.DstNode)
	}

	return firstPath(op.SrcNode)
}

func srcPath(op UserOp) string {
	return firstPath(op.SrcNode)
}

func treeTypeOf(n node.Node) TreeType {
	switch n.Type() {
	case node.TypeLocalDir, node.TypeLocalFile:
		return TreeLocal
	default:
		return TreeGDrive
	}
}

func firstPath(n node.Node) string {
	paths := n.Ident().PathList
	if len(paths) == 0 {
		return ""
	}

	return paths[0]
}

// ReadyCommands returns, from plan, every command with no unsatisfied
// dependency in completed (commands whose ID is present in completed are
// considered terminal regardless of outcome). Sorted by ID for
// deterministic dispatch order.
func ReadyCommands(plan *Plan, completed map[uint64]struct{}) []*Command {
	var ready []*Command

	for _, cmd := range plan.Commands {
		if _, done := completed[cmd.ID]; done {
			continue
		}

		allDepsDone := true

		for _, dep := range cmd.DependsOn {
			if _, ok := completed[dep]; !ok {
				allDepsDone = false
				break
			}
		}

		if allDepsDone {
			ready = append(ready, cmd)
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })

	return ready
}
