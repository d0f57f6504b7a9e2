package executor

import (
	"context"
	"fmt"
	"os"

	"github.com/tonimelisma/treesync/internal/planner"
)

func (e *Executor) execCreateLocalDir(cmd *planner.Command) UserOpResult {
	path, ok := localPath(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: CreateLocalDir command %d has no local path", cmd.ID))
	}

	if err := e.local.MkdirLocal(path); err != nil {
		return errResult(err)
	}

	return UserOpResult{
		Status:  StatusCompletedOK,
		Upserts: []UpsertEffect{{DeviceUID: deviceUID(cmd.SrcNode), Path: path, IsDir: true}},
	}
}

func (e *Executor) execCreateGDriveFolder(ctx context.Context, cmd *planner.Command) UserOpResult {
	if e.gdrive == nil {
		return errResult(errNoGDriveClient)
	}

	path, ok := localPath(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: CreateGDriveFolder command %d has no path", cmd.ID))
	}

	parentID, _ := googID(cmd.DstNode)

	cloudID, err := e.gdrive.CreateFolder(ctx, parentID, nameFromPath(path))
	if err != nil {
		return errResult(err)
	}

	return UserOpResult{
		Status:  StatusCompletedOK,
		Upserts: []UpsertEffect{{DeviceUID: deviceUID(cmd.SrcNode), Path: path, IsDir: true, CloudID: cloudID}},
	}
}

func (e *Executor) execDeleteLocal(cmd *planner.Command) UserOpResult {
	path, ok := localPath(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: DeleteLocal command %d has no local path", cmd.ID))
	}

	if cmd.SrcNode.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return errResult(fmt.Errorf("executor: removing directory %s: %w", path, err))
		}
	} else if err := e.local.RemoveLocal(path); err != nil {
		return errResult(err)
	}

	return UserOpResult{
		Status:  StatusCompletedOK,
		Deletes: []DeleteEffect{{DeviceUID: deviceUID(cmd.SrcNode), Path: path}},
	}
}

func (e *Executor) execDeleteGDrive(ctx context.Context, cmd *planner.Command) UserOpResult {
	if e.gdrive == nil {
		return errResult(errNoGDriveClient)
	}

	cloudID, ok := googID(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: DeleteGDrive command %d has no cloud id", cmd.ID))
	}

	if err := e.gdrive.Delete(ctx, cloudID); err != nil {
		return errResult(err)
	}

	path, _ := localPath(cmd.SrcNode)

	return UserOpResult{
		Status:  StatusCompletedOK,
		Deletes: []DeleteEffect{{DeviceUID: deviceUID(cmd.SrcNode), Path: path}},
	}
}

func (e *Executor) execCopyLocalLocal(ctx context.Context, cmd *planner.Command) UserOpResult {
	srcPath, ok := localPath(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: CopyLocalLocal command %d has no source path", cmd.ID))
	}

	dstPath, ok := localPath(cmd.DstNode)
	if !ok {
		dstPath = srcPath
	}

	digests, err := e.local.StagedCopy(ctx, srcPath, dstPath)
	if err != nil {
		return errResult(err)
	}

	return UserOpResult{
		Status: StatusCompletedOK,
		Upserts: []UpsertEffect{{
			DeviceUID: deviceUID(cmd.DstNode),
			Path:      dstPath,
			Size:      digests.Size,
			Digests:   digests,
		}},
	}
}

func (e *Executor) execCopyWithinGDrive(ctx context.Context, cmd *planner.Command) UserOpResult {
	if e.gdrive == nil {
		return errResult(errNoGDriveClient)
	}

	srcID, ok := googID(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: CopyWithinGDrive command %d has no source cloud id", cmd.ID))
	}

	dstParentID, _ := googID(cmd.DstNode)
	dstPath, _ := localPath(cmd.DstNode)

	newID, err := e.gdrive.CopyWithinGDrive(ctx, srcID, dstParentID, nameFromPath(dstPath))
	if err != nil {
		return errResult(err)
	}

	return UserOpResult{
		Status:  StatusCompletedOK,
		Upserts: []UpsertEffect{{DeviceUID: deviceUID(cmd.DstNode), Path: dstPath, CloudID: newID}},
	}
}

func (e *Executor) execUpload(ctx context.Context, cmd *planner.Command) UserOpResult {
	if e.gdrive == nil {
		return errResult(errNoGDriveClient)
	}

	srcPath, ok := localPath(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: upload command %d has no local source path", cmd.ID))
	}

	parentID, _ := googID(cmd.DstNode)

	cloudID, digests, size, err := e.gdrive.Upload(ctx, srcPath, parentID, nameFromPath(srcPath))
	if err != nil {
		return errResult(err)
	}

	dstPath, _ := localPath(cmd.DstNode)
	if dstPath == "" {
		dstPath = srcPath
	}

	return UserOpResult{
		Status: StatusCompletedOK,
		Upserts: []UpsertEffect{{
			DeviceUID: deviceUID(cmd.DstNode),
			Path:      dstPath,
			CloudID:   cloudID,
			Size:      size,
			Digests:   digests,
		}},
	}
}

func (e *Executor) execDownload(ctx context.Context, cmd *planner.Command) UserOpResult {
	if e.gdrive == nil {
		return errResult(errNoGDriveClient)
	}

	cloudID, ok := googID(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: download command %d has no source cloud id", cmd.ID))
	}

	dstPath, ok := localPath(cmd.DstNode)
	if !ok {
		return errResult(fmt.Errorf("executor: download command %d has no local destination path", cmd.ID))
	}

	digests, size, err := e.gdrive.Download(ctx, cloudID, dstPath)
	if err != nil {
		return errResult(err)
	}

	return UserOpResult{
		Status: StatusCompletedOK,
		Upserts: []UpsertEffect{{
			DeviceUID: deviceUID(cmd.DstNode),
			Path:      dstPath,
			Size:      size,
			Digests:   digests,
		}},
	}
}

func (e *Executor) execMoveLocalLocal(cmd *planner.Command) UserOpResult {
	srcPath, ok := localPath(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: MoveLocalLocal command %d has no source path", cmd.ID))
	}

	dstPath, ok := localPath(cmd.DstNode)
	if !ok {
		return errResult(fmt.Errorf("executor: MoveLocalLocal command %d has no destination path", cmd.ID))
	}

	if err := os.Rename(srcPath, dstPath); err != nil {
		if os.IsNotExist(err) {
			// Source already gone: treat as already-applied, per the
			// idempotent-command contract.
			return UserOpResult{Status: StatusCompletedNoOp}
		}

		return errResult(fmt.Errorf("executor: renaming %s to %s: %w", srcPath, dstPath, err))
	}

	return UserOpResult{
		Status: StatusCompletedOK,
		Upserts: []UpsertEffect{{
			DeviceUID: deviceUID(cmd.DstNode),
			Path:      dstPath,
			IsDir:     cmd.SrcNode.IsDir(),
		}},
		Deletes: []DeleteEffect{{DeviceUID: deviceUID(cmd.SrcNode), Path: srcPath}},
	}
}

func (e *Executor) execMoveWithinGDrive(ctx context.Context, cmd *planner.Command) UserOpResult {
	if e.gdrive == nil {
		return errResult(errNoGDriveClient)
	}

	cloudID, ok := googID(cmd.SrcNode)
	if !ok {
		return errResult(fmt.Errorf("executor: MoveWithinGDrive command %d has no source cloud id", cmd.ID))
	}

	newParentID, _ := googID(cmd.DstNode)
	dstPath, _ := localPath(cmd.DstNode)

	if err := e.gdrive.MoveWithinGDrive(ctx, cloudID, newParentID, nameFromPath(dstPath)); err != nil {
		return errResult(err)
	}

	srcPath, _ := localPath(cmd.SrcNode)

	return UserOpResult{
		Status:  StatusCompletedOK,
		Upserts: []UpsertEffect{{DeviceUID: deviceUID(cmd.DstNode), Path: dstPath, CloudID: cloudID}},
		Deletes: []DeleteEffect{{DeviceUID: deviceUID(cmd.SrcNode), Path: srcPath}},
	}
}

// execUploadThenDeleteSrc handles a MOVE whose source is local and
// destination is GDrive: upload, then only delete the local source once
// the upload has been confirmed, so a crash between the two halves leaves
// the source intact for retry. A re-dispatch uploads the file again; no
// check is made for a copy already present at the destination.
func (e *Executor) execUploadThenDeleteSrc(ctx context.Context, cmd *planner.Command) UserOpResult {
	result := e.execUpload(ctx, cmd)
	if result.Status == StatusStoppedOnError {
		return result
	}

	srcPath, ok := localPath(cmd.SrcNode)
	if ok {
		if err := e.local.RemoveLocal(srcPath); err != nil {
			return errResult(err)
		}

		result.Deletes = append(result.Deletes, DeleteEffect{DeviceUID: deviceUID(cmd.SrcNode), Path: srcPath})
	}

	return result
}

// execDownloadThenDeleteSrc is execUploadThenDeleteSrc's mirror: download
// from GDrive to local, then delete the GDrive source.
func (e *Executor) execDownloadThenDeleteSrc(ctx context.Context, cmd *planner.Command) UserOpResult {
	result := e.execDownload(ctx, cmd)
	if result.Status == StatusStoppedOnError {
		return result
	}

	if e.gdrive == nil {
		return errResult(errNoGDriveClient)
	}

	cloudID, ok := googID(cmd.SrcNode)
	if ok {
		if err := e.gdrive.Delete(ctx, cloudID); err != nil {
			return errResult(err)
		}

		srcPath, _ := localPath(cmd.SrcNode)
		result.Deletes = append(result.Deletes, DeleteEffect{DeviceUID: deviceUID(cmd.SrcNode), Path: srcPath})
	}

	return result
}

func errResult(err error) UserOpResult {
	return UserOpResult{Status: StatusStoppedOnError, Err: err}
}

var errNoGDriveClient = fmt.Errorf("executor: no GDrive client configured")
