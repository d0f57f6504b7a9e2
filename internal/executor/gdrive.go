package executor

import (
	"context"

	"github.com/tonimelisma/treesync/internal/contentmeta"
)

// GDriveClient is the transfer-side dependency for commands that touch the
// Google Drive tree. It is deliberately narrow — upload/download/copy/
// move/delete/mkdir — so the executor stays transport-agnostic; a concrete
// implementation lives in a separate package that wraps the Drive API
// client, the way the teacher's Executor depends on the narrow
// Uploader/Downloader interfaces in internal/sync rather than embedding
// the Graph client directly.
type GDriveClient interface {
	Upload(ctx context.Context, localPath, parentCloudID, name string) (cloudID string, digests contentmeta.Digests, size int64, err error)
	Download(ctx context.Context, cloudID, destPath string) (digests contentmeta.Digests, size int64, err error)
	CopyWithinGDrive(ctx context.Context, cloudID, destParentCloudID, name string) (newCloudID string, err error)
	MoveWithinGDrive(ctx context.Context, cloudID, newParentCloudID, newName string) error
	CreateFolder(ctx context.Context, parentCloudID, name string) (cloudID string, err error)
	Delete(ctx context.Context, cloudID string) error
}
