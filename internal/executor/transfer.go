package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tonimelisma/treesync/internal/contentmeta"
)

// LocalTransferer performs the local-filesystem half of staged-copy
// commands: write to a staging path, verify the copy's hash against the
// source, then atomically rename into place. Grounded on the teacher's
// download-to-.partial-then-verify-then-rename idiom
// (internal/sync/executor_transfer.go's executeDownload/freshDownload).
type LocalTransferer struct{}

// NewLocalTransferer returns a ready-to-use LocalTransferer.
func NewLocalTransferer() *LocalTransferer {
	return &LocalTransferer{}
}

// StagedCopy copies srcPath to dstPath via a ".partial" staging file,
// verifying the staged copy's digests match a fresh hash of the source
// before the final rename. Returns the verified digests and size.
func (t *LocalTransferer) StagedCopy(ctx context.Context, srcPath, dstPath string) (contentmeta.Digests, error) {
	srcDigests, err := contentmeta.ComputeDigests(srcPath)
	if err != nil {
		return contentmeta.Digests{}, fmt.Errorf("executor: hashing source %s: %w", srcPath, err)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return contentmeta.Digests{}, fmt.Errorf("executor: creating parent dir for %s: %w", dstPath, err)
	}

	partialPath := dstPath + ".partial"

	if err := copyFile(ctx, srcPath, partialPath); err != nil {
		os.Remove(partialPath)
		return contentmeta.Digests{}, err
	}

	dstDigests, err := contentmeta.ComputeDigests(partialPath)
	if err != nil {
		os.Remove(partialPath)
		return contentmeta.Digests{}, fmt.Errorf("executor: hashing staged copy %s: %w", partialPath, err)
	}

	if dstDigests.MD5 != srcDigests.MD5 || dstDigests.SHA256 != srcDigests.SHA256 {
		os.Remove(partialPath)
		return contentmeta.Digests{}, fmt.Errorf("executor: staged copy of %s does not match source hash", srcPath)
	}

	if err := os.Rename(partialPath, dstPath); err != nil {
		os.Remove(partialPath)
		return contentmeta.Digests{}, fmt.Errorf("executor: renaming staged copy into place at %s: %w", dstPath, err)
	}

	return srcDigests, nil
}

func copyFile(ctx context.Context, srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("executor: opening source %s: %w", srcPath, err)
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("executor: creating staging file %s: %w", dstPath, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("executor: copying %s to %s: %w", srcPath, dstPath, err)
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("executor: closing staging file %s: %w", dstPath, err)
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("executor: copy of %s canceled: %w", srcPath, err)
	}

	return nil
}

// RemoveLocal removes path, treating "already gone" as success per
// spec.md §4.K's idempotent-command requirement.
func (t *LocalTransferer) RemoveLocal(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("executor: removing %s: %w", path, err)
	}

	return nil
}

// MkdirLocal creates path, treating "already exists" as success.
func (t *LocalTransferer) MkdirLocal(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("executor: creating directory %s: %w", path, err)
	}

	return nil
}

// StatAndRehash stats and rehashes path, used after a copy or move lands
// to report the destination's final digests/size back to the caller.
func (t *LocalTransferer) StatAndRehash(path string) (size int64, digests contentmeta.Digests, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, contentmeta.Digests{}, fmt.Errorf("executor: stat %s: %w", path, err)
	}

	digests, err = contentmeta.ComputeDigests(path)
	if err != nil {
		return 0, contentmeta.Digests{}, fmt.Errorf("executor: rehashing %s: %w", path, err)
	}

	return info.Size(), digests, nil
}
