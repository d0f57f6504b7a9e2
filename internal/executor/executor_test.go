package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tonimelisma/treesync/internal/contentmeta"
	"github.com/tonimelisma/treesync/internal/node"
	"github.com/tonimelisma/treesync/internal/planner"
)

type fakeGDrive struct {
	nextCloudID int
	createdDirs map[string]string
	uploaded    map[string][]byte
	deleted     map[string]bool
}

func newFakeGDrive() *fakeGDrive {
	return &fakeGDrive{
		createdDirs: make(map[string]string),
		uploaded:    make(map[string][]byte),
		deleted:     make(map[string]bool),
	}
}

func (f *fakeGDrive) id() string {
	f.nextCloudID++
	return filepath.Join("cloud", string(rune('a'+f.nextCloudID)))
}

func (f *fakeGDrive) Upload(ctx context.Context, localPath, parentCloudID, name string) (string, contentmeta.Digests, int64, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", contentmeta.Digests{}, 0, err
	}

	digests, err := contentmeta.ComputeDigests(localPath)
	if err != nil {
		return "", contentmeta.Digests{}, 0, err
	}

	cloudID := f.id()
	f.uploaded[cloudID] = data

	return cloudID, digests, int64(len(data)), nil
}

func (f *fakeGDrive) Download(ctx context.Context, cloudID, destPath string) (contentmeta.Digests, int64, error) {
	data := f.uploaded[cloudID]
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return contentmeta.Digests{}, 0, err
	}

	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return contentmeta.Digests{}, 0, err
	}

	digests, err := contentmeta.ComputeDigests(destPath)
	return digests, int64(len(data)), err
}

func (f *fakeGDrive) CopyWithinGDrive(ctx context.Context, cloudID, destParentCloudID, name string) (string, error) {
	newID := f.id()
	f.uploaded[newID] = f.uploaded[cloudID]
	return newID, nil
}

func (f *fakeGDrive) MoveWithinGDrive(ctx context.Context, cloudID, newParentCloudID, newName string) error {
	return nil
}

func (f *fakeGDrive) CreateFolder(ctx context.Context, parentCloudID, name string) (string, error) {
	id := f.id()
	f.createdDirs[id] = name

	return id, nil
}

func (f *fakeGDrive) Delete(ctx context.Context, cloudID string) error {
	f.deleted[cloudID] = true
	return nil
}

func testClock() int64 { return 1 }

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()
	store, err := OpenStore(context.Background(), filepath.Join(dir, "pending_ops.db"), slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() { store.Close() })

	return store
}

func TestExecutor_CreateLocalDir(t *testing.T) {
	store := openTestStore(t)
	tmp := t.TempDir()
	target := filepath.Join(tmp, "newdir")

	ex := New(store, nil, slog.Default(), testClock, 4)

	dir := &node.LocalDir{Identifier: node.Identifier{DeviceUID: 1, NodeUID: 1, PathList: []string{target}}}
	p := planner.New()
	plan, err := p.Plan([]planner.UserOp{{OpType: node.OpMkdir, SrcNode: dir}})
	require.NoError(t, err)

	results, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusCompletedOK, results[0].Status)

	info, statErr := os.Stat(target)
	require.NoError(t, statErr)
	assert.True(t, info.IsDir())
}

func TestExecutor_CopyLocalLocal_StagedCopyVerifiesHash(t *testing.T) {
	store := openTestStore(t)
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "src.txt")
	dstPath := filepath.Join(tmp, "dst.txt")

	require.NoError(t, os.WriteFile(srcPath, []byte("hello world"), 0o644))

	ex := New(store, nil, slog.Default(), testClock, 4)

	src := &node.LocalFile{Identifier: node.Identifier{DeviceUID: 1, NodeUID: 1, PathList: []string{srcPath}}}
	dst := &node.LocalFile{Identifier: node.Identifier{DeviceUID: 1, NodeUID: 2, PathList: []string{dstPath}}}

	p := planner.New()
	plan, err := p.Plan([]planner.UserOp{{OpType: node.OpCp, SrcNode: src, DstNode: dst}})
	require.NoError(t, err)

	results, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, StatusCompletedOK, results[0].Status)

	data, readErr := os.ReadFile(dstPath)
	require.NoError(t, readErr)
	assert.Equal(t, "hello world", string(data))
	require.Len(t, results[0].Upserts, 1)
	assert.Equal(t, int64(len("hello world")), results[0].Upserts[0].Size)
}

func TestExecutor_DeleteLocal_AlreadyGoneSucceeds(t *testing.T) {
	store := openTestStore(t)
	tmp := t.TempDir()
	path := filepath.Join(tmp, "gone.txt")

	ex := New(store, nil, slog.Default(), testClock, 4)

	f := &node.LocalFile{Identifier: node.Identifier{DeviceUID: 1, NodeUID: 1, PathList: []string{path}}}
	p := planner.New()
	plan, err := p.Plan([]planner.UserOp{{OpType: node.OpRm, SrcNode: f}})
	require.NoError(t, err)

	results, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusCompletedOK, results[0].Status)
}

func TestExecutor_UploadThenDeleteSrc(t *testing.T) {
	store := openTestStore(t)
	tmp := t.TempDir()
	srcPath := filepath.Join(tmp, "a.txt")
	require.NoError(t, os.WriteFile(srcPath, []byte("payload"), 0o644))

	gdrive := newFakeGDrive()
	ex := New(store, gdrive, slog.Default(), testClock, 4)

	src := &node.LocalFile{Identifier: node.Identifier{DeviceUID: 1, NodeUID: 1, PathList: []string{srcPath}}}
	dst := &node.GDriveFile{Identifier: node.Identifier{DeviceUID: 2, NodeUID: 2, PathList: []string{"/a.txt"}}}

	p := planner.New()
	plan, err := p.Plan([]planner.UserOp{{OpType: node.OpMv, SrcNode: src, DstNode: dst}})
	require.NoError(t, err)
	require.Equal(t, planner.CmdUploadThenDeleteSrc, plan.Commands[0].Type)

	results, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusCompletedOK, results[0].Status)

	_, statErr := os.Stat(srcPath)
	assert.True(t, os.IsNotExist(statErr))
	require.Len(t, results[0].Deletes, 1)
}

func TestExecutor_NoGDriveClientConfigured_FailsGDriveCommands(t *testing.T) {
	store := openTestStore(t)

	ex := New(store, nil, slog.Default(), testClock, 4)

	src := &node.GDriveFile{Identifier: node.Identifier{DeviceUID: 1, NodeUID: 1, PathList: []string{"/a.txt"}}, GoogID: "cloud-a"}
	p := planner.New()
	plan, err := p.Plan([]planner.UserOp{{OpType: node.OpRm, SrcNode: src}})
	require.NoError(t, err)

	results, err := ex.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, StatusStoppedOnError, results[0].Status)
}

func TestExecutor_PendingFromPreviousRun_ReportsCommittedCommands(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	dir := &node.LocalDir{Identifier: node.Identifier{DeviceUID: 1, NodeUID: 1, PathList: []string{"/a"}}}
	p := planner.New()
	plan, err := p.Plan([]planner.UserOp{{OpType: node.OpMkdir, SrcNode: dir}})
	require.NoError(t, err)

	require.NoError(t, store.CommitPending(ctx, plan.Commands[0], 1))
	require.NoError(t, store.MarkExecuting(ctx, plan.Commands[0].ID))

	ex := New(store, nil, slog.Default(), testClock, 4)

	executing, notStarted, err := ex.PendingFromPreviousRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{plan.Commands[0].ID}, executing)
	assert.Empty(t, notStarted)
}
