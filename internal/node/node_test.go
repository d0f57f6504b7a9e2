package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPID_GUID(t *testing.T) {
	s := SPID{DeviceUID: 1, NodeUID: 42, Path: "/a/b"}
	assert.Equal(t, "1:42:/a/b", s.GUID())

	s2 := SPID{DeviceUID: 1, NodeUID: 42}
	assert.Equal(t, "1:42", s2.GUID())
}

func TestIdentifier_HasPath(t *testing.T) {
	id := Identifier{DeviceUID: 1, NodeUID: 2, PathList: []string{"/a", "/b"}}
	assert.True(t, id.HasPath("/a"))
	assert.False(t, id.HasPath("/c"))
}

func TestLocalDir_Capabilities(t *testing.T) {
	d := &LocalDir{Identifier: Identifier{DeviceUID: 1, NodeUID: 2}, ParentUID: 1, Live: true}

	assert.True(t, d.IsDir())
	assert.False(t, d.IsFile())
	assert.False(t, d.IsDisplayOnly())
	assert.Equal(t, NullUID, d.ContentUID())
	assert.Equal(t, []uint64{1}, d.ParentUIDs())
}

func TestLocalDir_UpdateFrom_PreservesAllChildrenFetched(t *testing.T) {
	d := &LocalDir{AllChildrenFetched: true}
	incoming := &LocalDir{AllChildrenFetched: false, Trashed: true}

	require.NoError(t, d.UpdateFrom(incoming))
	assert.True(t, d.AllChildrenFetched)
	assert.True(t, d.Trashed)
}

func TestLocalDir_UpdateFrom_TypeMismatch(t *testing.T) {
	d := &LocalDir{}
	err := d.UpdateFrom(&LocalFile{})
	assert.ErrorIs(t, err, errTypeMismatch)
}

func TestGDriveFile_MultipleParents(t *testing.T) {
	f := &GDriveFile{Parents: []uint64{10, 20}}
	assert.Equal(t, []uint64{10, 20}, f.ParentUIDs())
	assert.True(t, f.IsFile())
	assert.False(t, f.IsLive() == f.Trashed)
}

func TestDisplayOnlyNodes_NeverLiveOrPersisted(t *testing.T) {
	nodes := []Node{
		&Container{},
		&Category{OpType: OpMkdir},
		&RootType{},
	}

	for _, n := range nodes {
		assert.True(t, n.IsDisplayOnly())
		assert.False(t, n.IsDir())
		assert.False(t, n.IsFile())
		assert.False(t, n.IsLive())
	}
}

func TestUserOpType_String(t *testing.T) {
	assert.Equal(t, "MKDIR", OpMkdir.String())
	assert.Equal(t, "MV_ONTO", OpMvOnto.String())
}
