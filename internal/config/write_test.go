package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateConfigWithTree_NewFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	err := CreateConfigWithTree(path, "default", TreeTypeLocalDisk, "/home/user/sync")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, "treesync configuration")
	assert.Contains(t, content, `[tree.default]`)
	assert.Contains(t, content, `tree_type = "LOCAL_DISK"`)
	assert.Contains(t, content, `root_path = "/home/user/sync"`)
}

func TestCreateConfigWithTree_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	err := CreateConfigWithTree(path, "default", TreeTypeLocalDisk, "/home/user/sync")
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestCreateConfigWithTree_FilePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	err := CreateConfigWithTree(path, "default", TreeTypeLocalDisk, "/home/user/sync")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestAppendTreeSection_ToExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	content := string(data)
	assert.Contains(t, content, `[tree.work]`)
	assert.Contains(t, content, `[tree.backup]`)
	assert.Contains(t, content, `root_path = "/mnt/backup"`)
}

func TestAppendTreeSection_NoTrailingNewlineInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, os.WriteFile(path, []byte(`[tree.work]
tree_type = "LOCAL_DISK"
root_path = "/home/user/work"`), 0o644))

	err := AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "root_path = \"/home/user/work\"\n\n[tree.backup]")
}

func TestAppendTreeSection_PreservesComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	original := `# my personal notes
[tree.work]
tree_type = "LOCAL_DISK"
root_path = "/home/user/work"
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))
	require.NoError(t, AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# my personal notes")
}

func TestAppendTreeSection_MissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nonexistent.toml")

	err := AppendTreeSection(path, "work", TreeTypeLocalDisk, "/home/user/work")
	require.Error(t, err)
}

func TestSetTreeKey_InsertsNewKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, SetTreeKey(path, "work", "friendly_name", "Work Laptop"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `friendly_name = "Work Laptop"`)
}

func TestSetTreeKey_ReplacesExistingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, SetTreeKey(path, "work", "root_path", "/home/user/newpath"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `root_path = "/home/user/newpath"`)
	assert.NotContains(t, content, "/home/user/work")
}

func TestSetTreeKey_BooleanValueUnquoted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, SetTreeKey(path, "work", "read_only_config", "true"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "read_only_config = true")
}

func TestSetTreeKey_SectionNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))

	err := SetTreeKey(path, "missing", "root_path", "/x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSetTreeKey_UpdateDoesNotAffectOtherSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup"))
	require.NoError(t, SetTreeKey(path, "work", "friendly_name", "Work"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, `root_path = "/mnt/backup"`)
	assert.NotContains(t, content, `friendly_name = "Work"`+"\nroot_path = \"/mnt/backup\"")
}

func TestDeleteTreeKey_RemovesKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, SetTreeKey(path, "work", "friendly_name", "Work"))
	require.NoError(t, DeleteTreeKey(path, "work", "friendly_name"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "friendly_name")
}

func TestDeleteTreeKey_KeyNotPresent_NoError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))

	err := DeleteTreeKey(path, "work", "friendly_name")
	require.NoError(t, err)
}

func TestDeleteTreeKey_SectionNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))

	err := DeleteTreeKey(path, "missing", "root_path")
	require.Error(t, err)
}

func TestDeleteTreeSection_RemovesWholeSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup"))
	require.NoError(t, DeleteTreeSection(path, "backup"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "[tree.backup]")
	assert.Contains(t, content, "[tree.work]")
}

func TestDeleteTreeSection_LastSection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, DeleteTreeSection(path, "work"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "[tree.work]")
}

func TestDeleteTreeSection_SectionNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))

	err := DeleteTreeSection(path, "missing")
	require.Error(t, err)
}

func TestDeleteTreeSection_PreservesPrecedingComment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	original := `[tree.work]
tree_type = "LOCAL_DISK"
root_path = "/home/user/work"

# backup drive, external USB
[tree.backup]
tree_type = "LOCAL_DISK"
root_path = "/mnt/backup"
`
	require.NoError(t, os.WriteFile(path, []byte(original), 0o644))
	require.NoError(t, DeleteTreeSection(path, "backup"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "[tree.backup]")
	assert.NotContains(t, content, "backup drive")
	assert.Contains(t, content, "[tree.work]")
}

func TestFindSectionHeader_Found(t *testing.T) {
	lines := []string{"[tree.work]", "tree_type = \"LOCAL_DISK\"", "[tree.backup]"}
	header, start := findSectionHeader(lines, "work")
	assert.Equal(t, 0, header)
	assert.Equal(t, 1, start)
}

func TestFindSectionHeader_NotFound(t *testing.T) {
	lines := []string{"[tree.work]"}
	header, start := findSectionHeader(lines, "missing")
	assert.Equal(t, -1, header)
	assert.Equal(t, -1, start)
}

func TestFindSectionEnd_StopsAtNextSection(t *testing.T) {
	lines := []string{
		"[tree.work]",
		"tree_type = \"LOCAL_DISK\"",
		"root_path = \"/home/user/work\"",
		"",
		"[tree.backup]",
		"tree_type = \"LOCAL_DISK\"",
	}
	end := findSectionEnd(lines, 1)
	assert.Equal(t, 3, end)
}

func TestFindSectionEnd_LastSectionInFile(t *testing.T) {
	lines := []string{"[tree.work]", "tree_type = \"LOCAL_DISK\"", "root_path = \"/home/user/work\""}
	end := findSectionEnd(lines, 1)
	assert.Equal(t, 3, end)
}

func TestFormatTOMLValue_Boolean(t *testing.T) {
	assert.Equal(t, "true", formatTOMLValue("true"))
	assert.Equal(t, "false", formatTOMLValue("false"))
}

func TestFormatTOMLValue_String(t *testing.T) {
	assert.Equal(t, `"/home/user/sync"`, formatTOMLValue("/home/user/sync"))
}

func TestTreeSection_Format(t *testing.T) {
	section := treeSection("work", TreeTypeLocalDisk, "/home/user/work")
	assert.Equal(t, "\n[tree.work]\ntree_type = \"LOCAL_DISK\"\nroot_path = \"/home/user/work\"\n", section)
}

func TestAtomicWriteFile_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	err := atomicWriteFile(path, []byte("hello"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestAtomicWriteFile_OverwritesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))
	require.NoError(t, atomicWriteFile(path, []byte("new")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestAtomicWriteFile_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c", "config.toml")

	err := atomicWriteFile(path, []byte("data"))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestAtomicWriteFile_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, atomicWriteFile(path, []byte("data")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "config.toml", entries[0].Name())
}

// Integration scenarios mirroring real CLI workflows.

func TestScenario_AddTreeThenAddSecondTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[tree.work]")
	assert.Contains(t, content, "[tree.backup]")
}

func TestScenario_RemoveTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup"))
	require.NoError(t, DeleteTreeSection(path, "backup"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[tree.work]")
	assert.NotContains(t, content, "[tree.backup]")
}

func TestScenario_RenameFriendlyNameThenDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, SetTreeKey(path, "work", "friendly_name", "Work Laptop"))
	require.NoError(t, SetTreeKey(path, "work", "friendly_name", "Renamed Laptop"))
	require.NoError(t, DeleteTreeKey(path, "work", "friendly_name"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "friendly_name")
	assert.Contains(t, string(data), "[tree.work]")
}

func TestScenario_RemoveAllTrees(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	require.NoError(t, CreateConfigWithTree(path, "work", TreeTypeLocalDisk, "/home/user/work"))
	require.NoError(t, AppendTreeSection(path, "backup", TreeTypeLocalDisk, "/mnt/backup"))
	require.NoError(t, DeleteTreeSection(path, "work"))
	require.NoError(t, DeleteTreeSection(path, "backup"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.NotContains(t, content, "[tree.work]")
	assert.NotContains(t, content, "[tree.backup]")
	assert.Contains(t, content, "treesync configuration")
}
