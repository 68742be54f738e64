package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sandbox(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello sandbox"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.go"), []byte("package a"), 0o644))
	return dir
}

func TestReadFile(t *testing.T) {
	tool := ReadFile{Root: sandbox(t)}

	out, err := tool.Call(context.Background(), map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	got := out.(fileContent)
	assert.Equal(t, "hello sandbox", got.Content)
	assert.Equal(t, int64(13), got.Size)

	out, err = tool.Call(context.Background(), map[string]any{"path": "sub/a.go"})
	require.NoError(t, err)
	assert.Equal(t, "package a", out.(fileContent).Content)
}

func TestReadFile_StaysInRoot(t *testing.T) {
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644))
	root := sandbox(t)
	tool := ReadFile{Root: root}

	for _, path := range []string{
		"../" + filepath.Base(outside) + "/secret",
		filepath.Join(outside, "secret"),
	} {
		_, err := tool.Call(context.Background(), map[string]any{"path": path})
		assert.Error(t, err, path)
	}

	if err := os.Symlink(filepath.Join(outside, "secret"), filepath.Join(root, "link")); err == nil {
		_, err := tool.Call(context.Background(), map[string]any{"path": "link"})
		assert.Error(t, err, "symlink out of the sandbox")
	}
}

func TestReadFile_Errors(t *testing.T) {
	tool := ReadFile{Root: sandbox(t)}

	_, err := tool.Call(context.Background(), nil)
	assert.ErrorContains(t, err, `"path"`)

	_, err = tool.Call(context.Background(), map[string]any{"path": "missing.txt"})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = tool.Call(context.Background(), map[string]any{"path": "sub"})
	assert.ErrorContains(t, err, "is a directory")
}

func TestListDir(t *testing.T) {
	tool := ListDir{Root: sandbox(t)}

	out, err := tool.Call(context.Background(), nil)
	require.NoError(t, err)
	got := out.(dirListing)
	assert.Equal(t, ".", got.Directory)
	require.Equal(t, 2, got.Count)
	// ReadDir sorts by name
	assert.Equal(t, "notes.txt", got.Entries[0].Name)
	assert.False(t, got.Entries[0].IsDir)
	assert.Equal(t, int64(13), got.Entries[0].Size)
	assert.Equal(t, "sub", got.Entries[1].Name)
	assert.True(t, got.Entries[1].IsDir)

	out, err = tool.Call(context.Background(), map[string]any{"path": "sub"})
	require.NoError(t, err)
	assert.Equal(t, 1, out.(dirListing).Count)

	_, err = tool.Call(context.Background(), map[string]any{"path": ".."})
	assert.Error(t, err)
	_, err = tool.Call(context.Background(), map[string]any{"path": "notes.txt"})
	assert.Error(t, err)
}

func TestExecute_ReadFileRecordsCall(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, sandbox(t)))
	rec := &recorder{}
	ex := NewExecutor(reg, rec)

	res, err := ex.Execute(context.Background(), "read_file", map[string]any{"path": "notes.txt"})
	require.NoError(t, err)
	assert.True(t, res.Record.Success)
	assert.Contains(t, res.Record.Summary, "hello sandbox")

	_, err = ex.Execute(context.Background(), "read_file", map[string]any{"path": "../escape"})
	require.Error(t, err)
	require.Len(t, rec.records, 2)
	assert.False(t, rec.records[1].Success)
}
