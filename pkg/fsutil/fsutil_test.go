package fsutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	swerrors "shrinkwrap-tools/go/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCopyTreeMergesAndOverwrites(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "dst")
	writeFile(t, filepath.Join(src, "a.txt"), "new")
	writeFile(t, filepath.Join(src, "sub", "b.txt"), "b")
	writeFile(t, filepath.Join(dst, "a.txt"), "old-and-longer")
	writeFile(t, filepath.Join(dst, "keep.txt"), "keep")

	require.NoError(t, CopyTree(src, dst, nil))
	// running twice must be harmless
	require.NoError(t, CopyTree(src, dst, nil))

	data, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
	assert.FileExists(t, filepath.Join(dst, "sub", "b.txt"))
	assert.FileExists(t, filepath.Join(dst, "keep.txt"))
}

func TestCopyTreeSkip(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, filepath.Join(src, "keep.py"), "x")
	writeFile(t, filepath.Join(src, "out", "nested.txt"), "x")

	err := CopyTree(src, dst, func(path, rel string, d fs.DirEntry) bool {
		return rel == "out"
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dst, "keep.py"))
	assert.NoDirExists(t, filepath.Join(dst, "out"))
}

func TestCopyFileKeepsMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0755))

	dst := filepath.Join(dir, "bin", "tool")
	require.NoError(t, CopyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a"), "12345")
	writeFile(t, filepath.Join(dir, "b", "c"), "123")

	size, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(8), size)
}

func TestWithTempDirRemovesOnError(t *testing.T) {
	var seen string
	err := WithTempDir("fsutil-test-", func(dir string) error {
		seen = dir
		writeFile(t, filepath.Join(dir, "x"), "x")
		return swerrors.New(swerrors.KindBuild, "boom")
	})
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindBuild))
	assert.NoDirExists(t, seen)
}

func TestWithin(t *testing.T) {
	root := t.TempDir()
	assert.True(t, Within(root, root))
	assert.True(t, Within(filepath.Join(root, "a", "b"), root))
	assert.False(t, Within(filepath.Dir(root), root))
	assert.False(t, Within(root+"-sibling", root))
}

func TestEnsureDirErrorKind(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	writeFile(t, file, "x")

	err := EnsureDir(filepath.Join(file, "child"))
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindFilesystem))
}
