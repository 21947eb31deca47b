package archive

import (
	"archive/tar"
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSource(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "source")
	files := map[string]string{
		"file1.txt":                      "hello",
		"subdir/file2.txt":               "world",
		".venv/ignored.txt":              "ignore me",
		"app/main.pyc":                   "bytecode",
		"site-packages/pkg/__init__.pyc": "pkg",
		"site-packages/pkg/_speed.so":    "native",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return dir
}

func TestRoundTripAllCompressions(t *testing.T) {
	log := logbowl.Create("test-archive")
	src := makeSource(t)

	for _, c := range Compressions {
		t.Run(string(c), func(t *testing.T) {
			out := filepath.Join(t.TempDir(), c.WithExtension("bundle"))
			require.NoError(t, CreateFile(log, out, src, c, Options{Exclude: []string{"**/.venv/**", ".venv"}}))

			dest := t.TempDir()
			files, err := ExtractFile(out, dest)
			require.NoError(t, err)
			sort.Strings(files)
			assert.Equal(t, []string{
				"app/main.pyc",
				"file1.txt",
				"site-packages/pkg/__init__.pyc",
				"site-packages/pkg/_speed.so",
				"subdir/file2.txt",
			}, files)

			data, err := os.ReadFile(filepath.Join(dest, "subdir", "file2.txt"))
			require.NoError(t, err)
			assert.Equal(t, "world", string(data))
			assert.NoDirExists(t, filepath.Join(dest, ".venv"))
		})
	}
}

func TestCreateIncludeAndSkip(t *testing.T) {
	src := makeSource(t)
	out := filepath.Join(t.TempDir(), "bundle.pyz")

	skipNative := func(rel string, info os.FileInfo) bool {
		return strings.HasSuffix(rel, ".so")
	}
	require.NoError(t, CreateFile(logbowl.Null(), out, src, Zip, Options{
		Include: []string{"app", "site-packages", "missing"},
		Skip:    skipNative,
	}))

	files, err := ExtractFile(out, t.TempDir())
	require.NoError(t, err)
	sort.Strings(files)
	assert.Equal(t, []string{"app/main.pyc", "site-packages/pkg/__init__.pyc"}, files)
}

func TestCompressionNames(t *testing.T) {
	c, err := ParseCompression(" GZTAR ")
	require.NoError(t, err)
	assert.Equal(t, GzipTar, c)
	assert.Equal(t, "dist/app.tar.gz", GzipTar.WithExtension("dist/app"))
	assert.Equal(t, "dist/app.zip", Zip.WithExtension("dist/app.tar.gz"))
	assert.Equal(t, "app.tar.xz", XzTar.WithExtension("app.tgz"))

	_, err = ParseCompression("rar")
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindBundleFormat))

	_, err = Detect("archive.rar")
	assert.Error(t, err)
}

func TestExtractRejectsZipSlip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.txt", Mode: 0644, Size: 4, Typeflag: tar.TypeReg}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())

	dest := filepath.Join(t.TempDir(), "dest")
	_, err = ExtractTar(&buf, dest, GzipTar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dest), "evil.txt"))
}

func tarWith(t *testing.T, headers ...*tar.Header) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	for _, h := range headers {
		require.NoError(t, tw.WriteHeader(h))
		if h.Typeflag == tar.TypeReg {
			_, err := tw.Write(make([]byte, h.Size))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	return &buf
}

func TestExtractRejectsEscapingSymlinks(t *testing.T) {
	outside := t.TempDir()
	for _, target := range []string{outside, "..", "sub/../../x", "../" + filepath.Base(outside)} {
		buf := tarWith(t,
			&tar.Header{Name: "link", Linkname: target, Typeflag: tar.TypeSymlink},
			&tar.Header{Name: "link/evil.txt", Mode: 0644, Size: 4, Typeflag: tar.TypeReg},
		)
		dest := filepath.Join(t.TempDir(), "dest")
		_, err := ExtractTar(buf, dest, GzipTar)
		require.Error(t, err, target)
		assert.True(t, swerrors.Is(err, swerrors.KindBundleFormat), target)
		assert.NoFileExists(t, filepath.Join(outside, "evil.txt"), target)
	}
}

func TestExtractKeepsInwardSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	buf := tarWith(t,
		&tar.Header{Name: "lib/", Mode: 0755, Typeflag: tar.TypeDir},
		&tar.Header{Name: "lib/libpython3.11.so.1.0", Mode: 0644, Size: 3, Typeflag: tar.TypeReg},
		&tar.Header{Name: "lib/libpython3.11.so", Linkname: "libpython3.11.so.1.0", Typeflag: tar.TypeSymlink},
	)
	dest := t.TempDir()
	files, err := ExtractTar(buf, dest, GzipTar)
	require.NoError(t, err)
	assert.Equal(t, []string{"lib/libpython3.11.so.1.0"}, files)
	target, err := os.Readlink(filepath.Join(dest, "lib", "libpython3.11.so"))
	require.NoError(t, err)
	assert.Equal(t, "libpython3.11.so.1.0", target)
}

func TestCreateFollowsSymlinkedDirectories(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	src := makeSource(t)
	shared := filepath.Join(t.TempDir(), "shared")
	require.NoError(t, os.MkdirAll(filepath.Join(shared, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(shared, "nested", "data.txt"), []byte("shared"), 0644))
	require.NoError(t, os.Symlink(shared, filepath.Join(src, "linked")))
	// a cycle back to the root is packed once
	require.NoError(t, os.Symlink(src, filepath.Join(src, "subdir", "loop")))

	out := filepath.Join(t.TempDir(), "bundle.tar.gz")
	require.NoError(t, CreateFile(logbowl.Null(), out, src, GzipTar, Options{Exclude: []string{".venv"}}))

	dest := t.TempDir()
	files, err := ExtractFile(out, dest)
	require.NoError(t, err)
	assert.Contains(t, files, "linked/nested/data.txt")
	for _, f := range files {
		assert.NotContains(t, f, "loop/", "cycles are not followed")
	}
	data, err := os.ReadFile(filepath.Join(dest, "linked", "nested", "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "shared", string(data))
}
