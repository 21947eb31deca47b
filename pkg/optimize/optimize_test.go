package optimize

import (
	"os"
	"path/filepath"
	"testing"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/pyruntime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func bundle(t *testing.T) layout.Layout {
	t.Helper()
	l := layout.New(t.TempDir(), pyruntime.PlatformPOSIX, filepath.Join("lib", "python3.11"))
	writeFiles(t, l.Root, map[string]string{
		"runtime/bin/python":                                      "elf",
		"runtime/lib/python3.11/os.py":                            "# os",
		"runtime/lib/python3.11/tkinter/__init__.py":              "tk",
		"runtime/lib/python3.11/test/test_os.py":                  "t",
		"meta/runtime.json":                                       "{}",
		"app/main.py":                                             "app = None",
		"app/__pycache__/main.cpython-311.pyc":                    "pyc",
		"app/requirements.txt":                                    "fastapi",
		"app/build/lib/x.py":                                      "x",
		"site-packages/foo/__init__.py":                           "",
		"site-packages/foo/core.pyi":                              "stub",
		"site-packages/foo/py.typed":                              "",
		"site-packages/foo/tests/test_core.py":                    "0123456789",
		"site-packages/foo/tests/__pycache__/a.pyc":               "pyc",
		"site-packages/foo/README.md":                             "readme",
		"site-packages/foo-1.0.dist-info/METADATA":                "Name: foo",
		"site-packages/foo-1.0.dist-info/LICENSE":                 "MIT",
		"site-packages/pip/__init__.py":                           "",
		"site-packages/pip-24.0.dist-info/METADATA":               "Name: pip",
		"site-packages/typing_ext.py":                             "",
		"site-packages/typing_ext-4.0.dist-info/RECORD":           "typing_ext.py,,",
		"site-packages/_speedups.cpython-311-x86_64-linux-gnu.so": "elf",
	})
	return l
}

func TestOptimizeDefaults(t *testing.T) {
	l := bundle(t)

	stats, err := Optimize(logbowl.Null(), l, DefaultOptions())
	require.NoError(t, err)

	assert.NoDirExists(t, filepath.Join(l.AppDir(), "__pycache__"))
	assert.NoFileExists(t, filepath.Join(l.AppDir(), "requirements.txt"))
	assert.NoDirExists(t, filepath.Join(l.AppDir(), "build"))
	assert.FileExists(t, filepath.Join(l.AppDir(), "main.py"))

	site := l.SitePackagesDir()
	assert.NoDirExists(t, filepath.Join(site, "foo", "tests"))
	assert.NoFileExists(t, filepath.Join(site, "foo", "core.pyi"))
	assert.NoFileExists(t, filepath.Join(site, "foo", "py.typed"))
	assert.NoFileExists(t, filepath.Join(site, "foo", "README.md"))
	assert.NoFileExists(t, filepath.Join(site, "foo-1.0.dist-info", "LICENSE"))
	assert.FileExists(t, filepath.Join(site, "foo-1.0.dist-info", "METADATA"))
	assert.NoDirExists(t, filepath.Join(site, "pip"))
	assert.NoDirExists(t, filepath.Join(site, "pip-24.0.dist-info"))

	// the stdlib is left alone without the aggressive flag
	assert.DirExists(t, filepath.Join(l.StdlibDir(), "tkinter"))

	assert.Greater(t, stats.FilesRemoved, 0)
	assert.Greater(t, stats.DirectoriesRemoved, 0)
	assert.Greater(t, stats.BytesReclaimed, int64(0))
	assert.Equal(t, 2, stats.PackagesRemoved)
}

func TestOptimizeIsIdempotent(t *testing.T) {
	l := bundle(t)
	opts := DefaultOptions()
	opts.AggressiveStdlib = true
	opts.RemovePackages = []string{"typing-ext", "_speedups"}

	first, err := Optimize(logbowl.Null(), l, opts)
	require.NoError(t, err)
	assert.Greater(t, first.FilesRemoved, 0)

	second, err := Optimize(logbowl.Null(), l, opts)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, second)
}

func TestOptimizeRemovePackages(t *testing.T) {
	l := bundle(t)
	site := l.SitePackagesDir()

	_, err := Optimize(logbowl.Null(), l, Options{RemovePackages: []string{"typing-ext", "_speedups", "foo"}})
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(site, "typing_ext.py"))
	assert.NoDirExists(t, filepath.Join(site, "typing_ext-4.0.dist-info"))
	assert.NoFileExists(t, filepath.Join(site, "_speedups.cpython-311-x86_64-linux-gnu.so"))
	assert.NoDirExists(t, filepath.Join(site, "foo"))
	assert.NoDirExists(t, filepath.Join(site, "foo-1.0.dist-info"))
	assert.DirExists(t, filepath.Join(site, "pip"))
}

func TestOptimizeAggressiveStdlib(t *testing.T) {
	l := bundle(t)

	stats, err := Optimize(logbowl.Null(), l, Options{AggressiveStdlib: true})
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(l.StdlibDir(), "tkinter"))
	assert.NoDirExists(t, filepath.Join(l.StdlibDir(), "test"))
	assert.FileExists(t, filepath.Join(l.StdlibDir(), "os.py"))
	assert.Equal(t, 2, stats.DirectoriesRemoved)
	assert.Equal(t, 0, stats.PackagesRemoved)
}

func TestOptimizeExtraGlobs(t *testing.T) {
	l := bundle(t)

	stats, err := Optimize(logbowl.Null(), l, Options{ExtraGlobs: []string{"**/*.so"}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, int64(3), stats.BytesReclaimed)

	_, err = Optimize(logbowl.Null(), l, Options{ExtraGlobs: []string{"[oops"}})
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindConfig))
}

func TestOptimizeRequiresValidLayout(t *testing.T) {
	l := bundle(t)
	require.NoError(t, os.RemoveAll(l.SitePackagesDir()))

	_, err := Optimize(logbowl.Null(), l, DefaultOptions())
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindBuild))
}

func TestDedupeKeepsOutermost(t *testing.T) {
	in := []string{
		filepath.FromSlash("/b/site/foo/tests/x.pyc"),
		filepath.FromSlash("/b/site/foo/tests"),
		filepath.FromSlash("/b/site/foo"),
		filepath.FromSlash("/b/site/foo"),
		filepath.FromSlash("/b/site/foobar"),
	}
	assert.Equal(t, []string{filepath.FromSlash("/b/site/foo"), filepath.FromSlash("/b/site/foobar")}, dedupe(in))
}
