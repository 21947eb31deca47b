package deps

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"shrinkwrap-tools/go/pkg/config"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDiscoverRequirementFiles(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "requirements.txt"), `# web
fastapi>=0.110
-r other.txt
--index-url https://example.invalid/simple

uvicorn[standard]==0.29  # server
./libs/shared
`)
	write(t, filepath.Join(root, "requirements-dev.txt"), "pytest\nfastapi>=0.110\n")
	write(t, filepath.Join(root, "pyproject.toml"), "[project]\ndependencies = [\"ignored\"]\n")

	reqs, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"fastapi>=0.110", "uvicorn[standard]==0.29", "./libs/shared", "pytest"}, reqs)
}

func TestDiscoverPyprojectFallback(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "pyproject.toml"), `[project]
name = "svc"
dependencies = ["fastapi", "httpx>=0.27", "fastapi"]
`)

	reqs, err := Discover(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"fastapi", "httpx>=0.27"}, reqs)
}

func TestDiscoverErrors(t *testing.T) {
	empty := t.TempDir()
	_, err := Discover(empty)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindRequirements))
	assert.Equal(t, 4, swerrors.ExitCode(err))

	onlyComments := t.TempDir()
	write(t, filepath.Join(onlyComments, "requirements.txt"), "# nothing\n\n-e .\n")
	_, err = Discover(onlyComments)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindRequirements))
	assert.Contains(t, err.Error(), "contained no dependencies")

	broken := t.TempDir()
	write(t, filepath.Join(broken, "pyproject.toml"), "[project\n")
	_, err = Discover(broken)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindRequirements))

	noDeps := t.TempDir()
	write(t, filepath.Join(noDeps, "pyproject.toml"), "[project]\nname = \"svc\"\n")
	_, err = Discover(noDeps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no supported dependency files")
}

func TestIsLocal(t *testing.T) {
	assert.True(t, IsLocal("./libs/shared"))
	assert.True(t, IsLocal("../sibling"))
	assert.True(t, IsLocal("."))
	assert.False(t, IsLocal("fastapi>=0.1"))
	assert.False(t, IsLocal("git+https://example.invalid/repo.git"))
}

// fakeTool records its arguments into the directory passed after -t or
// --target.
func fakeTool(t *testing.T, name string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in")
	}
	path := filepath.Join(t.TempDir(), name)
	script := `#!/bin/sh
all="$*"
while [ $# -gt 0 ]; do
    case "$1" in
        -t|--target) target="$2" ;;
    esac
    shift
done
echo "$all" > "$target/args.txt"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestInstallWithPip(t *testing.T) {
	python := fakeTool(t, "python")
	project := t.TempDir()
	target := filepath.Join(t.TempDir(), "site-packages")

	err := Install(logbowl.Null(), []string{"fastapi", "./libs/shared"}, target, InstallOptions{
		Python:      python,
		Installer:   config.InstallerPip,
		ProjectRoot: project,
	})
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(target, "args.txt"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(args))
	assert.True(t, strings.HasPrefix(line, "-m pip install --no-compile"), line)
	assert.Contains(t, line, "-t "+target)
	assert.True(t, strings.HasSuffix(line, "fastapi "+filepath.Join(project, "libs", "shared")), line)
}

func TestInstallPrefersUV(t *testing.T) {
	uv := fakeTool(t, "uv")
	target := filepath.Join(t.TempDir(), "site-packages")
	cache := t.TempDir()

	err := Install(logbowl.Null(), []string{"fastapi"}, target, InstallOptions{
		Python:    "/opt/python/bin/python3",
		Installer: config.InstallerAuto,
		UV:        uv,
		CacheDir:  cache,
	})
	require.NoError(t, err)

	args, err := os.ReadFile(filepath.Join(target, "args.txt"))
	require.NoError(t, err)
	assert.Equal(t, "pip install --target "+target+" --python /opt/python/bin/python3 --cache-dir "+filepath.Join(cache, "uv")+" fastapi", strings.TrimSpace(string(args)))
}

func TestInstallFailures(t *testing.T) {
	target := filepath.Join(t.TempDir(), "site-packages")

	err := Install(logbowl.Null(), nil, target, InstallOptions{Python: "python3"})
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindRequirements))

	err = Install(logbowl.Null(), []string{"fastapi"}, target, InstallOptions{
		Python:    filepath.Join(t.TempDir(), "missing-python"),
		Installer: config.InstallerPip,
	})
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindSubprocess))

	err = Install(logbowl.Null(), []string{"fastapi"}, target, InstallOptions{Python: "python3", Installer: "conda"})
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindConfig))
}
