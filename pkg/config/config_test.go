package config

import (
	"os"
	"path/filepath"
	"testing"

	swerrors "shrinkwrap-tools/go/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) BuildConfig {
	t.Helper()
	cfg := Default()
	cfg.Entrypoint = "app.main:app"
	cfg.ProjectRoot = t.TempDir()
	return cfg
}

func TestDefaultIsValidOnceEntrypointIsSet(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "app.main", cfg.EntryModule())
	assert.Equal(t, "app", cfg.EntryAttribute())
	assert.Equal(t, 2, cfg.OptimizeLevel)
	assert.True(t, cfg.PruneUnused)
}

func TestValidateRejects(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	cases := map[string]func(*BuildConfig){
		"no colon":         func(c *BuildConfig) { c.Entrypoint = "app.main" },
		"empty attribute":  func(c *BuildConfig) { c.Entrypoint = "app.main:" },
		"empty module":     func(c *BuildConfig) { c.Entrypoint = ":app" },
		"missing root":     func(c *BuildConfig) { c.ProjectRoot = filepath.Join(file, "nope") },
		"root is file":     func(c *BuildConfig) { c.ProjectRoot = file },
		"empty name":       func(c *BuildConfig) { c.OutputName = "" },
		"name with slash":  func(c *BuildConfig) { c.OutputName = "a/b" },
		"name with bslash": func(c *BuildConfig) { c.OutputName = `a\b` },
		"bad format":       func(c *BuildConfig) { c.Format = "rpm" },
		"bad compression":  func(c *BuildConfig) { c.Compression = "rar" },
		"bad level":        func(c *BuildConfig) { c.OptimizeLevel = 3 },
		"bad installer":    func(c *BuildConfig) { c.Installer = "conda" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, swerrors.Is(err, swerrors.KindConfig), "got %v", err)
			assert.Equal(t, 2, swerrors.ExitCode(err))
		})
	}
}

func TestLoadLayersFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, PyprojectFile), []byte(`
[project]
name = "demo"

[tool.shrinkwrap]
entrypoint = "demo.api:app"
format = "singlefile"
keep_packages = ["uvicorn"]
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, TOMLFile), []byte(`
format = "executable"
optimize_level = 1
[squashfs]
block_size = 65536
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, YAMLFile), []byte("strip_sources: false\nexclude:\n  - tests/**\n"), 0644))

	cfg, applied, err := Load(root)
	require.NoError(t, err)
	assert.Len(t, applied, 3)

	assert.Equal(t, "demo.api:app", cfg.Entrypoint)
	assert.Equal(t, FormatExecutable, cfg.Format)
	assert.Equal(t, []string{"uvicorn"}, cfg.KeepPackages)
	assert.Equal(t, 1, cfg.OptimizeLevel)
	assert.Equal(t, 65536, cfg.SquashFS.BlockSize)
	assert.Equal(t, "xz", cfg.SquashFS.Compression)
	assert.False(t, cfg.StripSources)
	assert.True(t, cfg.ZipImports)
	assert.Equal(t, []string{"tests/**"}, cfg.Exclude)
	assert.Equal(t, root, cfg.ProjectRoot)
	require.NoError(t, cfg.Validate())
}

func TestLoadWithoutFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, PyprojectFile), []byte("[project]\nname = \"x\"\n"), 0644))

	cfg, applied, err := Load(root)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Equal(t, Default().Format, cfg.Format)
}

func TestLoadInvalidFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, TOMLFile), []byte("format = [unclosed"), 0644))

	_, _, err := Load(root)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindConfig))
}
