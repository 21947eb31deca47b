package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"shrinkwrap-tools/go/pkg/config"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/signing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBuildConfig(t *testing.T) {
	log = logbowl.Null()
	project := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(project, config.TOMLFile), []byte(
		"entrypoint = \"app.main:app\"\nformat = \"singlefile\"\noptimize = false\nkeep_packages = [\"jinja2\"]\n"), 0644))
	buildProject = project

	cfg, err := resolveBuildConfig(buildCmd)
	require.NoError(t, err)
	assert.Equal(t, "app.main:app", cfg.Entrypoint)
	assert.Equal(t, config.FormatSingleFile, cfg.Format)
	assert.False(t, cfg.Optimize)
	assert.True(t, cfg.StripSources)

	cache := t.TempDir()
	require.NoError(t, buildCmd.ParseFlags([]string{
		"--format", "directory", "--optimize", "--keep-sources",
		"-k", "uvicorn", "--workers", "3", "--cache-dir", cache,
	}))
	cfg, err = resolveBuildConfig(buildCmd)
	require.NoError(t, err)
	assert.Equal(t, config.FormatDirectory, cfg.Format)
	assert.True(t, cfg.Optimize)
	assert.False(t, cfg.StripSources)
	assert.Equal(t, []string{"jinja2", "uvicorn"}, cfg.KeepPackages)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, cache, cfg.CacheDir)
	assert.Equal(t, "app.main:app", cfg.Entrypoint, "unset flags keep file values")

	buildProject = t.TempDir()
	_, err = resolveBuildConfig(buildCmd)
	require.Error(t, err)
	assert.Equal(t, 2, swerrors.ExitCode(err))
}

func TestKeygenAndVerifyCommands(t *testing.T) {
	dir := t.TempDir()
	rootCmd.SetArgs([]string{"keygen", "-d", dir, "--bits", "2048"})
	require.NoError(t, rootCmd.Execute())
	priv := filepath.Join(dir, signing.DefaultPrivateKeyFile)
	pub := filepath.Join(dir, signing.DefaultPublicKeyFile)
	assert.FileExists(t, priv)
	assert.FileExists(t, pub)

	rootCmd.SetArgs([]string{"keygen", "-d", dir, "--bits", "2048"})
	err := rootCmd.Execute()
	require.Error(t, err, "existing keys are never overwritten")
	assert.True(t, swerrors.Is(err, swerrors.KindConfig))

	artifact := filepath.Join(dir, "app.tar.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0644))
	_, err = signing.SignFile(logbowl.Null(), artifact, priv)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{"verify", artifact, "--public-key", pub})
	require.NoError(t, rootCmd.Execute())

	require.NoError(t, os.WriteFile(artifact, []byte("tampered"), 0644))
	rootCmd.SetArgs([]string{"verify", artifact, "--public-key", pub})
	err = rootCmd.Execute()
	require.Error(t, err)
	assert.Equal(t, 21, swerrors.ExitCode(err))
}

func TestInfoRejectsPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, []byte("no marker here\n"), 0644))
	rootCmd.SetArgs([]string{"info", path})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindBundleFormat))
}
