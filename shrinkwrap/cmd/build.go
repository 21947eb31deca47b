package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"shrinkwrap-tools/go/pkg/config"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/pipeline"

	"github.com/spf13/cobra"
)

var (
	buildEntry        string
	buildProject      string
	buildOutput       string
	buildFormat       string
	buildCompression  string
	buildPython       string
	buildInstaller    string
	buildSigningKey   string
	buildCacheDir     string
	buildDepsDir      string
	buildWorkers      int
	buildKeep         []string
	buildDrop         []string
	buildStripGlobs   []string
	buildExclude      []string
	buildRequirements []string
)

// toggles pairs each boolean setting with its enabling and disabling flag.
var toggles = []struct {
	on, off string
	usage   string
	field   func(*config.BuildConfig) *bool
}{
	{"optimize", "no-optimize", "strip tests, docs and packaging tools from the bundle", func(c *config.BuildConfig) *bool { return &c.Optimize }},
	{"prune-unused", "no-prune-unused", "remove installed packages the application never imports", func(c *config.BuildConfig) *bool { return &c.PruneUnused }},
	{"zip-imports", "no-zip-imports", "pack application and dependency modules into bundle.pyz", func(c *config.BuildConfig) *bool { return &c.ZipImports }},
	{"strip-sources", "keep-sources", "remove .py sources once compiled", func(c *config.BuildConfig) *bool { return &c.StripSources }},
	{"freeze-metadata", "no-freeze-metadata", "snapshot distribution metadata into the bundle", func(c *config.BuildConfig) *bool { return &c.FreezeMetadata }},
	{"block-packaging", "allow-packaging", "make pip and setuptools unimportable at runtime", func(c *config.BuildConfig) *bool { return &c.BlockPackaging }},
	{"aggressive-stdlib", "no-aggressive-stdlib", "also trim rarely used standard library packages", func(c *config.BuildConfig) *bool { return &c.AggressiveStdlib }},
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Builds a bundle for a FastAPI entrypoint.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveBuildConfig(cmd)
		if err != nil {
			return err
		}
		log.Info("builder", "start", "progress", "Building bundle", "entrypoint", cfg.Entrypoint, "format", cfg.Format, "output", cfg.Output)

		res, err := pipeline.Run(log, pipeline.Request{
			Config:       cfg,
			DepsDir:      buildDepsDir,
			Requirements: buildRequirements,
			Version:      Version,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Build complete: %s\n", res.Artifact)
		if res.Launcher != "" {
			fmt.Printf("Run with: %s\n", res.Launcher)
		}
		if res.Signature != "" {
			fmt.Printf("Signature: %s\n", res.Signature)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	f := buildCmd.Flags()
	f.StringVarP(&buildEntry, "entry", "e", "", "ASGI entrypoint (example: app.main:app).")
	f.StringVarP(&buildProject, "project", "p", ".", "Project root holding the application and its config files.")
	f.StringVarP(&buildOutput, "output", "o", "", "Output directory, or output file path for non-directory formats.")
	f.StringVarP(&buildFormat, "format", "f", "", fmt.Sprintf("Output format %v.", config.Formats))
	f.StringVarP(&buildCompression, "compression", "c", "", "Single-file compression (gztar, zstdtar, xztar, zip).")
	f.StringVar(&buildPython, "python", "", "Interpreter to bundle; found on PATH when empty.")
	f.StringVar(&buildInstaller, "installer", "", "Dependency installer (auto, uv, pip).")
	f.StringVar(&buildSigningKey, "signing-key", "", "Private key used to sign the artifact.")
	f.StringVar(&buildCacheDir, "cache-dir", "", "Installer cache directory.")
	f.StringVar(&buildDepsDir, "deps-dir", "", "Use an already installed dependency directory instead of installing.")
	f.IntVar(&buildWorkers, "workers", 0, "Parallel compile jobs; 0 uses every CPU.")
	f.StringSliceVarP(&buildKeep, "keep-package", "k", nil, "Never prune this package (repeatable).")
	f.StringSliceVarP(&buildDrop, "drop-package", "d", nil, "Always remove this package (repeatable).")
	f.StringSliceVar(&buildStripGlobs, "strip-glob", nil, "Extra glob removed from app and site-packages (repeatable).")
	f.StringSliceVar(&buildExclude, "exclude", nil, "Glob excluded when copying the project (repeatable).")
	f.StringSliceVarP(&buildRequirements, "requirement", "r", nil, "Requirement to install instead of discovering them (repeatable).")
	for _, t := range toggles {
		f.Bool(t.on, false, "Enable: "+t.usage+".")
		f.Bool(t.off, false, "Disable: "+t.usage+".")
		buildCmd.MarkFlagsMutuallyExclusive(t.on, t.off)
	}
}

// resolveBuildConfig layers the flags that were set on the command line
// over the project's config files.
func resolveBuildConfig(cmd *cobra.Command) (config.BuildConfig, error) {
	cfg, applied, err := config.Load(buildProject)
	if err != nil {
		return cfg, err
	}
	for _, path := range applied {
		log.Debug("config", "load", "success", "Applied config file", "path", path)
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, value string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	set("entry", &cfg.Entrypoint, buildEntry)
	set("output", &cfg.Output, buildOutput)
	set("format", &cfg.Format, buildFormat)
	set("compression", &cfg.Compression, buildCompression)
	set("python", &cfg.Python, buildPython)
	set("installer", &cfg.Installer, buildInstaller)
	set("signing-key", &cfg.SigningKey, buildSigningKey)
	set("cache-dir", &cfg.CacheDir, buildCacheDir)
	if flags.Changed("workers") {
		cfg.Workers = buildWorkers
	}
	cfg.KeepPackages = append(cfg.KeepPackages, buildKeep...)
	cfg.DropPackages = append(cfg.DropPackages, buildDrop...)
	cfg.StripGlobs = append(cfg.StripGlobs, buildStripGlobs...)
	cfg.Exclude = append(cfg.Exclude, buildExclude...)
	for _, t := range toggles {
		if flags.Changed(t.on) {
			*t.field(&cfg) = true
		}
		if flags.Changed(t.off) {
			*t.field(&cfg) = false
		}
	}

	if cfg.CacheDir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			cfg.CacheDir = filepath.Join(dir, "shrinkwrap")
		}
	}
	if cfg.Entrypoint == "" {
		return cfg, swerrors.New(swerrors.KindConfig, "no entrypoint given; pass --entry or set entrypoint in %s", config.TOMLFile)
	}
	return cfg, nil
}
