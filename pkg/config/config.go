// Package config holds the validated build configuration and loads it from
// project files.
//
// Sources are layered, lowest precedence first:
//
//	Default()
//	[tool.shrinkwrap] in pyproject.toml
//	shrinkwrap.toml
//	shrinkwrap.yaml
//
// Command-line flags are applied by the caller on top of the result.
package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"shrinkwrap-tools/go/pkg/archive"
	swerrors "shrinkwrap-tools/go/pkg/errors"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	FormatDirectory  = "directory"
	FormatSingleFile = "singlefile"
	FormatSquashFS   = "squashfs"
	FormatExecutable = "executable"
)

// Formats lists every output format in display order.
var Formats = []string{FormatDirectory, FormatSingleFile, FormatSquashFS, FormatExecutable}

// Dependency installers.
const (
	InstallerAuto = "auto"
	InstallerUV   = "uv"
	InstallerPip  = "pip"
)

// File names probed by Load, in precedence order.
const (
	PyprojectFile = "pyproject.toml"
	TOMLFile      = "shrinkwrap.toml"
	YAMLFile      = "shrinkwrap.yaml"
)

type SquashFS struct {
	Tool        string   `toml:"tool" yaml:"tool"`
	BlockSize   int      `toml:"block_size" yaml:"block_size"`
	Compression string   `toml:"compression" yaml:"compression"`
	ExtraArgs   []string `toml:"extra_args" yaml:"extra_args"`
}

// BuildConfig is everything one build needs to know.
type BuildConfig struct {
	Entrypoint  string `toml:"entrypoint" yaml:"entrypoint"`
	ProjectRoot string `toml:"project_root" yaml:"project_root"`
	Output      string `toml:"output" yaml:"output"`
	OutputName  string `toml:"output_name" yaml:"output_name"`
	Format      string `toml:"format" yaml:"format"`
	Python      string `toml:"python" yaml:"python"`
	Installer   string `toml:"installer" yaml:"installer"`

	Optimize         bool `toml:"optimize" yaml:"optimize"`
	PruneUnused      bool `toml:"prune_unused" yaml:"prune_unused"`
	ZipImports       bool `toml:"zip_imports" yaml:"zip_imports"`
	StripSources     bool `toml:"strip_sources" yaml:"strip_sources"`
	FreezeMetadata   bool `toml:"freeze_metadata" yaml:"freeze_metadata"`
	BlockPackaging   bool `toml:"block_packaging" yaml:"block_packaging"`
	AggressiveStdlib bool `toml:"aggressive_stdlib" yaml:"aggressive_stdlib"`
	Debug            bool `toml:"debug" yaml:"debug"`

	KeepPackages []string `toml:"keep_packages" yaml:"keep_packages"`
	DropPackages []string `toml:"drop_packages" yaml:"drop_packages"`
	StripGlobs   []string `toml:"strip_globs" yaml:"strip_globs"`
	Exclude      []string `toml:"exclude" yaml:"exclude"`

	Compression   string   `toml:"compression" yaml:"compression"`
	SquashFS      SquashFS `toml:"squashfs" yaml:"squashfs"`
	SigningKey    string   `toml:"signing_key" yaml:"signing_key"`
	OptimizeLevel int      `toml:"optimize_level" yaml:"optimize_level"`
	Workers       int      `toml:"workers" yaml:"workers"`
	CacheDir      string   `toml:"cache_dir" yaml:"cache_dir"`
}

// Default returns the configuration used when nothing overrides it.
func Default() BuildConfig {
	return BuildConfig{
		ProjectRoot:    ".",
		Output:         filepath.Join("dist", "app"),
		OutputName:     "shrinkwrapped-app",
		Format:         FormatDirectory,
		Installer:      InstallerAuto,
		Optimize:       true,
		PruneUnused:    true,
		ZipImports:     true,
		StripSources:   true,
		FreezeMetadata: true,
		BlockPackaging: true,
		Exclude:        []string{".git", "**/.git", ".venv", "**/.venv", "**/__pycache__", "dist", "build"},
		Compression:    string(archive.GzipTar),
		SquashFS: SquashFS{
			Tool:        "mksquashfs",
			BlockSize:   1 << 20,
			Compression: "xz",
		},
		OptimizeLevel: 2,
	}
}

// Load layers the project's config files over Default. It returns the
// files that were applied.
func Load(projectRoot string) (BuildConfig, []string, error) {
	cfg := Default()
	cfg.ProjectRoot = projectRoot
	var applied []string

	pyproject := filepath.Join(projectRoot, PyprojectFile)
	if data, err := os.ReadFile(pyproject); err == nil {
		ok, err := decodePyproject(data, &cfg)
		if err != nil {
			return cfg, applied, swerrors.Wrap(swerrors.KindConfig, err, "invalid %s", pyproject).WithPath(pyproject)
		}
		if ok {
			applied = append(applied, pyproject)
		}
	}

	tomlPath := filepath.Join(projectRoot, TOMLFile)
	if data, err := os.ReadFile(tomlPath); err == nil {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return cfg, applied, swerrors.Wrap(swerrors.KindConfig, err, "invalid %s", tomlPath).WithPath(tomlPath)
		}
		applied = append(applied, tomlPath)
	}

	yamlPath := filepath.Join(projectRoot, YAMLFile)
	if data, err := os.ReadFile(yamlPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, applied, swerrors.Wrap(swerrors.KindConfig, err, "invalid %s", yamlPath).WithPath(yamlPath)
		}
		applied = append(applied, yamlPath)
	}

	// Relative roots in files are relative to the project they came from.
	if !filepath.IsAbs(cfg.ProjectRoot) && cfg.ProjectRoot != projectRoot {
		cfg.ProjectRoot = filepath.Join(projectRoot, cfg.ProjectRoot)
	}
	return cfg, applied, nil
}

func decodePyproject(data []byte, cfg *BuildConfig) (bool, error) {
	var doc struct {
		Tool struct {
			Shrinkwrap toml.Primitive `toml:"shrinkwrap"`
		} `toml:"tool"`
	}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return false, err
	}
	if !md.IsDefined("tool", "shrinkwrap") {
		return false, nil
	}
	return true, md.PrimitiveDecode(doc.Tool.Shrinkwrap, cfg)
}

// EntryModule is "app.main" for entrypoint "app.main:app".
func (c BuildConfig) EntryModule() string {
	module, _, _ := strings.Cut(c.Entrypoint, ":")
	return module
}

// EntryAttribute is "app" for entrypoint "app.main:app".
func (c BuildConfig) EntryAttribute() string {
	_, attr, _ := strings.Cut(c.Entrypoint, ":")
	return attr
}

// ParseEntrypoint splits "module:attribute", rejecting empty halves.
func ParseEntrypoint(entry string) (module, attribute string, err error) {
	module, attribute, ok := strings.Cut(entry, ":")
	if !ok {
		return "", "", swerrors.New(swerrors.KindConfig, "entrypoint must be in the format 'module:attribute', got %q", entry)
	}
	module, attribute = strings.TrimSpace(module), strings.TrimSpace(attribute)
	if module == "" || attribute == "" {
		return "", "", swerrors.New(swerrors.KindConfig, "entrypoint must specify both module and attribute, got %q", entry)
	}
	return module, attribute, nil
}

// Validate checks the configuration, returning a config-kind error for the
// first problem found.
func (c BuildConfig) Validate() error {
	if _, _, err := ParseEntrypoint(c.Entrypoint); err != nil {
		return err
	}
	info, err := os.Stat(c.ProjectRoot)
	if err != nil {
		return swerrors.Wrap(swerrors.KindConfig, err, "project root does not exist: %s", c.ProjectRoot).WithPath(c.ProjectRoot)
	}
	if !info.IsDir() {
		return swerrors.New(swerrors.KindConfig, "project root is not a directory: %s", c.ProjectRoot).WithPath(c.ProjectRoot)
	}
	if c.OutputName == "" {
		return swerrors.New(swerrors.KindConfig, "output name cannot be empty")
	}
	if strings.ContainsAny(c.OutputName, `/\`) {
		return swerrors.New(swerrors.KindConfig, "output name must not contain path separators: %q", c.OutputName)
	}
	if c.Output == "" {
		return swerrors.New(swerrors.KindConfig, "output path cannot be empty")
	}
	if !slices.Contains(Formats, c.Format) {
		return swerrors.New(swerrors.KindConfig, "unknown output format %q (expected one of %s)", c.Format, strings.Join(Formats, ", "))
	}
	if _, err := archive.ParseCompression(c.Compression); err != nil {
		return swerrors.Wrap(swerrors.KindConfig, err, "invalid compression")
	}
	if c.OptimizeLevel < 0 || c.OptimizeLevel > 2 {
		return swerrors.New(swerrors.KindConfig, "optimize level must be 0, 1 or 2, got %d", c.OptimizeLevel)
	}
	if c.Workers < 0 {
		return swerrors.New(swerrors.KindConfig, "workers cannot be negative")
	}
	switch c.Installer {
	case InstallerAuto, InstallerUV, InstallerPip:
	default:
		return swerrors.New(swerrors.KindConfig, "unknown installer %q (expected auto, uv or pip)", c.Installer)
	}
	return nil
}
