// Package layout computes the canonical on-disk shape of an assembled bundle.
//
// A Layout is a pure value: it never touches the filesystem except in
// Validate, Open and WriteRuntimeInfo. Four subtrees are fixed:
//
//	runtime/        interpreter, standard library, dynamic-loading extensions
//	app/            application sources
//	site-packages/  dependency files
//	meta/           frozen metadata and generated shims
//
// The standard library location and executable naming depend on the
// platform tag, so a Layout is always built for one platform.
package layout

import (
	"encoding/json"
	"os"
	"path/filepath"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/pyruntime"
)

// File names inside meta/ and at the bundle root.
const (
	RuntimeInfoFile    = "runtime.json"
	BuildInfoFile      = "build.json"
	FrozenMetadataFile = "importlib_metadata.json"
	ShimFile           = "sitecustomize.py"
	ZipPayloadFile     = "bundle.pyz"
	DefaultLauncher    = "run"
)

// Layout is the path model for one bundle root.
type Layout struct {
	Root           string
	StdlibRelative string
	Platform       string
}

// New builds a Layout. An empty stdlibRelative picks the platform default
// for an unversioned runtime.
func New(root, platform, stdlibRelative string) Layout {
	if platform == "" {
		platform = pyruntime.PlatformPOSIX
	}
	if stdlibRelative == "" {
		if platform == pyruntime.PlatformWindows {
			stdlibRelative = "Lib"
		} else {
			stdlibRelative = filepath.Join("lib", "python")
		}
	}
	return Layout{Root: root, StdlibRelative: stdlibRelative, Platform: platform}
}

// ForRuntime builds the Layout matching a runtime descriptor.
func ForRuntime(root string, rt pyruntime.Descriptor) Layout {
	return New(root, rt.Platform, rt.StdlibRelative())
}

// IsWindows reports whether the layout targets Windows.
func (l Layout) IsWindows() bool { return l.Platform == pyruntime.PlatformWindows }

func (l Layout) RuntimeDir() string      { return filepath.Join(l.Root, "runtime") }
func (l Layout) AppDir() string          { return filepath.Join(l.Root, "app") }
func (l Layout) SitePackagesDir() string { return filepath.Join(l.Root, "site-packages") }
func (l Layout) MetadataDir() string     { return filepath.Join(l.Root, "meta") }
func (l Layout) StdlibDir() string       { return filepath.Join(l.RuntimeDir(), l.StdlibRelative) }

// PythonExecutable is runtime/python.exe on Windows, runtime/bin/python elsewhere.
func (l Layout) PythonExecutable() string {
	if l.IsWindows() {
		return filepath.Join(l.RuntimeDir(), "python.exe")
	}
	return filepath.Join(l.RuntimeDir(), "bin", "python")
}

// LibPythonDir holds the shared interpreter library.
func (l Layout) LibPythonDir() string {
	if l.IsWindows() {
		return l.RuntimeDir()
	}
	return filepath.Join(l.RuntimeDir(), "lib")
}

// PythonZipDir holds the zipped standard library archive, when there is one.
func (l Layout) PythonZipDir() string { return l.LibPythonDir() }

// DLLsDir holds dynamic-loading extension modules.
func (l Layout) DLLsDir() string {
	if l.IsWindows() {
		return filepath.Join(l.RuntimeDir(), "DLLs")
	}
	return l.LibDynloadDir()
}

// LibDynloadDir is the stdlib's extension-module directory.
func (l Layout) LibDynloadDir() string { return filepath.Join(l.StdlibDir(), "lib-dynload") }

func (l Layout) RuntimeInfoPath() string    { return filepath.Join(l.MetadataDir(), RuntimeInfoFile) }
func (l Layout) BuildInfoPath() string      { return filepath.Join(l.MetadataDir(), BuildInfoFile) }
func (l Layout) FrozenMetadataPath() string { return filepath.Join(l.MetadataDir(), FrozenMetadataFile) }
func (l Layout) ShimPath() string           { return filepath.Join(l.MetadataDir(), ShimFile) }
func (l Layout) ZipPayloadPath() string     { return filepath.Join(l.Root, ZipPayloadFile) }

// LauncherPath is the launcher script for a given base name ("run" or
// "run.bat" on Windows).
func (l Layout) LauncherPath(name string) string {
	if name == "" {
		name = DefaultLauncher
	}
	if l.IsWindows() {
		return filepath.Join(l.Root, name+".bat")
	}
	return filepath.Join(l.Root, name)
}

// Rel returns path relative to the root using forward slashes.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// AllDirs lists every directory assembly must create, parents first,
// without duplicates.
func (l Layout) AllDirs() []string {
	dirs := []string{
		l.Root,
		l.RuntimeDir(),
		filepath.Dir(l.PythonExecutable()),
		filepath.Dir(l.StdlibDir()),
		l.StdlibDir(),
		l.LibPythonDir(),
		l.AppDir(),
		l.SitePackagesDir(),
		l.MetadataDir(),
	}
	if l.IsWindows() {
		dirs = append(dirs, l.DLLsDir())
	}

	seen := make(map[string]bool, len(dirs))
	unique := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if seen[d] {
			continue
		}
		seen[d] = true
		unique = append(unique, d)
	}
	return unique
}

// Validate fails fast with a build-kind error when any required part of an
// assembled bundle is missing.
func (l Layout) Validate() error {
	required := []string{
		l.RuntimeDir(),
		l.PythonExecutable(),
		l.StdlibDir(),
		l.AppDir(),
		l.SitePackagesDir(),
		l.MetadataDir(),
	}
	for _, p := range required {
		if !fsutil.Exists(p) {
			return swerrors.New(swerrors.KindBuild, "bundle layout incomplete, missing: %s", p).WithPath(p)
		}
	}
	return nil
}

// RuntimeInfo is persisted to meta/runtime.json so a Layout can be reopened.
type RuntimeInfo struct {
	Platform       string `json:"platform"`
	Version        string `json:"version"`
	StdlibRelative string `json:"stdlib_relative"`
}

// WriteRuntimeInfo records the layout parameters and runtime version.
func (l Layout) WriteRuntimeInfo(version string) error {
	info := RuntimeInfo{
		Platform:       l.Platform,
		Version:        version,
		StdlibRelative: filepath.ToSlash(l.StdlibRelative),
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return swerrors.Wrap(swerrors.KindBuild, err, "failed to encode runtime info")
	}
	if err := fsutil.EnsureDir(l.MetadataDir()); err != nil {
		return err
	}
	return fsutil.AtomicWrite(l.RuntimeInfoPath(), append(data, '\n'), 0644)
}

// Open reconstructs the Layout of an assembled bundle from meta/runtime.json.
func Open(root string) (Layout, error) {
	probe := Layout{Root: root}
	data, err := os.ReadFile(probe.RuntimeInfoPath())
	if err != nil {
		return Layout{}, swerrors.Wrap(swerrors.KindBuild, err, "not an assembled bundle: %s", root).WithPath(root)
	}
	var info RuntimeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return Layout{}, swerrors.Wrap(swerrors.KindBuild, err, "invalid %s in %s", RuntimeInfoFile, root)
	}
	return New(root, info.Platform, filepath.FromSlash(info.StdlibRelative)), nil
}
