// Package assemble copies a runtime, application sources and installed
// dependencies into a fresh bundle layout.
package assemble

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/pyruntime"

	"github.com/bmatcuk/doublestar/v4"
)

// Options tune assembly.
type Options struct {
	// Exclude holds doublestar patterns, relative to each application
	// source directory, that are not copied into app/.
	Exclude []string
}

// Assemble clears outputDir and fills it with a complete layout. Re-running
// it over the same output is safe. Every failure is returned as a
// build-kind error wrapping the cause.
func Assemble(log logbowl.Logger, rt pyruntime.Descriptor, appSources []string, depsDir, outputDir string, opts Options) (layout.Layout, error) {
	log = log.OrNull()
	l := layout.ForRuntime(outputDir, rt)

	if err := checkInputs(appSources, depsDir, outputDir); err != nil {
		return layout.Layout{}, swerrors.Wrap(swerrors.KindBuild, err, "failed to assemble bundle")
	}
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return layout.Layout{}, swerrors.New(swerrors.KindConfig, "invalid exclude pattern: %s", pattern)
		}
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"prepare output", func() error { return prepare(l) }},
		{"copy runtime", func() error { return copyRuntime(log, rt, l) }},
		{"copy application", func() error { return copyApplication(log, appSources, l, opts.Exclude) }},
		{"copy dependencies", func() error { return copyDependencies(depsDir, l) }},
		{"write runtime info", func() error { return l.WriteRuntimeInfo(rt.Version) }},
	}
	for _, step := range steps {
		log.Debug("assemble", "copy", "progress", "Assembly step", "step", step.name)
		if err := step.run(); err != nil {
			log.Error("assemble", "build", "failure", "Assembly failed", "step", step.name, "error", err)
			return layout.Layout{}, swerrors.Wrap(swerrors.KindBuild, err, "failed to assemble bundle (%s)", step.name)
		}
	}

	log.Info("assemble", "build", "success", "Bundle assembled", "root", outputDir, "platform", l.Platform)
	return l, nil
}

func checkInputs(appSources []string, depsDir, outputDir string) error {
	for _, src := range appSources {
		if !fsutil.Exists(src) {
			return swerrors.New(swerrors.KindConfig, "application source not found: %s", src).WithPath(src)
		}
		if fsutil.Within(src, outputDir) {
			return swerrors.New(swerrors.KindConfig, "output directory %s would overwrite application source %s", outputDir, src).WithPath(outputDir)
		}
	}
	if !fsutil.IsDir(depsDir) {
		return swerrors.New(swerrors.KindConfig, "dependencies directory not found: %s", depsDir).WithPath(depsDir)
	}
	return nil
}

func prepare(l layout.Layout) error {
	if err := fsutil.RemoveDir(l.Root); err != nil {
		return err
	}
	for _, dir := range l.AllDirs() {
		if err := fsutil.EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// skipStdlibExtras keeps the host's installed packages and caches out of
// the bundled standard library.
func skipStdlibExtras(_, rel string, d fs.DirEntry) bool {
	if !d.IsDir() {
		return false
	}
	return rel == "site-packages" || rel == "dist-packages" || d.Name() == "__pycache__"
}

func copyRuntime(log logbowl.Logger, rt pyruntime.Descriptor, l layout.Layout) error {
	if err := fsutil.CopyFile(rt.Executable, l.PythonExecutable()); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy interpreter %s", rt.Executable).WithPath(rt.Executable)
	}

	if rt.IsWindows() {
		matches, _ := filepath.Glob(filepath.Join(filepath.Dir(rt.Executable), "vcruntime*.dll"))
		for _, dll := range matches {
			if err := fsutil.CopyFile(dll, filepath.Join(l.RuntimeDir(), filepath.Base(dll))); err != nil {
				return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy %s", dll).WithPath(dll)
			}
		}
	}

	// lib-dynload is part of the tree; symlinked copies are followed.
	if err := fsutil.CopyTree(rt.Stdlib, l.StdlibDir(), skipStdlibExtras); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy standard library %s", rt.Stdlib).WithPath(rt.Stdlib)
	}

	if rt.DLLsDir != "" {
		if err := fsutil.CopyTree(rt.DLLsDir, l.DLLsDir(), nil); err != nil {
			return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy %s", rt.DLLsDir).WithPath(rt.DLLsDir)
		}
	}
	if rt.PythonZip != "" {
		if err := fsutil.CopyFile(rt.PythonZip, filepath.Join(l.PythonZipDir(), filepath.Base(rt.PythonZip))); err != nil {
			return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy %s", rt.PythonZip).WithPath(rt.PythonZip)
		}
	}
	if rt.LibPython != "" {
		if err := fsutil.CopyFile(rt.LibPython, filepath.Join(l.LibPythonDir(), filepath.Base(rt.LibPython))); err != nil {
			return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy %s", rt.LibPython).WithPath(rt.LibPython)
		}
	}
	log.Debug("assemble", "copy", "success", "Runtime copied", "version", rt.Version)
	return nil
}

// copyApplication merges directory sources into app/ and places file
// sources at its top level. Anything that resolves into the layout root is
// skipped, which matters when the output lives inside the project.
func copyApplication(log logbowl.Logger, sources []string, l layout.Layout, exclude []string) error {
	root := fsutil.Resolve(l.Root)
	for _, src := range sources {
		if !fsutil.IsDir(src) {
			dst := filepath.Join(l.AppDir(), filepath.Base(src))
			if err := fsutil.CopyFile(src, dst); err != nil {
				return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy %s", src).WithPath(src)
			}
			continue
		}

		skip := func(path, rel string, d fs.DirEntry) bool {
			if fsutil.Within(path, root) {
				log.Debug("assemble", "copy", "skip", "Skipping bundle output inside source tree", "path", path)
				return true
			}
			return excluded(rel, exclude)
		}
		if err := fsutil.CopyTree(src, l.AppDir(), skip); err != nil {
			return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy application source %s", src).WithPath(src)
		}
	}
	return nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		// "dir" also excludes everything beneath it
		if ok, _ := doublestar.Match(strings.TrimSuffix(pattern, "/")+"/**", rel); ok {
			return true
		}
	}
	return false
}

func copyDependencies(depsDir string, l layout.Layout) error {
	if !fsutil.IsDir(depsDir) {
		return swerrors.New(swerrors.KindConfig, "dependencies directory not found: %s", depsDir).WithPath(depsDir)
	}
	if err := fsutil.CopyTree(depsDir, l.SitePackagesDir(), nil); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to copy dependencies from %s", depsDir).WithPath(depsDir)
	}
	if _, err := os.Stat(l.SitePackagesDir()); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "site-packages missing after copy")
	}
	return nil
}
