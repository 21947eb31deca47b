// Package freeze precompiles an assembled bundle, snapshots its installed
// metadata and writes the runtime shim and zip payload.
package freeze

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"shrinkwrap-tools/go/pkg/archive"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/logbowl"
)

// Options control Freeze.
type Options struct {
	BuildZip       bool
	FreezeMetadata bool
	StripSources   bool
	BlockPackaging bool
	OptimizeLevel  int
	// Workers bounds the compile pool; zero picks the CPU count, capped.
	Workers  int
	Compiler Compiler
}

// nativeSuffixes cannot be imported from inside a zip archive.
var nativeSuffixes = []string{".so", ".pyd", ".dylib"}

// Freeze compiles every source under app/ and site-packages/ and finishes
// the bundle's metadata directory. It returns the zip payload path when
// one was built, or "".
func Freeze(log logbowl.Logger, l layout.Layout, opts Options) (string, error) {
	log = log.OrNull()
	if err := l.Validate(); err != nil {
		return "", err
	}
	if opts.Compiler == nil {
		return "", swerrors.New(swerrors.KindBuild, "no compiler configured")
	}
	if opts.OptimizeLevel < 0 || opts.OptimizeLevel > 2 {
		return "", swerrors.New(swerrors.KindConfig, "optimize level must be 0, 1 or 2, got %d", opts.OptimizeLevel)
	}

	roots := []string{l.AppDir(), l.SitePackagesDir()}
	var jobs []Job
	for _, root := range roots {
		found, err := sourceJobs(root)
		if err != nil {
			return "", swerrors.Wrap(swerrors.KindFilesystem, err, "failed to list sources in %s", root).WithPath(root)
		}
		jobs = append(jobs, found...)
	}

	log.Info("freeze", "compile", "progress", "Compiling sources", "files", len(jobs), "optimize", opts.OptimizeLevel)
	if err := compileAll(opts.Compiler, jobs, opts.OptimizeLevel, opts.Workers); err != nil {
		log.Error("freeze", "compile", "failure", "Compilation failed", "error", err)
		return "", err
	}

	for _, root := range roots {
		if err := removeCaches(root); err != nil {
			return "", err
		}
	}
	if opts.StripSources {
		for _, job := range jobs {
			if err := os.Remove(job.Source); err != nil && !os.IsNotExist(err) {
				return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to remove source file %s", job.Source).WithPath(job.Source)
			}
		}
		log.Debug("freeze", "delete", "success", "Sources stripped", "files", len(jobs))
	}

	shim := ShimOptions{}
	if opts.FreezeMetadata {
		md, err := CollectMetadata(l.SitePackagesDir())
		if err != nil {
			return "", err
		}
		if err := WriteMetadata(l.FrozenMetadataPath(), md); err != nil {
			return "", err
		}
		shim.MetadataFile = layout.FrozenMetadataFile
		log.Debug("freeze", "write", "success", "Metadata frozen", "distributions", len(md))
	}
	if opts.BlockPackaging {
		shim.BlockedModules = BlockedPackagingModules
	}
	text, err := RenderShim(shim)
	if err != nil {
		return "", err
	}
	if err := fsutil.AtomicWrite(l.ShimPath(), text, 0644); err != nil {
		return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to write %s", layout.ShimFile)
	}

	if !opts.BuildZip {
		log.Info("freeze", "finish", "success", "Bundle frozen")
		return "", nil
	}
	pyz, err := WriteZipPayload(log, l)
	if err != nil {
		return "", err
	}
	log.Info("freeze", "finish", "success", "Bundle frozen", "payload", l.Rel(pyz))
	return pyz, nil
}

// sourceJobs lists the .py files under root, in walk order. Compiled files
// go beside their sources.
func sourceJobs(root string) ([]Job, error) {
	if !fsutil.IsDir(root) {
		return nil, nil
	}
	var jobs []Job
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		jobs = append(jobs, Job{
			Source:      path,
			Target:      strings.TrimSuffix(path, ".py") + ".pyc",
			DisplayName: filepath.ToSlash(rel),
		})
		return nil
	})
	return jobs, err
}

func removeCaches(root string) error {
	if !fsutil.IsDir(root) {
		return nil
	}
	var caches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == "__pycache__" {
			caches = append(caches, path)
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to scan %s", root).WithPath(root)
	}
	for _, dir := range caches {
		if err := fsutil.RemoveDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// WriteZipPayload packs app/ and site-packages/ into the layout's zip
// payload. Entry names keep their app/ or site-packages/ prefix, which is
// how the launchers address them.
func WriteZipPayload(log logbowl.Logger, l layout.Layout) (string, error) {
	path := l.ZipPayloadPath()
	opts := archive.Options{
		Include: []string{l.Rel(l.AppDir()), l.Rel(l.SitePackagesDir())},
		Skip: func(rel string, info os.FileInfo) bool {
			if info.IsDir() {
				return false
			}
			for _, suffix := range nativeSuffixes {
				if strings.HasSuffix(rel, suffix) {
					return true
				}
			}
			return false
		},
	}
	if err := archive.CreateFile(log, path, l.Root, archive.Zip, opts); err != nil {
		return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to create %s", layout.ZipPayloadFile)
	}
	return path, nil
}
