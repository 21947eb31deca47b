// Package pipeline drives one build from project sources to a finished
// artifact.
//
// Stages run strictly in order:
//
//	runtime probe -> dependency install -> assemble -> prune plan
//	-> optimize -> freeze -> finalize -> sign
//
// Formats other than directory assemble into a staging directory that is
// removed when Run returns, whatever the outcome.
package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"shrinkwrap-tools/go/pkg/archive"
	"shrinkwrap-tools/go/pkg/assemble"
	"shrinkwrap-tools/go/pkg/config"
	"shrinkwrap-tools/go/pkg/deps"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/formats"
	"shrinkwrap-tools/go/pkg/freeze"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/optimize"
	"shrinkwrap-tools/go/pkg/prune"
	"shrinkwrap-tools/go/pkg/pyruntime"
	"shrinkwrap-tools/go/pkg/signing"

	"github.com/google/uuid"
)

// ServerPackages are started by every launcher and so are never pruned.
var ServerPackages = []string{"uvicorn"}

// Request is one build.
type Request struct {
	Config config.BuildConfig

	// Runtime skips interpreter discovery when set.
	Runtime *pyruntime.Descriptor
	// DepsDir is an already populated dependency directory. When empty,
	// requirements are discovered and installed into a staging directory.
	DepsDir string
	// Requirements override discovery.
	Requirements []string
	// Compiler defaults to the runtime's own interpreter.
	Compiler freeze.Compiler
	// Version is recorded in build.json.
	Version string
	Now     func() time.Time
}

// BuildInfo is written to meta/build.json.
type BuildInfo struct {
	BuildID        string         `json:"build_id"`
	CreatedAt      string         `json:"created_at"`
	Tool           string         `json:"tool_version,omitempty"`
	Entrypoint     string         `json:"entrypoint"`
	Format         string         `json:"format"`
	PythonVersion  string         `json:"python_version"`
	Platform       string         `json:"platform"`
	PrunedPackages []string       `json:"pruned_packages"`
	Optimization   optimize.Stats `json:"optimization"`
	ZipImports     bool           `json:"zip_imports"`
}

// Result describes a finished build.
type Result struct {
	Info BuildInfo
	// Artifact is the output directory for the directory format and the
	// written file otherwise.
	Artifact  string
	Launcher  string
	Signature string
	Plan      *prune.Plan
}

// Run executes every stage of a build.
func Run(log logbowl.Logger, req Request) (*Result, error) {
	log = log.OrNull()
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rt, err := resolveRuntime(log, req)
	if err != nil {
		return nil, err
	}

	var res *Result
	err = fsutil.WithTempDir("shrinkwrap-build-", func(staging string) error {
		depsDir, err := prepareDependencies(log, req, rt, staging)
		if err != nil {
			return err
		}

		out := cfg.Output
		if cfg.Format != config.FormatDirectory {
			out = filepath.Join(staging, "bundle")
		}
		l, err := assemble.Assemble(log, rt, []string{cfg.ProjectRoot}, depsDir, out, assemble.Options{Exclude: cfg.Exclude})
		if err != nil {
			return err
		}

		plan := planPruning(log, cfg, l)
		stats, err := runOptimizer(log, cfg, l, plan)
		if err != nil {
			return err
		}

		compiler := req.Compiler
		if compiler == nil {
			compiler = freeze.InterpreterCompiler{Python: rt.Executable, Log: log}
		}
		if _, err := freeze.Freeze(log, l, freeze.Options{
			BuildZip:       cfg.ZipImports,
			FreezeMetadata: cfg.FreezeMetadata,
			StripSources:   cfg.StripSources,
			BlockPackaging: cfg.BlockPackaging,
			OptimizeLevel:  cfg.OptimizeLevel,
			Workers:        cfg.Workers,
			Compiler:       compiler,
		}); err != nil {
			return err
		}

		info := BuildInfo{
			BuildID:        uuid.NewString(),
			CreatedAt:      now(req).UTC().Format(time.RFC3339),
			Tool:           req.Version,
			Entrypoint:     cfg.Entrypoint,
			Format:         cfg.Format,
			PythonVersion:  rt.Version,
			Platform:       rt.Platform,
			PrunedPackages: prunedPackages(plan),
			Optimization:   stats,
			ZipImports:     cfg.ZipImports,
		}
		if err := writeBuildInfo(l, info); err != nil {
			return err
		}

		res, err = finalize(log, cfg, l)
		if err != nil {
			return err
		}
		res.Info = info
		res.Plan = plan
		return nil
	})
	if err != nil {
		log.Error("builder", "build", "failure", "Build failed", "error", err)
		return nil, err
	}

	if cfg.SigningKey != "" {
		sig, err := signing.SignFile(log, res.Artifact, cfg.SigningKey)
		if err != nil {
			return nil, err
		}
		res.Signature = sig
	}
	log.Info("builder", "finish", "success", "Build complete", "artifact", res.Artifact, "build_id", res.Info.BuildID)
	return res, nil
}

func now(req Request) time.Time {
	if req.Now != nil {
		return req.Now()
	}
	return time.Now()
}

func resolveRuntime(log logbowl.Logger, req Request) (pyruntime.Descriptor, error) {
	if req.Runtime != nil {
		if err := req.Runtime.Validate(); err != nil {
			return pyruntime.Descriptor{}, err
		}
		return *req.Runtime, nil
	}
	python, err := pyruntime.FindInterpreter(req.Config.Python)
	if err != nil {
		return pyruntime.Descriptor{}, err
	}
	return pyruntime.Probe(log, python)
}

func prepareDependencies(log logbowl.Logger, req Request, rt pyruntime.Descriptor, staging string) (string, error) {
	if req.DepsDir != "" {
		return req.DepsDir, nil
	}
	reqs := req.Requirements
	if len(reqs) == 0 {
		found, err := deps.Discover(req.Config.ProjectRoot)
		if err != nil {
			return "", err
		}
		reqs = found
	}
	target := filepath.Join(staging, "site-packages")
	err := deps.Install(log, reqs, target, deps.InstallOptions{
		Python:      rt.Executable,
		Installer:   req.Config.Installer,
		ProjectRoot: req.Config.ProjectRoot,
		CacheDir:    req.Config.CacheDir,
	})
	return target, err
}

// planPruning never fails the build. It returns nil when pruning is off or
// could not be planned.
func planPruning(log logbowl.Logger, cfg config.BuildConfig, l layout.Layout) *prune.Plan {
	if !cfg.PruneUnused {
		return nil
	}
	// The application is analyzed as copied into the bundle.
	analyzed := cfg
	analyzed.ProjectRoot = l.AppDir()
	plan, err := prune.PlanPruning(log, analyzed, l, cfg.KeepPackages, cfg.DropPackages)
	if err != nil {
		log.Warn("prune", "plan", "skip", "Skipping pruning due to error", "error", err)
		return nil
	}
	if plan.Skipped() {
		return plan
	}
	plan = plan.RetainRequired(ServerPackages, cfg.DropPackages)
	if len(plan.UnusedPackages) == 0 {
		log.Info("prune", "plan", "success", "No unused packages detected")
		return plan
	}
	log.Info("prune", "plan", "success", "Removing unused packages", "packages", plan.UnusedPackages)
	return plan
}

func runOptimizer(log logbowl.Logger, cfg config.BuildConfig, l layout.Layout, plan *prune.Plan) (optimize.Stats, error) {
	var modules, records []string
	if plan != nil && !plan.Skipped() {
		modules, records = plan.RemovalNames(), plan.RemovalRecords()
	}
	if !cfg.Optimize && len(modules) == 0 && len(records) == 0 {
		return optimize.Stats{}, nil
	}
	opts := optimize.Options{}
	if cfg.Optimize {
		opts = optimize.DefaultOptions()
		opts.AggressiveStdlib = cfg.AggressiveStdlib
		opts.ExtraGlobs = cfg.StripGlobs
	}
	opts.RemoveModules = modules
	opts.RemoveRecords = records
	return optimize.Optimize(log, l, opts)
}

func prunedPackages(plan *prune.Plan) []string {
	if plan == nil || plan.Skipped() || plan.UnusedPackages == nil {
		return []string{}
	}
	return plan.UnusedPackages
}

func writeBuildInfo(l layout.Layout, info BuildInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return swerrors.Wrap(swerrors.KindBuild, err, "failed to encode build info")
	}
	return fsutil.AtomicWrite(l.BuildInfoPath(), append(data, '\n'), 0644)
}

// ReadBuildInfo loads meta/build.json from an assembled bundle.
func ReadBuildInfo(l layout.Layout) (BuildInfo, error) {
	var info BuildInfo
	data, err := os.ReadFile(l.BuildInfoPath())
	if err != nil {
		return info, swerrors.Wrap(swerrors.KindBundleFormat, err, "no build info in %s", l.Root).WithPath(l.BuildInfoPath())
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, swerrors.Wrap(swerrors.KindBundleFormat, err, "invalid %s", layout.BuildInfoFile).WithPath(l.BuildInfoPath())
	}
	return info, nil
}

// finalize writes the launcher into the layout and produces the artifact
// for cfg.Format.
func finalize(log logbowl.Logger, cfg config.BuildConfig, l layout.Layout) (*Result, error) {
	launcher, err := formats.Directory(log, l, cfg.Entrypoint, layout.DefaultLauncher)
	if err != nil {
		return nil, err
	}
	res := &Result{Launcher: launcher}

	switch cfg.Format {
	case config.FormatDirectory:
		res.Artifact = l.Root
	case config.FormatSingleFile:
		c, err := archive.ParseCompression(cfg.Compression)
		if err != nil {
			return nil, err
		}
		res.Artifact, err = formats.SingleFile(log, l, cfg.Output, c)
		if err != nil {
			return nil, err
		}
	case config.FormatSquashFS:
		res.Artifact, err = formats.SquashFS(log, l, cfg.Output, formats.SquashFSOptions{
			Tool:        cfg.SquashFS.Tool,
			BlockSize:   cfg.SquashFS.BlockSize,
			Compression: cfg.SquashFS.Compression,
			ExtraArgs:   cfg.SquashFS.ExtraArgs,
		})
		if err != nil {
			return nil, err
		}
	case config.FormatExecutable:
		res.Artifact, err = formats.Executable(log, l, cfg.Entrypoint, cfg.Output)
		if err != nil {
			return nil, err
		}
	default:
		return nil, swerrors.New(swerrors.KindConfig, "unknown output format %q", cfg.Format)
	}
	if cfg.Format != config.FormatDirectory {
		// the launcher only lives inside the artifact
		res.Launcher = ""
	}
	return res, nil
}
