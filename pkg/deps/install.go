package deps

import (
	"os/exec"
	"path/filepath"

	"shrinkwrap-tools/go/pkg/config"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/procutil"
)

// InstallOptions select the tool that materializes requirements.
type InstallOptions struct {
	// Python is the interpreter whose version and platform the
	// dependencies are installed for.
	Python string
	// Installer is auto, uv or pip. Auto prefers uv when it is on PATH.
	Installer string
	// UV overrides the uv executable looked up on PATH.
	UV string
	// ProjectRoot anchors relative local requirements such as ./libs/foo.
	ProjectRoot string
	CacheDir    string
}

// Install installs requirements flat into target, creating it if needed.
func Install(log logbowl.Logger, requirements []string, target string, opts InstallOptions) error {
	log = log.OrNull()
	if len(requirements) == 0 {
		return swerrors.New(swerrors.KindRequirements, "no dependencies provided for installation")
	}
	if opts.Python == "" {
		return swerrors.New(swerrors.KindRuntime, "no Python interpreter given for dependency installation")
	}
	if err := fsutil.EnsureDir(target); err != nil {
		return err
	}

	args, tool, err := installCommand(requirements, target, opts)
	if err != nil {
		return err
	}
	log.Info("deps", "install", "progress", "Installing Python dependencies", "installer", tool, "count", len(requirements))
	log.Debug("deps", "install", "progress", "Running installer", "args", args)

	if _, err := procutil.Run(procutil.Command{Args: args, Dir: opts.ProjectRoot}); err != nil {
		log.Error("deps", "install", "failure", "Dependency installation failed", "installer", tool, "error", err)
		return err
	}
	log.Info("deps", "install", "success", "Dependencies installed", "target", target)
	return nil
}

func installCommand(requirements []string, target string, opts InstallOptions) ([]string, string, error) {
	specs := make([]string, len(requirements))
	for i, r := range requirements {
		specs[i] = r
		if IsLocal(r) && opts.ProjectRoot != "" && !filepath.IsAbs(r) {
			specs[i] = filepath.Join(opts.ProjectRoot, r)
		}
	}

	tool, uv, err := pickInstaller(opts)
	if err != nil {
		return nil, "", err
	}

	var args []string
	switch tool {
	case config.InstallerUV:
		args = []string{uv, "pip", "install", "--target", target, "--python", opts.Python}
		if opts.CacheDir != "" {
			args = append(args, "--cache-dir", filepath.Join(opts.CacheDir, "uv"))
		}
	default:
		args = []string{opts.Python, "-m", "pip", "install", "--no-compile", "--disable-pip-version-check", "-t", target}
		if opts.CacheDir != "" {
			args = append(args, "--cache-dir", filepath.Join(opts.CacheDir, "pip"))
		}
	}
	return append(args, specs...), tool, nil
}

func pickInstaller(opts InstallOptions) (tool, uv string, err error) {
	switch opts.Installer {
	case config.InstallerPip:
		return config.InstallerPip, "", nil
	case config.InstallerUV, config.InstallerAuto, "":
		uv = opts.UV
		if uv == "" {
			uv, err = exec.LookPath("uv")
		}
		if err == nil {
			return config.InstallerUV, uv, nil
		}
		if opts.Installer == config.InstallerUV {
			return "", "", swerrors.Wrap(swerrors.KindEnvironment, err, "uv installer requested but not found on PATH")
		}
		return config.InstallerPip, "", nil
	default:
		return "", "", swerrors.New(swerrors.KindConfig, "unknown installer %q", opts.Installer)
	}
}
