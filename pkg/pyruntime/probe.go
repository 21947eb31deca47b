package pyruntime

import (
	"encoding/json"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/procutil"
)

// SupportedVersions lists the interpreter major.minor versions a bundle can carry.
var SupportedVersions = []string{"3.10", "3.11", "3.12", "3.13"}

const probeScript = `
import json, os, pathlib, sys, sysconfig

platform = "windows" if os.name == "nt" else "posix"
stdlib = sysconfig.get_path("stdlib")
stdlib_path = pathlib.Path(stdlib) if stdlib else None
major, minor = sys.version_info[0], sys.version_info[1]
digits = f"{major}{minor}"

def dedupe(items):
    seen, out = set(), []
    for item in items:
        if not item:
            continue
        path = pathlib.Path(item)
        key = path.resolve()
        if key in seen:
            continue
        seen.add(key)
        out.append(path)
    return out

names = [sysconfig.get_config_var("LDLIBRARY")]
if platform == "windows":
    names += [f"python{digits}.dll", f"libpython{major}.{minor}.dll"]
else:
    names += [f"libpython{major}.{minor}.so", f"libpython{major}.{minor}.dylib"]

dirs = [sysconfig.get_config_var(k) for k in ("LIBDIR", "BINDIR", "LIBPL", "LIBDEST")]
dirs += [sys.prefix, sys.base_prefix, pathlib.Path(sys.executable).parent]
if stdlib_path:
    dirs += [stdlib_path.parent, stdlib_path.parent / "DLLs"]

libpython = None
for directory in dedupe(dirs):
    for name in names:
        if not name:
            continue
        candidate = directory / name
        suffix = candidate.suffix.lower()
        if not candidate.is_file():
            continue
        if platform == "windows" and suffix != ".dll":
            continue
        if platform == "posix" and suffix not in (".so", ".dylib"):
            continue
        libpython = str(candidate)
        break
    if libpython:
        break

python_zip = None
zip_dirs = [sys.prefix, sys.base_prefix, pathlib.Path(sys.prefix) / "lib", pathlib.Path(sys.executable).parent]
if stdlib_path:
    zip_dirs = [stdlib_path, stdlib_path.parent, stdlib_path.parent.parent] + zip_dirs
for directory in dedupe(zip_dirs):
    candidate = directory / f"python{digits}.zip"
    if candidate.is_file():
        python_zip = str(candidate)
        break

dlls_dir = None
if platform == "windows":
    dll_dirs = [pathlib.Path(sys.prefix) / "DLLs", pathlib.Path(sys.base_prefix) / "DLLs", pathlib.Path(sys.executable).parent / "DLLs"]
    for directory in dedupe(dll_dirs):
        if directory.is_dir():
            dlls_dir = str(directory)
            break

print(json.dumps({
    "platform": platform,
    "executable": sys.executable,
    "version": sys.version.split()[0],
    "stdlib": stdlib,
    "libpython": libpython,
    "python_zip": python_zip,
    "dlls_dir": dlls_dir,
}))
`

// FindInterpreter resolves the interpreter to probe: explicit wins, then
// python3 and python on PATH.
func FindInterpreter(explicit string) (string, error) {
	if explicit != "" {
		abs, err := filepath.Abs(explicit)
		if err != nil {
			return "", swerrors.Wrap(swerrors.KindRuntime, err, "invalid interpreter path: %s", explicit)
		}
		return abs, nil
	}
	candidates := []string{"python3", "python"}
	if runtime.GOOS == "windows" {
		candidates = []string{"python", "python3"}
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", swerrors.New(swerrors.KindRuntime, "no suitable python executable found in PATH")
}

// Probe runs the interpreter with a small introspection script and turns
// the answer into a validated Descriptor.
func Probe(log logbowl.Logger, python string) (Descriptor, error) {
	log = log.OrNull()
	log.Debug("runtime", "probe", "progress", "Probing Python runtime", "python", python)

	res, err := procutil.Run(procutil.Command{Args: []string{python, "-c", probeScript}})
	if err != nil {
		return Descriptor{}, swerrors.Wrap(swerrors.KindRuntime, err, "failed to query Python runtime")
	}
	d, err := parseProbe([]byte(strings.TrimSpace(res.Stdout)))
	if err != nil {
		return Descriptor{}, err
	}
	if !slices.Contains(SupportedVersions, d.MajorMinor()) {
		return Descriptor{}, swerrors.New(swerrors.KindRuntime, "unsupported Python version %s (supported: %s)", d.Version, strings.Join(SupportedVersions, ", "))
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	log.Info("runtime", "probe", "success", "Discovered Python runtime", "version", d.Version, "platform", d.Platform)
	return d, nil
}

func parseProbe(data []byte) (Descriptor, error) {
	var raw struct {
		Descriptor
		LibPython *string `json:"libpython"`
		PythonZip *string `json:"python_zip"`
		DLLsDir   *string `json:"dlls_dir"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Descriptor{}, swerrors.Wrap(swerrors.KindRuntime, err, "invalid response while probing Python runtime")
	}
	d := raw.Descriptor
	d.LibPython = deref(raw.LibPython)
	d.PythonZip = deref(raw.PythonZip)
	d.DLLsDir = deref(raw.DLLsDir)
	return d, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
