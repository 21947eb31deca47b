package pyruntime

import (
	"path/filepath"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
)

// Platform tags understood by the layout.
const (
	PlatformPOSIX   = "posix"
	PlatformWindows = "windows"
)

// Descriptor describes the interpreter a bundle is built from.
type Descriptor struct {
	Platform   string `json:"platform"`
	Executable string `json:"executable"`
	Version    string `json:"version"`
	Stdlib     string `json:"stdlib"`
	LibPython  string `json:"libpython,omitempty"`
	PythonZip  string `json:"python_zip,omitempty"`
	DLLsDir    string `json:"dlls_dir,omitempty"`
}

// IsWindows reports whether the runtime targets Windows.
func (d Descriptor) IsWindows() bool { return d.Platform == PlatformWindows }

// MajorMinor returns "3.11" for version "3.11.7".
func (d Descriptor) MajorMinor() string {
	parts := strings.Split(d.Version, ".")
	if len(parts) < 2 {
		return d.Version
	}
	return parts[0] + "." + parts[1]
}

// StdlibRelative is where the standard library lives under the bundle's
// runtime directory: "Lib" on Windows, "lib/pythonX.Y" elsewhere.
func (d Descriptor) StdlibRelative() string {
	if d.IsWindows() {
		return "Lib"
	}
	return filepath.Join("lib", "python"+d.MajorMinor())
}

// Validate checks that every path the descriptor names exists.
func (d Descriptor) Validate() error {
	if d.Platform != PlatformPOSIX && d.Platform != PlatformWindows {
		return swerrors.New(swerrors.KindRuntime, "unsupported platform tag: %q", d.Platform)
	}
	if strings.Count(d.Version, ".") < 1 {
		return swerrors.New(swerrors.KindRuntime, "invalid Python version string: %q", d.Version)
	}
	if !fsutil.IsFile(d.Executable) {
		return swerrors.New(swerrors.KindRuntime, "Python executable does not exist: %s", d.Executable).WithPath(d.Executable)
	}
	if !fsutil.IsDir(d.Stdlib) {
		return swerrors.New(swerrors.KindRuntime, "standard library path does not exist: %s", d.Stdlib).WithPath(d.Stdlib)
	}
	if d.LibPython != "" && !fsutil.IsFile(d.LibPython) {
		return swerrors.New(swerrors.KindRuntime, "libpython not found at: %s", d.LibPython).WithPath(d.LibPython)
	}
	if d.PythonZip != "" && !fsutil.IsFile(d.PythonZip) {
		return swerrors.New(swerrors.KindRuntime, "python zip archive not found: %s", d.PythonZip).WithPath(d.PythonZip)
	}
	if d.DLLsDir != "" && !fsutil.IsDir(d.DLLsDir) {
		return swerrors.New(swerrors.KindRuntime, "DLLs directory not found: %s", d.DLLsDir).WithPath(d.DLLsDir)
	}
	return nil
}
