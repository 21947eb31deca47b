// Package formats turns an assembled, frozen layout into a distributable
// artifact: a launchable directory, a single archive, a SquashFS image or a
// self-extracting executable.
package formats

import (
	"bytes"
	"os"
	"path"
	"regexp"
	"strings"
	"text/template"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/layout"
)

// entryPattern keeps entry references safe to embed in both launcher
// dialects.
var entryPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*:[A-Za-z_][A-Za-z0-9_.]*$`)

var posixLauncher = template.Must(template.New("run").Parse(`#!/bin/sh
set -e

ROOT=$(CDPATH= cd -- "$(dirname -- "$0")" && pwd)

export PYTHONHOME="$ROOT/runtime"
SW_PATH="{{ .PythonPath }}"
if [ -f "$ROOT/{{ .ZipPayload }}" ]; then
    SW_PATH="$ROOT/{{ .ZipPayload }}/app:$ROOT/{{ .ZipPayload }}/site-packages:$SW_PATH"
fi
export PYTHONPATH="$SW_PATH"
export PYTHONNOUSERSITE=1
export PYTHONDONTWRITEBYTECODE=1
export LD_LIBRARY_PATH="$ROOT/runtime/lib${LD_LIBRARY_PATH:+:$LD_LIBRARY_PATH}"

exec "$ROOT/{{ .Python }}" -m uvicorn "{{ .Entry }}" --host "${SHRINKWRAP_HOST:-0.0.0.0}" --port "${SHRINKWRAP_PORT:-8000}" "$@"
`))

var windowsLauncher = template.Must(template.New("run.bat").Parse(`@echo off
setlocal
set "ROOT=%~dp0"
set "ROOT=%ROOT:~0,-1%"

set "PYTHONHOME=%ROOT%\runtime"
set "SW_PATH={{ .PythonPath }}"
if exist "%ROOT%\{{ .ZipPayload }}" set "SW_PATH=%ROOT%\{{ .ZipPayload }}\app;%ROOT%\{{ .ZipPayload }}\site-packages;%SW_PATH%"
set "PYTHONPATH=%SW_PATH%"
set "PYTHONNOUSERSITE=1"
set "PYTHONDONTWRITEBYTECODE=1"
set "PATH=%ROOT%\runtime\DLLs;%ROOT%\runtime;%PATH%"
if not defined SHRINKWRAP_HOST set "SHRINKWRAP_HOST=0.0.0.0"
if not defined SHRINKWRAP_PORT set "SHRINKWRAP_PORT=8000"

"%ROOT%\{{ .Python }}" -m uvicorn "{{ .Entry }}" --host "%SHRINKWRAP_HOST%" --port "%SHRINKWRAP_PORT%" %*
exit /b %ERRORLEVEL%
`))

type launcherData struct {
	Entry      string
	Python     string
	PythonPath string
	ZipPayload string
}

// ValidateEntry rejects entry references that are not module:attribute
// made of identifier characters.
func ValidateEntry(entry string) error {
	if !entryPattern.MatchString(entry) {
		return swerrors.New(swerrors.KindConfig, "invalid entrypoint %q, expected module:attribute", entry)
	}
	return nil
}

// RenderLauncher produces the launcher script for l. The search path lists
// meta/ first so the runtime shim is imported at startup.
func RenderLauncher(l layout.Layout, entry string) ([]byte, error) {
	if err := ValidateEntry(entry); err != nil {
		return nil, err
	}
	dirs := []string{l.MetadataDir(), l.AppDir(), l.SitePackagesDir(), l.StdlibDir(), l.LibDynloadDir()}
	if l.IsWindows() {
		dirs = append(dirs, l.DLLsDir())
	}

	data := launcherData{
		Entry:      entry,
		ZipPayload: layout.ZipPayloadFile,
	}
	tmpl := posixLauncher
	if l.IsWindows() {
		tmpl = windowsLauncher
		data.Python = strings.ReplaceAll(l.Rel(l.PythonExecutable()), "/", `\`)
		parts := make([]string, len(dirs))
		for i, d := range dirs {
			parts[i] = `%ROOT%\` + strings.ReplaceAll(l.Rel(d), "/", `\`)
		}
		data.PythonPath = strings.Join(parts, ";")
	} else {
		data.Python = l.Rel(l.PythonExecutable())
		parts := make([]string, len(dirs))
		for i, d := range dirs {
			parts[i] = path.Join("$ROOT", l.Rel(d))
		}
		data.PythonPath = strings.Join(parts, ":")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, swerrors.Wrap(swerrors.KindBuild, err, "failed to render launcher")
	}
	text := buf.Bytes()
	if l.IsWindows() {
		text = bytes.ReplaceAll(text, []byte("\n"), []byte("\r\n"))
	}
	return text, nil
}

// WriteLauncher writes the launcher into the layout root and returns its
// path. POSIX launchers are marked executable.
func WriteLauncher(l layout.Layout, entry, name string) (string, error) {
	text, err := RenderLauncher(l, entry)
	if err != nil {
		return "", err
	}
	target := l.LauncherPath(name)
	if err := os.WriteFile(target, text, 0755); err != nil {
		return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to write launcher script %s", target).WithPath(target)
	}
	if !l.IsWindows() {
		if err := fsutil.MakeExecutable(target); err != nil {
			return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to mark launcher executable %s", target).WithPath(target)
		}
	}
	return target, nil
}
