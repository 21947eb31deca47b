// Package sfx builds and inspects self-extracting executables: a small
// extractor script followed by a marker line and the raw payload archive.
package sfx

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"shrinkwrap-tools/go/pkg/archive"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/pyruntime"
)

// Marker is the line that separates the extractor from the payload.
const Marker = "__ARCHIVE_BELOW__"

// maxHeaderSize bounds the search for the marker line.
const maxHeaderSize = 64 * 1024

var posixHeader = `#!/bin/sh
# shrinkwrap self-extracting bundle
set -eu
SW_TMP=$(mktemp -d "${TMPDIR:-/tmp}/shrinkwrap.XXXXXX")
cleanup() { rm -rf "$SW_TMP"; }
trap cleanup EXIT
trap 'exit 130' INT
trap 'exit 143' TERM
SW_LINE=$(awk '/^` + Marker + `$/ { print NR + 1; exit 0 }' "$0")
tail -n +"$SW_LINE" "$0" | tar xzf - -C "$SW_TMP"
set +e
"$SW_TMP/` + layout.DefaultLauncher + `" "$@"
SW_STATUS=$?
set -e
exit "$SW_STATUS"
` + Marker + "\n"

var windowsHeader = strings.ReplaceAll(`@echo off
setlocal
set "SW_TMP=%TEMP%\shrinkwrap_%RANDOM%%RANDOM%"
mkdir "%SW_TMP%" || exit /b 1
powershell -NoProfile -ExecutionPolicy Bypass -Command "$ErrorActionPreference='Stop'; $b=[IO.File]::ReadAllBytes('%~f0'); $s=[Text.Encoding]::GetEncoding(28591).GetString($b); $m=[string][char]10+'`+Marker+`'+[char]13+[char]10; $i=$s.IndexOf($m); if ($i -lt 0) { exit 1 }; $o=$i+$m.Length; [IO.File]::WriteAllBytes('%SW_TMP%\payload.zip', $b[$o..($b.Length-1)]); Add-Type -AssemblyName System.IO.Compression.FileSystem; [IO.Compression.ZipFile]::ExtractToDirectory('%SW_TMP%\payload.zip', '%SW_TMP%')"
if errorlevel 1 (
    rd /s /q "%SW_TMP%"
    exit /b 1
)
call "%SW_TMP%\`+layout.DefaultLauncher+`.bat" %*
set "SW_STATUS=%ERRORLEVEL%"
rd /s /q "%SW_TMP%"
exit /b %SW_STATUS%
`+Marker+"\n", "\n", "\r\n")

// Header returns the extractor script for a platform tag.
func Header(platform string) string {
	if platform == pyruntime.PlatformWindows {
		return windowsHeader
	}
	return posixHeader
}

// PayloadFormat is the archive format each extractor unpacks.
func PayloadFormat(platform string) archive.Compression {
	if platform == pyruntime.PlatformWindows {
		return archive.Zip
	}
	return archive.GzipTar
}

// Write emits the extractor for platform followed by payload.
func Write(w io.Writer, platform string, payload io.Reader) error {
	if _, err := io.WriteString(w, Header(platform)); err != nil {
		return err
	}
	_, err := io.Copy(w, payload)
	return err
}

// Info describes a self-extracting executable.
type Info struct {
	HeaderSize    int64
	PayloadOffset int64
	PayloadSize   int64
	Format        archive.Compression
	SHA256        string
}

// Locate finds the marker line in the file at path and describes the
// payload behind it.
func Locate(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to open %s", path).WithPath(path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return Info{}, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to stat %s", path).WithPath(path)
	}

	head := make([]byte, min(st.Size(), maxHeaderSize))
	if _, err := io.ReadFull(f, head); err != nil {
		return Info{}, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to read %s", path).WithPath(path)
	}
	offset, headerSize := findMarker(head)
	if offset < 0 {
		return Info{}, swerrors.New(swerrors.KindBundleFormat, "no payload marker found in %s", path).WithPath(path)
	}

	info := Info{HeaderSize: headerSize, PayloadOffset: offset, PayloadSize: st.Size() - offset}
	payload := head[offset:]
	switch {
	case bytes.HasPrefix(payload, []byte{0x1f, 0x8b}):
		info.Format = archive.GzipTar
	case bytes.HasPrefix(payload, []byte("PK\x03\x04")):
		info.Format = archive.Zip
	default:
		return Info{}, swerrors.New(swerrors.KindBundleFormat, "unrecognized payload format in %s", path).WithPath(path)
	}

	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, offset, info.PayloadSize)); err != nil {
		return Info{}, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to hash payload of %s", path).WithPath(path)
	}
	info.SHA256 = hex.EncodeToString(h.Sum(nil))
	return info, nil
}

// findMarker returns the payload offset and the header length up to the
// marker line, or -1 when the marker is absent. The marker must sit on its
// own line.
func findMarker(head []byte) (offset, headerSize int64) {
	offset, headerSize = -1, 0
	for _, eol := range []string{"\r\n", "\n"} {
		needle := []byte("\n" + Marker + eol)
		i := bytes.Index(head, needle)
		if i >= 0 && (offset < 0 || int64(i+1) < headerSize) {
			offset, headerSize = int64(i+len(needle)), int64(i+1)
		}
	}
	return offset, headerSize
}

// Extract unpacks the payload of the executable at path into dest.
func Extract(path, dest string) ([]string, error) {
	info, err := Locate(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to open %s", path).WithPath(path)
	}
	defer f.Close()

	section := io.NewSectionReader(f, info.PayloadOffset, info.PayloadSize)
	if info.Format == archive.Zip {
		return archive.ExtractZip(section, info.PayloadSize, dest)
	}
	return archive.ExtractTar(section, dest, info.Format)
}
