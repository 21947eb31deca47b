package sfx

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"shrinkwrap-tools/go/pkg/archive"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/pyruntime"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildExecutable(t *testing.T, platform string) (string, []byte) {
	t.Helper()
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "run"), []byte("#!/bin/sh\nexit 0\n"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "app", "main.py"), []byte("app = None\n"), 0644))

	var payload bytes.Buffer
	require.NoError(t, archive.Create(logbowl.Null(), &payload, src, PayloadFormat(platform), archive.Options{}))

	out := filepath.Join(t.TempDir(), "app.bin")
	f, err := os.Create(out)
	require.NoError(t, err)
	require.NoError(t, Write(f, platform, bytes.NewReader(payload.Bytes())))
	require.NoError(t, f.Close())
	return out, payload.Bytes()
}

func TestLocatePOSIX(t *testing.T) {
	out, payload := buildExecutable(t, pyruntime.PlatformPOSIX)

	info, err := Locate(out)
	require.NoError(t, err)
	assert.Equal(t, archive.GzipTar, info.Format)
	assert.Equal(t, int64(len(Header(pyruntime.PlatformPOSIX))), info.PayloadOffset)
	assert.Equal(t, int64(len(payload)), info.PayloadSize)

	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), info.SHA256)

	dest := t.TempDir()
	files, err := Extract(out, dest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run", "app/main.py"}, files)
	assert.FileExists(t, filepath.Join(dest, "app", "main.py"))
}

func TestLocateWindows(t *testing.T) {
	out, payload := buildExecutable(t, pyruntime.PlatformWindows)

	info, err := Locate(out)
	require.NoError(t, err)
	assert.Equal(t, archive.Zip, info.Format)
	assert.Equal(t, int64(len(payload)), info.PayloadSize)

	dest := t.TempDir()
	files, err := Extract(out, dest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"run", "app/main.py"}, files)
}

func TestHeaders(t *testing.T) {
	posix := Header(pyruntime.PlatformPOSIX)
	assert.True(t, strings.HasPrefix(posix, "#!/bin/sh\n"))
	assert.True(t, strings.HasSuffix(posix, "\n"+Marker+"\n"))
	assert.NotContains(t, posix, "pipefail")
	assert.Equal(t, 1, strings.Count(posix, "\n"+Marker+"\n"))

	windows := Header(pyruntime.PlatformWindows)
	assert.True(t, strings.HasSuffix(windows, "\r\n"+Marker+"\r\n"))
	assert.Equal(t, strings.Count(windows, "\n"), strings.Count(windows, "\r\n"))
	assert.Contains(t, windows, `call "%SW_TMP%\run.bat" %*`)
}

func TestLocateWithoutMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho "+Marker+"\n"), 0755))

	_, err := Locate(path)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindBundleFormat))
}

func TestFindMarkerPrefersEarliest(t *testing.T) {
	data := []byte("a\n" + Marker + "\nPAYLOAD\n" + Marker + "\r\n")
	offset, header := findMarker(data)
	assert.Equal(t, int64(2), header)
	assert.Equal(t, "PAYLOAD\n"+Marker+"\r\n", string(data[offset:]))
}
