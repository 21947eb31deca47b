package entrypoint

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePython answers the import check from a table keyed by module name.
func fakePython(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in")
	}
	path := filepath.Join(t.TempDir(), "python")
	script := `#!/bin/sh
echo "app startup noise"
case "$3" in
    app.main) echo '{"status": "ok", "type": "fastapi.applications.FastAPI"}' ;;
    missing) echo '{"status": "missing_module", "message": "Module '"'"'missing'"'"' could not be found"}' ;;
    plain) echo '{"status": "not_fastapi", "message": "Attribute '"'"'app'"'"' is not a FastAPI application instance", "type": "builtins.dict"}' ;;
    crash) exit 3 ;;
    *) echo garbage ;;
esac
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "__init__.py"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app", "main.py"), []byte("app = FastAPI()\n"), 0644))
	return root
}

func TestCheckAcceptsFastAPI(t *testing.T) {
	root := project(t)

	res, err := Check(logbowl.Null(), fakePython(t), root, "app.main:app")
	require.NoError(t, err)
	assert.Equal(t, "app.main", res.Module)
	assert.Equal(t, "app", res.Attribute)
	assert.Equal(t, filepath.Join(root, "app", "main.py"), res.Source)
	assert.Equal(t, "fastapi.applications.FastAPI", res.Type)
}

func TestCheckRejections(t *testing.T) {
	python := fakePython(t)
	root := project(t)

	cases := map[string]string{
		"missing:app": "could not be found",
		"plain:app":   "is not a FastAPI application instance",
		"crash:app":   "failed to import entrypoint",
		"other:app":   "unexpected output",
	}
	for entry, msg := range cases {
		res, err := Check(logbowl.Null(), python, root, entry)
		require.Error(t, err, entry)
		assert.True(t, swerrors.Is(err, swerrors.KindEntrypoint), entry)
		assert.Equal(t, 3, swerrors.ExitCode(err), entry)
		assert.Contains(t, err.Error(), msg, entry)
		assert.Empty(t, res.Source, entry)
	}
}

func TestCheckRejectsMalformedReference(t *testing.T) {
	for _, entry := range []string{"app.main", "app.main:", ":app"} {
		_, err := Check(logbowl.Null(), "python3", t.TempDir(), entry)
		require.Error(t, err, entry)
		assert.True(t, swerrors.Is(err, swerrors.KindEntrypoint), entry)
	}
}
