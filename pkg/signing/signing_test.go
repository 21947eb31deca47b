package signing

import (
	"os"
	"path/filepath"
	"testing"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBits = 2048

func keyPair(t *testing.T) (string, string) {
	t.Helper()
	priv, pub, err := WriteKeyPair(logbowl.Null(), t.TempDir(), DefaultPrivateKeyFile, DefaultPublicKeyFile, testBits)
	require.NoError(t, err)
	return priv, pub
}

func TestKeyPairLoads(t *testing.T) {
	priv, pub := keyPair(t)

	key, err := LoadPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, testBits, key.N.BitLen())

	pubKey, err := LoadPublicKey(pub)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey.N, pubKey.N)

	info, err := os.Stat(priv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWriteKeyPairRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, DefaultPublicKeyFile)
	require.NoError(t, os.WriteFile(existing, []byte("keep"), 0644))

	_, _, err := WriteKeyPair(logbowl.Null(), dir, DefaultPrivateKeyFile, DefaultPublicKeyFile, testBits)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindConfig))
	assert.NoFileExists(t, filepath.Join(dir, DefaultPrivateKeyFile))

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestSignAndVerifyFile(t *testing.T) {
	priv, pub := keyPair(t)
	artifact := filepath.Join(t.TempDir(), "app.tar.gz")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0644))

	sigPath, err := SignFile(logbowl.Null(), artifact, priv)
	require.NoError(t, err)
	assert.Equal(t, artifact+".sig", sigPath)
	require.NoError(t, VerifyFile(logbowl.Null(), artifact, pub))

	require.NoError(t, os.WriteFile(artifact, []byte("tampered"), 0644))
	err = VerifyFile(logbowl.Null(), artifact, pub)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindBundleFormat))
}

func TestVerifyWithWrongKey(t *testing.T) {
	priv, _ := keyPair(t)
	_, otherPub := keyPair(t)
	artifact := filepath.Join(t.TempDir(), "app.bin")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0644))

	_, err := SignFile(logbowl.Null(), artifact, priv)
	require.NoError(t, err)
	assert.Error(t, VerifyFile(logbowl.Null(), artifact, otherPub))
}

func TestVerifyMissingSignature(t *testing.T) {
	_, pub := keyPair(t)
	artifact := filepath.Join(t.TempDir(), "app.bin")
	require.NoError(t, os.WriteFile(artifact, []byte("payload"), 0644))

	err := VerifyFile(logbowl.Null(), artifact, pub)
	require.Error(t, err)
	assert.True(t, swerrors.Is(err, swerrors.KindBundleFormat))
}

func TestDigestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "app"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "main.py"), []byte("a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run"), []byte("b"), 0755))

	first, err := Digest(dir)
	require.NoError(t, err)
	again, err := Digest(dir)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	require.NoError(t, os.Rename(filepath.Join(dir, "run"), filepath.Join(dir, "run2")))
	renamed, err := Digest(dir)
	require.NoError(t, err)
	assert.NotEqual(t, first, renamed)
}

func TestLoadKeyErrors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(bad, []byte("not pem"), 0600))

	_, err := LoadPrivateKey(bad)
	assert.True(t, swerrors.Is(err, swerrors.KindConfig))
	_, err = LoadPublicKey(filepath.Join(t.TempDir(), "missing.key"))
	assert.True(t, swerrors.Is(err, swerrors.KindConfig))
}
