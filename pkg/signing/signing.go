// Package signing produces and checks detached RSA-PSS signatures for build
// artifacts.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/logbowl"
)

const (
	DefaultKeyBits        = 4096
	DefaultPrivateKeyFile = "shrinkwrap-private.key"
	DefaultPublicKeyFile  = "shrinkwrap-public.key"
	SignatureSuffix       = ".sig"
)

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}

// GenerateKeyPair returns a PKCS#1 private key and a PKIX public key, both
// PEM encoded.
func GenerateKeyPair(bits int) (privPEM, pubPEM []byte, err error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, swerrors.Wrap(swerrors.KindBuild, err, "failed to generate RSA private key")
	}
	privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, nil, swerrors.Wrap(swerrors.KindBuild, err, "failed to marshal public key")
	}
	pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return privPEM, pubPEM, nil
}

// WriteKeyPair generates a key pair into dir. Existing key files are never
// overwritten.
func WriteKeyPair(log logbowl.Logger, dir, privName, pubName string, bits int) (privPath, pubPath string, err error) {
	log = log.OrNull()
	privPath = filepath.Join(dir, privName)
	pubPath = filepath.Join(dir, pubName)
	for _, p := range []string{privPath, pubPath} {
		if info, err := os.Stat(p); err == nil {
			log.Warn("keymgmt", "generate", "skip", "Key file already exists", "path", p, "created", info.ModTime().Format("2006-01-02 15:04:05"))
			return "", "", swerrors.New(swerrors.KindConfig, "key file already exists: %s", p).WithPath(p)
		}
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", "", err
	}

	log.Info("keymgmt", "generate", "progress", "Generating RSA key pair", "bits", bits)
	privPEM, pubPEM, err := GenerateKeyPair(bits)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(privPath, privPEM, 0600); err != nil {
		return "", "", swerrors.Wrap(swerrors.KindFilesystem, err, "failed to write private key").WithPath(privPath)
	}
	log.Info("keymgmt", "write", "success", "Private key saved", "path", privPath)
	if err := os.WriteFile(pubPath, pubPEM, 0644); err != nil {
		return "", "", swerrors.Wrap(swerrors.KindFilesystem, err, "failed to write public key").WithPath(pubPath)
	}
	log.Info("keymgmt", "write", "success", "Public key saved", "path", pubPath)
	return privPath, pubPath, nil
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindConfig, err, "failed to read key file %s", path).WithPath(path)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, swerrors.New(swerrors.KindConfig, "failed to decode PEM block from %s", path).WithPath(path)
	}
	return block, nil
}

// LoadPrivateKey accepts PKCS#8 and PKCS#1 encodings.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, swerrors.New(swerrors.KindConfig, "key in %s is not an RSA private key", path).WithPath(path)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindConfig, err, "failed to parse private key from %s", path).WithPath(path)
	}
	return key, nil
}

func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindConfig, err, "failed to parse public key from %s", path).WithPath(path)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, swerrors.New(swerrors.KindConfig, "key from %s is not an RSA public key", path).WithPath(path)
	}
	return rsaPub, nil
}

// Digest hashes an artifact. Files hash their content. Directories hash a
// sorted listing of "relpath NUL sha256" lines over every regular file.
func Digest(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to stat artifact %s", path).WithPath(path)
	}
	if !info.IsDir() {
		return hashFile(path)
	}

	var lines []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		sum, err := hashFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(path, p)
		lines = append(lines, filepath.ToSlash(rel)+"\x00"+hex.EncodeToString(sum)+"\n")
		return nil
	})
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to hash %s", path).WithPath(path)
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "")))
	return sum[:], nil
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to open %s", path).WithPath(path)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to read %s", path).WithPath(path)
	}
	return h.Sum(nil), nil
}

// SignaturePath is where the detached signature of artifact lives.
func SignaturePath(artifact string) string {
	return filepath.Clean(artifact) + SignatureSuffix
}

// SignFile signs artifact with the private key at keyPath and writes the
// signature beside it.
func SignFile(log logbowl.Logger, artifact, keyPath string) (string, error) {
	log = log.OrNull()
	key, err := LoadPrivateKey(keyPath)
	if err != nil {
		log.Error("signing", "load", "failure", "Failed to load private key", "path", keyPath, "error", err)
		return "", err
	}
	digest, err := Digest(artifact)
	if err != nil {
		return "", err
	}
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest, pssOptions)
	if err != nil {
		return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to sign %s", artifact).WithPath(artifact)
	}
	target := SignaturePath(artifact)
	if err := fsutil.AtomicWrite(target, sig, 0644); err != nil {
		return "", err
	}
	log.Info("signing", "sign", "success", "Artifact signed", "artifact", artifact, "signature", target, "sha256", hex.EncodeToString(digest))
	return target, nil
}

// VerifyFile checks the detached signature of artifact against the public
// key at pubPath. A bad signature is a bundle-format error.
func VerifyFile(log logbowl.Logger, artifact, pubPath string) error {
	log = log.OrNull()
	pub, err := LoadPublicKey(pubPath)
	if err != nil {
		return err
	}
	sigPath := SignaturePath(artifact)
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return swerrors.Wrap(swerrors.KindBundleFormat, err, "no signature found for %s", artifact).WithPath(sigPath)
	}
	digest, err := Digest(artifact)
	if err != nil {
		return err
	}
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, pssOptions); err != nil {
		log.Error("signing", "verify", "failure", "Signature invalid", "artifact", artifact)
		return swerrors.Wrap(swerrors.KindBundleFormat, err, "signature of %s is invalid", artifact).WithPath(artifact)
	}
	log.Info("signing", "verify", "success", "Signature is valid", "artifact", artifact)
	return nil
}
