package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
)

// EnsureDir creates path and any missing parents.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create directory: %s", path).WithPath(path)
	}
	return nil
}

// RemoveDir removes path recursively. A missing path is not an error.
func RemoveDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to remove directory: %s", path).WithPath(path)
	}
	return nil
}

// WithTempDir runs fn inside a fresh temporary directory that is removed on
// every exit path.
func WithTempDir(prefix string, fn func(dir string) error) (err error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create temporary directory")
	}
	defer func() {
		if rmErr := RemoveDir(dir); rmErr != nil && err == nil {
			err = rmErr
		}
	}()
	return fn(dir)
}

// Exists reports whether path exists (following symlinks).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path is an existing directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsFile reports whether path is an existing regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CopyFile copies src to dst, overwriting dst and keeping src's permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dst, info.Mode().Perm())
}

// SkipFunc decides whether a path under a copied tree is left out. rel is
// slash-separated and relative to the source root.
type SkipFunc func(path, rel string, d fs.DirEntry) bool

// CopyTree copies the contents of src into dst, merging with whatever dst
// already holds. Symlinks are followed.
func CopyTree(src, dst string, skip SkipFunc) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if relPath != "." && skip != nil && skip(path, filepath.ToSlash(relPath), d) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		dstPath := filepath.Join(dst, relPath)

		info, err := os.Stat(path)
		if err != nil {
			// dangling symlink
			if d.Type()&fs.ModeSymlink != 0 {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if d.Type()&fs.ModeSymlink != 0 {
				return CopyTree(path, dstPath, nil)
			}
			return os.MkdirAll(dstPath, info.Mode().Perm()|0700)
		}
		return CopyFile(path, dstPath)
	})
}

// DirSize sums the sizes of regular files under path.
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// AtomicWrite writes data to a sibling temp file and renames it over path.
func AtomicWrite(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to write file atomically: %s", path).WithPath(path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to write file atomically: %s", path).WithPath(path)
	}
	return nil
}

// MakeExecutable adds execute bits for user, group and other.
func MakeExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, info.Mode()|0111)
}

// Within reports whether path equals root or lies underneath it. Both are
// resolved to absolute, symlink-free form first when possible.
func Within(path, root string) bool {
	p := Resolve(path)
	r := Resolve(root)
	if p == r {
		return true
	}
	rel, err := filepath.Rel(r, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Resolve returns an absolute, symlink-free path. Missing trailing
// components are kept as-is.
func Resolve(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real
	}
	dir, base := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir == abs {
		return abs
	}
	return filepath.Join(Resolve(dir), base)
}
