// Package archive writes and extracts the compressed archives a bundle is
// shipped in: tar streams (gzip, zstd, xz) and zip files.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/logbowl"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"
	"github.com/valyala/gozstd"
)

// Compression selects the archive container and codec.
type Compression string

const (
	GzipTar Compression = "gztar"
	Zip     Compression = "zip"
	ZstdTar Compression = "zstdtar"
	XzTar   Compression = "xztar"
)

var extensions = map[Compression]string{
	GzipTar: ".tar.gz",
	Zip:     ".zip",
	ZstdTar: ".tar.zst",
	XzTar:   ".tar.xz",
}

// Compressions lists every supported value in display order.
var Compressions = []Compression{GzipTar, Zip, ZstdTar, XzTar}

// ParseCompression validates a compression token.
func ParseCompression(s string) (Compression, error) {
	c := Compression(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := extensions[c]; !ok {
		return "", swerrors.New(swerrors.KindBundleFormat, "unsupported compression: %q (expected one of gztar, zip, zstdtar, xztar)", s)
	}
	return c, nil
}

// Extension is the canonical file suffix, including the leading dot.
func (c Compression) Extension() string { return extensions[c] }

// WithExtension replaces any known archive suffix on name with c's suffix.
func (c Compression) WithExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar.zst", ".tar.xz", ".zip", ".tar"} {
		if strings.HasSuffix(lower, ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	return name + c.Extension()
}

// Detect infers the compression from a file name.
func Detect(name string) (Compression, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return GzipTar, nil
	case strings.HasSuffix(lower, ".zip"), strings.HasSuffix(lower, ".pyz"):
		return Zip, nil
	case strings.HasSuffix(lower, ".tar.zst"):
		return ZstdTar, nil
	case strings.HasSuffix(lower, ".tar.xz"):
		return XzTar, nil
	}
	return "", swerrors.New(swerrors.KindBundleFormat, "cannot infer archive format from name: %s", name)
}

// Options narrow what Create packs.
type Options struct {
	// Include limits the walk to these slash-separated subpaths of the
	// source root. Empty means the whole root.
	Include []string
	// Exclude holds doublestar patterns matched against slash-separated
	// paths relative to the source root.
	Exclude []string
	// Skip drops individual entries. rel is relative to the source root.
	Skip func(rel string, info os.FileInfo) bool
}

func (o Options) excluded(log logbowl.Logger, rel string, info os.FileInfo) (bool, error) {
	for _, pattern := range o.Exclude {
		match, err := doublestar.Match(pattern, rel)
		if err != nil {
			return false, swerrors.Wrap(swerrors.KindBundleFormat, err, "invalid exclude pattern: %s", pattern)
		}
		if match {
			log.Debug("archive", "scan", "skip", "Excluding path based on pattern", "path", rel, "pattern", pattern)
			return true, nil
		}
	}
	return o.Skip != nil && o.Skip(rel, info), nil
}

// entry is one file or directory to pack. Symlinks are resolved.
type entry struct {
	path string
	name string
	info os.FileInfo
}

func collect(log logbowl.Logger, sourceDir string, opts Options) ([]entry, error) {
	roots := []string{"."}
	if len(opts.Include) > 0 {
		roots = opts.Include
	}

	var entries []entry
	seen := make(map[string]bool)
	for _, root := range roots {
		start := filepath.Join(sourceDir, filepath.FromSlash(root))
		if _, err := os.Stat(start); os.IsNotExist(err) && root != "." {
			continue
		}
		name := path.Clean(filepath.ToSlash(root))
		if name == "." {
			name = ""
		}
		if err := walkTree(log, start, name, opts, seen, &entries); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// walkTree appends the entries under dir, named below prefix. Symlinked
// directories are followed; each real directory is walked once, so link
// cycles terminate.
func walkTree(log logbowl.Logger, dir, prefix string, opts Options, seen map[string]bool, out *[]entry) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if seen[resolved] {
		log.Debug("archive", "scan", "skip", "Directory already packed through another path", "path", dir)
		return nil
	}
	seen[resolved] = true

	return filepath.Walk(resolved, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(resolved, p)
		if err != nil {
			return err
		}
		name := prefix
		if rel != "." {
			name = path.Join(prefix, filepath.ToSlash(rel))
		}
		if name == "" {
			return nil
		}

		skip, err := opts.excluded(log, name, info)
		if err != nil {
			return err
		}
		if skip {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		realInfo, err := os.Stat(p)
		if err != nil {
			// dangling symlink
			return nil
		}
		if realInfo.IsDir() && info.Mode()&os.ModeSymlink != 0 {
			return walkTree(log, p, name, opts, seen, out)
		}
		*out = append(*out, entry{path: p, name: name, info: realInfo})
		return nil
	})
}

// Create packs sourceDir into w. Entry names are slash-separated paths
// relative to sourceDir.
func Create(log logbowl.Logger, w io.Writer, sourceDir string, c Compression, opts Options) error {
	log = log.OrNull()
	entries, err := collect(log, sourceDir, opts)
	if err != nil {
		return swerrors.Wrap(swerrors.KindBuild, err, "failed to scan %s for archiving", sourceDir)
	}

	switch c {
	case Zip:
		err = writeZip(w, entries)
	case GzipTar:
		zw := gzip.NewWriter(w)
		if err = writeTar(zw, entries); err == nil {
			err = zw.Close()
		}
	case ZstdTar:
		zw := gozstd.NewWriter(w)
		defer zw.Release()
		if err = writeTar(zw, entries); err == nil {
			err = zw.Close()
		}
	case XzTar:
		var xw *xz.Writer
		if xw, err = xz.NewWriter(w); err == nil {
			if err = writeTar(xw, entries); err == nil {
				err = xw.Close()
			}
		}
	default:
		return swerrors.New(swerrors.KindBundleFormat, "unsupported compression: %q", string(c))
	}
	if err != nil {
		return swerrors.Wrap(swerrors.KindBuild, err, "failed to write %s archive of %s", c, sourceDir)
	}
	log.Debug("archive", "pack", "success", "Archive written", "source", sourceDir, "format", string(c), "entries", len(entries))
	return nil
}

// CreateFile is Create writing to a new file at path.
func CreateFile(log logbowl.Logger, path, sourceDir string, c Compression, opts Options) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create directory for %s", path).WithPath(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create archive %s", path).WithPath(path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = swerrors.Wrap(swerrors.KindFilesystem, cerr, "failed to close archive %s", path).WithPath(path)
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return Create(log, f, sourceDir, c, opts)
}

func writeTar(w io.Writer, entries []entry) error {
	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr, err := tar.FileInfoHeader(e.info, "")
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if e.info.Mode().IsRegular() {
			if err := copyFileTo(tw, e.path); err != nil {
				return err
			}
		}
	}
	return tw.Close()
}

func writeZip(w io.Writer, entries []entry) error {
	zw := zip.NewWriter(w)
	for _, e := range entries {
		hdr, err := zip.FileInfoHeader(e.info)
		if err != nil {
			return err
		}
		hdr.Name = e.name
		if e.info.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
		} else {
			hdr.Method = zip.Deflate
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if e.info.Mode().IsRegular() {
			if err := copyFileTo(fw, e.path); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}

func copyFileTo(w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

// ExtractFile unpacks the archive at path into dest, inferring the format
// from the file name. It returns the regular files written.
func ExtractFile(path, dest string) ([]string, error) {
	c, err := Detect(path)
	if err != nil {
		return nil, err
	}
	if c == Zip {
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, swerrors.Wrap(swerrors.KindBundleFormat, err, "failed to open zip archive %s", path).WithPath(path)
		}
		defer zr.Close()
		return unZip(&zr.Reader, dest)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to open archive %s", path).WithPath(path)
	}
	defer f.Close()
	return ExtractTar(f, dest, c)
}

// ExtractZip unpacks a zip archive of the given size read from r.
func ExtractZip(r io.ReaderAt, size int64, dest string) ([]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindBundleFormat, err, "invalid zip archive")
	}
	return unZip(zr, dest)
}

// ExtractTar unpacks a compressed tar stream into dest.
func ExtractTar(r io.Reader, dest string, c Compression) ([]string, error) {
	var src io.Reader
	switch c {
	case GzipTar:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, swerrors.Wrap(swerrors.KindBundleFormat, err, "invalid gzip stream")
		}
		defer zr.Close()
		src = zr
	case ZstdTar:
		zr := gozstd.NewReader(r)
		defer zr.Release()
		src = zr
	case XzTar:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, swerrors.Wrap(swerrors.KindBundleFormat, err, "invalid xz stream")
		}
		src = xr
	default:
		return nil, swerrors.New(swerrors.KindBundleFormat, "not a tar compression: %q", string(c))
	}
	return unTar(src, dest)
}

func unTar(r io.Reader, dest string) ([]string, error) {
	tr := tar.NewReader(r)
	var files []string
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, swerrors.Wrap(swerrors.KindBundleFormat, err, "corrupt tar archive")
		}
		target, err := safeTarget(dest, header.Name)
		if err != nil {
			return nil, err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create %s", target)
			}
		case tar.TypeReg:
			files = append(files, strings.TrimSuffix(header.Name, "/"))
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return nil, err
			}
		case tar.TypeSymlink:
			if err := checkLink(header.Name, header.Linkname); err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create %s", filepath.Dir(target))
			}
			if err := os.Symlink(header.Linkname, target); err != nil {
				return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create symlink %s", target)
			}
		}
	}
	return files, nil
}

func unZip(zr *zip.Reader, dest string) ([]string, error) {
	var files []string
	for _, f := range zr.File {
		target, err := safeTarget(dest, f.Name)
		if err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create %s", target)
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, swerrors.Wrap(swerrors.KindBundleFormat, err, "corrupt zip entry %s", f.Name)
		}
		perm := f.Mode().Perm()
		if perm == 0 {
			perm = 0644
		}
		err = writeFile(target, rc, perm)
		rc.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, f.Name)
	}
	return files, nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create %s", filepath.Dir(target))
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to create %s", target).WithPath(target)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return swerrors.Wrap(swerrors.KindFilesystem, err, "failed to write %s", target).WithPath(target)
	}
	return f.Close()
}

// safeTarget joins name onto dest, rejecting entries that escape dest.
func safeTarget(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(filepath.Clean(dest), target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(name) {
		return "", swerrors.New(swerrors.KindBundleFormat, "zip slip detected in archive entry %q", name)
	}
	return target, nil
}

// checkLink rejects a symlink entry unless its target stays below the
// link's own directory. Targets may not be absolute or climb with "..",
// so links extracted earlier can never lead a later entry outside dest.
func checkLink(name, target string) error {
	if target == "" || filepath.IsAbs(target) || path.IsAbs(filepath.ToSlash(target)) {
		return swerrors.New(swerrors.KindBundleFormat, "unsafe symlink in archive entry %q -> %q", name, target)
	}
	for _, part := range strings.Split(filepath.ToSlash(target), "/") {
		if part == ".." {
			return swerrors.New(swerrors.KindBundleFormat, "unsafe symlink in archive entry %q -> %q", name, target)
		}
	}
	return nil
}

func (c Compression) String() string { return string(c) }
