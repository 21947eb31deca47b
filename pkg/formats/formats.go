package formats

import (
	"io"
	"os"
	"path/filepath"
	"strconv"

	"shrinkwrap-tools/go/pkg/archive"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/logbowl"
	"shrinkwrap-tools/go/pkg/procutil"
	"shrinkwrap-tools/go/pkg/sfx"
)

// Directory writes the launcher named name (default "run") into the layout
// and returns its path. The layout itself is the artifact.
func Directory(log logbowl.Logger, l layout.Layout, entry, name string) (string, error) {
	log = log.OrNull()
	if err := l.Validate(); err != nil {
		return "", err
	}
	launcher, err := WriteLauncher(l, entry, name)
	if err != nil {
		return "", err
	}
	log.Info("format", "write", "success", "Launcher written", "path", launcher)
	return launcher, nil
}

// SingleFile packs the whole layout into one archive. The output name's
// extension is replaced by the one c uses.
func SingleFile(log logbowl.Logger, l layout.Layout, output string, c archive.Compression) (string, error) {
	log = log.OrNull()
	if err := l.Validate(); err != nil {
		return "", err
	}
	if _, err := archive.ParseCompression(string(c)); err != nil {
		return "", err
	}
	target := c.WithExtension(output)
	if fsutil.Within(target, l.Root) {
		return "", swerrors.New(swerrors.KindConfig, "archive %s cannot be written inside the bundle it packs", target).WithPath(target)
	}
	if err := archive.CreateFile(log, target, l.Root, c, archive.Options{}); err != nil {
		return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to create single-file archive %s", target).WithPath(target)
	}
	log.Info("format", "pack", "success", "Single-file archive written", "path", target, "compression", string(c))
	return target, nil
}

// SquashFSOptions configure the image tool.
type SquashFSOptions struct {
	Tool        string
	BlockSize   int
	Compression string
	ExtraArgs   []string
}

// SquashFSCompressions are the codecs mksquashfs accepts.
var SquashFSCompressions = []string{"gzip", "lzo", "lz4", "xz", "zstd", "lzma"}

// DefaultSquashFSOptions uses mksquashfs with 1 MiB blocks and xz.
func DefaultSquashFSOptions() SquashFSOptions {
	return SquashFSOptions{Tool: "mksquashfs", BlockSize: 1 << 20, Compression: "xz"}
}

// SquashFS builds a filesystem image of the layout with an external tool.
func SquashFS(log logbowl.Logger, l layout.Layout, output string, opts SquashFSOptions) (string, error) {
	log = log.OrNull()
	if err := l.Validate(); err != nil {
		return "", err
	}
	if opts.BlockSize <= 0 {
		return "", swerrors.New(swerrors.KindBundleFormat, "block size must be positive, got %d", opts.BlockSize)
	}
	if !contains(SquashFSCompressions, opts.Compression) {
		return "", swerrors.New(swerrors.KindBundleFormat, "unsupported SquashFS compression: %q", opts.Compression)
	}
	tool := opts.Tool
	if tool == "" {
		tool = DefaultSquashFSOptions().Tool
	}
	if err := fsutil.EnsureDir(filepath.Dir(output)); err != nil {
		return "", err
	}

	args := []string{tool, l.Root, output, "-noappend", "-b", strconv.Itoa(opts.BlockSize), "-comp", opts.Compression}
	args = append(args, opts.ExtraArgs...)
	log.Debug("format", "execute", "progress", "Running image tool", "args", args)
	if _, err := procutil.Run(procutil.Command{Args: args}); err != nil {
		return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to create SquashFS image, ensure %s is installed", tool).WithPath(output)
	}
	log.Info("format", "pack", "success", "SquashFS image written", "path", output)
	return output, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Executable writes a self-extracting executable. A launcher is written
// into the layout first unless one already exists.
func Executable(log logbowl.Logger, l layout.Layout, entry, output string) (string, error) {
	log = log.OrNull()
	if err := l.Validate(); err != nil {
		return "", err
	}
	if fsutil.Within(output, l.Root) {
		return "", swerrors.New(swerrors.KindConfig, "executable %s cannot be written inside the bundle it packs", output).WithPath(output)
	}
	if !fsutil.IsFile(l.LauncherPath(layout.DefaultLauncher)) {
		if _, err := WriteLauncher(l, entry, layout.DefaultLauncher); err != nil {
			return "", err
		}
	}
	if err := fsutil.EnsureDir(filepath.Dir(output)); err != nil {
		return "", err
	}

	c := sfx.PayloadFormat(l.Platform)
	err := fsutil.WithTempDir("shrinkwrap-sfx-", func(tmp string) error {
		payload := filepath.Join(tmp, "payload"+c.Extension())
		if err := archive.CreateFile(log, payload, l.Root, c, archive.Options{}); err != nil {
			return err
		}
		return writeExecutable(output, l.Platform, payload)
	})
	if err != nil {
		os.Remove(output)
		return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to create executable %s", output).WithPath(output)
	}
	if !l.IsWindows() {
		if err := fsutil.MakeExecutable(output); err != nil {
			return "", swerrors.Wrap(swerrors.KindBuild, err, "failed to mark %s executable", output).WithPath(output)
		}
	}
	log.Info("format", "pack", "success", "Self-extracting executable written", "path", output)
	return output, nil
}

func writeExecutable(output, platform, payloadPath string) (err error) {
	payload, err := os.Open(payloadPath)
	if err != nil {
		return err
	}
	defer payload.Close()

	out, err := os.Create(output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return sfx.Write(out, platform, io.Reader(payload))
}
