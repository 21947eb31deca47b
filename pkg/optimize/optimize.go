// Package optimize deletes files an assembled bundle does not need at run
// time.
package optimize

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/fsutil"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/logbowl"

	"github.com/bmatcuk/doublestar/v4"
)

// Options selects the strip rules. The zero value removes nothing.
type Options struct {
	StripBytecode        bool
	StripTests           bool
	StripDocs            bool
	StripTypeHints       bool
	StripPackagingTools  bool
	StripDistInfo        bool
	RemoveBuildArtifacts bool
	AggressiveStdlib     bool

	// RemovePackages names distributions or modules deleted from
	// site-packages along with their metadata records.
	RemovePackages []string
	// RemoveModules are top-level modules deleted from site-packages.
	// Metadata records are left alone.
	RemoveModules []string
	// RemoveRecords are distributions whose metadata records are deleted.
	// Modules are left alone.
	RemoveRecords []string
	// ExtraGlobs are matched under app/ and site-packages/.
	ExtraGlobs []string
}

// DefaultOptions enables every rule except metadata-record removal, which
// freezing depends on, and the stdlib trim.
func DefaultOptions() Options {
	return Options{
		StripBytecode:        true,
		StripTests:           true,
		StripDocs:            true,
		StripTypeHints:       true,
		StripPackagingTools:  true,
		RemoveBuildArtifacts: true,
	}
}

// Stats reports what Optimize removed.
type Stats struct {
	FilesRemoved       int   `json:"files_removed"`
	DirectoriesRemoved int   `json:"directories_removed"`
	BytesReclaimed     int64 `json:"bytes_reclaimed"`
	PackagesRemoved    int   `json:"packages_removed"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.FilesRemoved += o.FilesRemoved
	s.DirectoriesRemoved += o.DirectoriesRemoved
	s.BytesReclaimed += o.BytesReclaimed
	s.PackagesRemoved += o.PackagesRemoved
}

type root int

const (
	rootApp root = iota
	rootSite
	rootStdlib
)

type rule struct {
	name     string
	roots    []root
	patterns []string
	dirsOnly bool
}

var stdlibTrim = []string{"ensurepip", "distutils", "lib2to3", "idlelib", "tkinter", "turtledemo", "venv", "test"}

func (o Options) rules() []rule {
	var rules []rule
	if o.StripBytecode {
		rules = append(rules,
			rule{name: "bytecode", roots: []root{rootApp, rootSite}, patterns: []string{"**/*.pyc", "**/*.pyo"}},
			rule{name: "bytecode", roots: []root{rootApp, rootSite}, patterns: []string{"**/__pycache__"}, dirsOnly: true},
		)
	}
	if o.StripTests {
		rules = append(rules, rule{name: "tests", roots: []root{rootSite}, patterns: []string{"**/tests", "**/test"}, dirsOnly: true})
	}
	if o.StripDocs {
		rules = append(rules, rule{name: "docs", roots: []root{rootSite}, patterns: []string{
			"**/docs", "**/examples", "**/example", "**/benchmark*",
			"**/LICENSE*", "**/COPYING*", "**/NOTICE*", "**/README*", "**/*.md", "**/*.rst",
		}})
	}
	if o.StripTypeHints {
		rules = append(rules, rule{name: "type hints", roots: []root{rootSite}, patterns: []string{"**/*.pyi", "**/py.typed"}})
	}
	if o.StripPackagingTools {
		var patterns []string
		for _, tool := range []string{"pip", "setuptools", "wheel"} {
			patterns = append(patterns, packagePatterns(tool)...)
		}
		patterns = append(patterns, "pkg_resources", "_distutils_hack", "distutils-precedence.pth")
		rules = append(rules, rule{name: "packaging tools", roots: []root{rootSite}, patterns: patterns})
	}
	if o.StripDistInfo {
		rules = append(rules, rule{name: "dist-info", roots: []root{rootSite}, patterns: []string{"*.dist-info", "*.egg-info"}, dirsOnly: true})
	}
	if o.RemoveBuildArtifacts {
		rules = append(rules,
			rule{name: "build artifacts", roots: []root{rootApp}, patterns: []string{"dist", "build", "*.egg-info", "requirements*.txt"}},
			rule{name: "build artifacts", roots: []root{rootApp, rootSite}, patterns: []string{"**/.DS_Store"}},
		)
	}
	if o.AggressiveStdlib {
		rules = append(rules, rule{name: "stdlib trim", roots: []root{rootStdlib}, patterns: stdlibTrim, dirsOnly: true})
	}
	if len(o.RemovePackages) > 0 {
		var patterns []string
		for _, pkg := range o.RemovePackages {
			patterns = append(patterns, packagePatterns(pkg)...)
		}
		rules = append(rules, rule{name: "packages", roots: []root{rootSite}, patterns: patterns})
	}
	if len(o.RemoveModules) > 0 {
		var patterns []string
		for _, m := range o.RemoveModules {
			patterns = append(patterns, modulePatterns(m)...)
		}
		rules = append(rules, rule{name: "modules", roots: []root{rootSite}, patterns: patterns})
	}
	if len(o.RemoveRecords) > 0 {
		var patterns []string
		for _, pkg := range o.RemoveRecords {
			patterns = append(patterns, recordPatterns(pkg)...)
		}
		rules = append(rules, rule{name: "records", roots: []root{rootSite}, patterns: patterns, dirsOnly: true})
	}
	if len(o.ExtraGlobs) > 0 {
		rules = append(rules, rule{name: "extra", roots: []root{rootApp, rootSite}, patterns: o.ExtraGlobs})
	}
	return rules
}

// packagePatterns matches a package directory or module, its native
// extensions and its metadata records.
func packagePatterns(name string) []string {
	return append(modulePatterns(name), recordPatterns(name)...)
}

// modulePatterns matches a top-level package directory, a module file and
// its native extensions.
func modulePatterns(name string) []string {
	var patterns []string
	for _, n := range spellings(name) {
		patterns = append(patterns, n, n+".py", n+".*.so", n+".*.pyd")
	}
	return patterns
}

// recordPatterns matches the *.dist-info and *.egg-info records of a
// distribution.
func recordPatterns(name string) []string {
	var patterns []string
	for _, n := range spellings(name) {
		patterns = append(patterns, n+"-[0-9]*.dist-info", n+"-[0-9]*.egg-info")
	}
	return patterns
}

// spellings returns name in its "-" and "_" forms, escaped for globbing.
// Records use the latter.
func spellings(name string) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range []string{name, strings.ReplaceAll(name, "-", "_"), strings.ReplaceAll(name, "_", "-")} {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, escape(n))
	}
	return out
}

func escape(name string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "{", `\{`)
	return r.Replace(name)
}

// Optimize validates the layout and removes every path matched by the
// enabled rules. Nested matches are removed once, through their outermost
// match.
func Optimize(log logbowl.Logger, l layout.Layout, opts Options) (Stats, error) {
	log = log.OrNull()
	if err := l.Validate(); err != nil {
		return Stats{}, err
	}

	roots := map[root]string{
		rootApp:    l.AppDir(),
		rootSite:   l.SitePackagesDir(),
		rootStdlib: l.StdlibDir(),
	}
	for _, pattern := range opts.ExtraGlobs {
		if !doublestar.ValidatePattern(pattern) {
			return Stats{}, swerrors.New(swerrors.KindConfig, "invalid strip glob: %s", pattern)
		}
	}

	var targets []string
	for _, r := range opts.rules() {
		for _, base := range r.roots {
			matches, err := find(roots[base], r.patterns, r.dirsOnly)
			if err != nil {
				return Stats{}, swerrors.Wrap(swerrors.KindBuild, err, "failed to match %s rule", r.name)
			}
			if len(matches) > 0 {
				log.Debug("optimize", "scan", "progress", "Rule matched", "rule", r.name, "root", l.Rel(roots[base]), "matches", len(matches))
			}
			targets = append(targets, matches...)
		}
	}

	var stats Stats
	for _, path := range dedupe(targets) {
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			size, err := fsutil.DirSize(path)
			if err != nil {
				return stats, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to measure %s", path).WithPath(path)
			}
			if err := os.RemoveAll(path); err != nil {
				return stats, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to remove %s", path).WithPath(path)
			}
			stats.BytesReclaimed += size
			stats.DirectoriesRemoved++
			if looksLikePackage(path, l.SitePackagesDir()) {
				stats.PackagesRemoved++
			}
			continue
		}
		if err := os.Remove(path); err != nil {
			return stats, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to remove %s", path).WithPath(path)
		}
		stats.BytesReclaimed += info.Size()
		stats.FilesRemoved++
	}

	log.Info("optimize", "delete", "success", "Bundle optimized",
		"files", stats.FilesRemoved, "dirs", stats.DirectoriesRemoved,
		"bytes", stats.BytesReclaimed, "packages", stats.PackagesRemoved)
	return stats, nil
}

func find(base string, patterns []string, dirsOnly bool) ([]string, error) {
	if !fsutil.IsDir(base) {
		return nil, nil
	}
	fsys := os.DirFS(base)
	var out []string
	for _, pattern := range patterns {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithNoFollow())
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if dirsOnly {
				info, err := fs.Stat(fsys, m)
				if err != nil || !info.IsDir() {
					continue
				}
			}
			out = append(out, filepath.Join(base, filepath.FromSlash(m)))
		}
	}
	return out, nil
}

// dedupe sorts shortest first and drops duplicates and anything beneath an
// already kept path.
func dedupe(paths []string) []string {
	sorted := append([]string(nil), paths...)
	sort.Slice(sorted, func(i, j int) bool {
		if len(sorted[i]) != len(sorted[j]) {
			return len(sorted[i]) < len(sorted[j])
		}
		return sorted[i] < sorted[j]
	})

	kept := make(map[string]bool, len(sorted))
	var unique []string
	for _, p := range sorted {
		if kept[p] || coveredBy(p, kept) {
			continue
		}
		kept[p] = true
		unique = append(unique, p)
	}
	return unique
}

func coveredBy(path string, kept map[string]bool) bool {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if kept[dir] {
			return true
		}
		if parent := filepath.Dir(dir); parent == dir {
			return false
		}
	}
}

func looksLikePackage(path, siteDir string) bool {
	name := filepath.Base(path)
	if strings.HasSuffix(name, ".dist-info") || strings.HasSuffix(name, ".egg-info") {
		return true
	}
	return filepath.Dir(path) == siteDir
}
