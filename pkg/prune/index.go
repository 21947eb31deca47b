package prune

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"shrinkwrap-tools/go/pkg/distinfo"
	swerrors "shrinkwrap-tools/go/pkg/errors"
	"shrinkwrap-tools/go/pkg/imports"
)

type set map[string]struct{}

func (s set) add(v string) { s[v] = struct{}{} }

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Index maps top-level module names to the distribution packages that
// provide them, and back. A module may map to several packages.
type Index struct {
	moduleToPackages map[string]set
	packageToModules map[string]set
	packages         set
	requires         map[string][]string
}

func newIndex() *Index {
	return &Index{
		moduleToPackages: make(map[string]set),
		packageToModules: make(map[string]set),
		packages:         make(set),
		requires:         make(map[string][]string),
	}
}

func (ix *Index) link(module, pkg string) {
	if ix.moduleToPackages[module] == nil {
		ix.moduleToPackages[module] = make(set)
	}
	ix.moduleToPackages[module].add(pkg)
	if ix.packageToModules[pkg] == nil {
		ix.packageToModules[pkg] = make(set)
	}
	ix.packageToModules[pkg].add(module)
	ix.packages.add(pkg)
}

// Packages returns every installed package name, sorted.
func (ix *Index) Packages() []string { return ix.packages.sorted() }

// PackagesFor returns the packages providing module, sorted.
func (ix *Index) PackagesFor(module string) []string { return ix.moduleToPackages[module].sorted() }

// ModulesOf returns the modules provided by pkg, sorted.
func (ix *Index) ModulesOf(pkg string) []string { return ix.packageToModules[pkg].sorted() }

// Provides reports whether any package provides module.
func (ix *Index) Provides(module string) bool { return len(ix.moduleToPackages[module]) > 0 }

// Match finds an installed package whose normalized name equals the
// normalized form of name. The second result is false when none does.
func (ix *Index) Match(name string) (string, bool) {
	target := distinfo.Normalize(name)
	for _, pkg := range ix.Packages() {
		if distinfo.Normalize(pkg) == target {
			return pkg, true
		}
	}
	return "", false
}

// BuildIndex scans a dependency directory. Records (*.dist-info) come
// first; remaining top-level modules are linked to a package by name or
// stand as their own package.
func BuildIndex(dir string) (*Index, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, swerrors.New(swerrors.KindConfig, "dependencies directory not found: %s", dir).WithPath(dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, swerrors.Wrap(swerrors.KindFilesystem, err, "failed to read dependencies directory: %s", dir).WithPath(dir)
	}

	ix := newIndex()
	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), distinfo.DistInfoSuffix) {
			continue
		}
		d := distinfo.Read(filepath.Join(dir, e.Name()))
		ix.packages.add(d.Name)
		ix.requires[d.Name] = d.Requires
		for _, m := range d.Modules {
			ix.link(m, d.Name)
		}
	}

	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, distinfo.DistInfoSuffix) {
			continue
		}
		if strings.HasSuffix(name, distinfo.EggInfoSuffix) {
			ix.packages.add(distinfo.NameFromDir(name))
			continue
		}
		module := moduleFromEntry(dir, e)
		if module == "" || ix.Provides(module) {
			continue
		}
		pkg, ok := ix.Match(module)
		if !ok {
			pkg = module
		}
		ix.link(module, pkg)
	}
	return ix, nil
}

// moduleFromEntry names the module a top-level site-packages entry
// provides, or "" for data files, caches and scripts.
func moduleFromEntry(dir string, e os.DirEntry) string {
	name := e.Name()
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(path, "__init__.py")); err == nil {
			return name
		}
		return ""
	}
	if strings.HasSuffix(name, ".py") {
		return strings.TrimSuffix(name, ".py")
	}
	if mod, ok := imports.ExtensionModule(name); ok {
		return mod
	}
	return ""
}
