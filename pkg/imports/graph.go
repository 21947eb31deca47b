// Package imports builds a static import graph over Python application sources.
//
// The analysis is file-based: a module is local when its dotted name maps
// to "<root>/a/b.py" or "<root>/a/b/__init__.py". Local modules are followed,
// everything else becomes a leaf. Conditional and deferred imports are found
// when they are written as import statements; importlib calls are not.
package imports

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Graph maps each module to the top-level names it imports.
type Graph struct {
	Entry string
	edges map[string]map[string]struct{}
}

// NewGraph returns an empty graph rooted at entry.
func NewGraph(entry string) *Graph {
	return &Graph{Entry: entry, edges: make(map[string]map[string]struct{})}
}

func (g *Graph) AddModule(module string) {
	if _, ok := g.edges[module]; !ok {
		g.edges[module] = make(map[string]struct{})
	}
}

func (g *Graph) AddEdge(source, target string) {
	g.AddModule(source)
	g.edges[source][target] = struct{}{}
}

// DependenciesOf returns the sorted import targets of module.
func (g *Graph) DependenciesOf(module string) []string {
	return sortedKeys(g.edges[module])
}

// Modules returns every visited module, sorted.
func (g *Graph) Modules() []string {
	out := make([]string, 0, len(g.edges))
	for m := range g.edges {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Imported returns the union of all import targets, sorted. These are
// top-level names, local or not.
func (g *Graph) Imported() []string {
	all := make(map[string]struct{})
	for _, targets := range g.edges {
		for t := range targets {
			all[t] = struct{}{}
		}
	}
	return sortedKeys(all)
}

// BuildGraph walks the import statements reachable from entryModule under
// projectRoot. Unreadable or untokenizable files stay in the graph with no
// outgoing edges; each module is visited at most once.
func BuildGraph(entryModule, projectRoot string) *Graph {
	g := NewGraph(entryModule)
	visited := make(map[string]bool)
	walk(g, visited, entryModule, projectRoot)
	return g
}

func walk(g *Graph, visited map[string]bool, module, root string) {
	if visited[module] {
		return
	}
	visited[module] = true
	g.AddModule(module)

	path := ModulePath(module, root)
	if path == "" {
		return
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return
	}
	found, err := ScanImports(src)
	if err != nil {
		return
	}

	isPackage := filepath.Base(path) == "__init__.py"
	for _, imp := range found {
		abs, ok := absolute(module, isPackage, imp)
		if !ok {
			continue
		}
		if abs != "" {
			top, _, _ := strings.Cut(abs, ".")
			g.AddEdge(module, top)
		}
		for _, candidate := range followCandidates(abs, imp.Names) {
			if ModulePath(candidate, root) != "" {
				walk(g, visited, candidate, root)
			}
		}
	}
}

// absolute resolves a possibly relative import against the importing
// module. ok is false when the relative import climbs above the top level.
func absolute(module string, isPackage bool, imp Import) (string, bool) {
	if imp.Level == 0 {
		return imp.Module, true
	}
	base := strings.Split(module, ".")
	if !isPackage {
		base = base[:len(base)-1]
	}
	up := imp.Level - 1
	if up > len(base) {
		return "", false
	}
	base = base[:len(base)-up]
	if imp.Module != "" {
		base = append(base, strings.Split(imp.Module, ".")...)
	}
	return strings.Join(base, "."), true
}

// followCandidates lists "a", "a.b", "a.b.c" for "a.b.c" plus "a.b.c.x" for
// every name pulled in by a from-import, since x may be a submodule.
func followCandidates(abs string, names []string) []string {
	var out []string
	if abs != "" {
		parts := strings.Split(abs, ".")
		for i := range parts {
			out = append(out, strings.Join(parts[:i+1], "."))
		}
	}
	for _, n := range names {
		if abs == "" {
			out = append(out, n)
		} else {
			out = append(out, abs+"."+n)
		}
	}
	return out
}

// ModulePath maps a dotted module name to its source file under root, or
// "" when it is not local.
func ModulePath(module, root string) string {
	if module == "" {
		return ""
	}
	rel := filepath.Join(strings.Split(module, ".")...)
	if p := filepath.Join(root, rel+".py"); isFile(p) {
		return p
	}
	if p := filepath.Join(root, rel, "__init__.py"); isFile(p) {
		return p
	}
	return ""
}

// IsLocal reports whether a top-level name belongs to the application tree:
// a module file, a package, or a namespace directory under root.
func IsLocal(name, root string) bool {
	if ModulePath(name, root) != "" {
		return true
	}
	info, err := os.Stat(filepath.Join(root, name))
	return err == nil && info.IsDir()
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
