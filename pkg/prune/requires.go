package prune

import (
	"regexp"
	"strings"

	"shrinkwrap-tools/go/pkg/distinfo"
)

var requirementName = regexp.MustCompile(`^\s*([A-Za-z0-9][A-Za-z0-9._-]*)`)

// RequiresOf returns the installed packages pkg declares as runtime
// requirements. Requirements gated on an extra and ones that are not
// installed are left out.
func (ix *Index) RequiresOf(pkg string) []string {
	out := make(set)
	for _, req := range ix.requires[pkg] {
		spec, marker, _ := strings.Cut(req, ";")
		if strings.Contains(marker, "extra") {
			continue
		}
		m := requirementName.FindStringSubmatch(spec)
		if m == nil {
			continue
		}
		if dep, ok := ix.Match(m[1]); ok && dep != pkg {
			out.add(dep)
		}
	}
	return out.sorted()
}

// Closure returns roots plus every installed package they require,
// transitively. Roots are matched by normalized name; unknown roots are
// ignored.
func (ix *Index) Closure(roots []string) []string {
	seen := make(set)
	var queue []string
	for _, r := range roots {
		if pkg, ok := ix.Match(r); ok {
			queue = append(queue, pkg)
		}
	}
	for len(queue) > 0 {
		pkg := queue[0]
		queue = queue[1:]
		if _, ok := seen[pkg]; ok {
			continue
		}
		seen.add(pkg)
		queue = append(queue, ix.RequiresOf(pkg)...)
	}
	return seen.sorted()
}

// RetainRequired drops from UnusedPackages every package that a kept
// package, or one of extra, requires. Packages in deny stay removable.
// Skipped plans are returned unchanged.
func (p *Plan) RetainRequired(extra, deny []string) *Plan {
	if p.Skipped() || len(p.UnusedPackages) == 0 {
		return p
	}
	unused := make(set)
	for _, pkg := range p.UnusedPackages {
		unused.add(pkg)
	}
	denied := normalizedSet(deny)

	roots := append([]string(nil), extra...)
	for _, pkg := range p.Index.Packages() {
		if _, ok := unused[pkg]; !ok {
			roots = append(roots, pkg)
		}
	}
	for _, pkg := range p.Index.Closure(roots) {
		if _, drop := denied[distinfo.Normalize(pkg)]; !drop {
			delete(unused, pkg)
		}
	}

	out := *p
	out.UnusedPackages = unused.sorted()
	return &out
}
