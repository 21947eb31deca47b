// Package prune decides which installed packages an application never
// imports.
//
// The decision is conservative. When any imported module cannot be traced
// to an installed package or to the application's own tree, nothing is
// proposed for removal.
package prune

import (
	"shrinkwrap-tools/go/pkg/config"
	"shrinkwrap-tools/go/pkg/distinfo"
	"shrinkwrap-tools/go/pkg/imports"
	"shrinkwrap-tools/go/pkg/layout"
	"shrinkwrap-tools/go/pkg/logbowl"
)

// Plan is the outcome of PlanPruning. All name lists are sorted.
type Plan struct {
	UsedModules     []string
	UnusedPackages  []string
	UnmappedModules []string
	Index           *Index
}

// Skipped reports whether pruning was abandoned because of unmapped modules.
func (p *Plan) Skipped() bool { return len(p.UnmappedModules) > 0 }

// RemovalNames lists the top-level modules the optimizer should delete:
// those provided only by unused packages. A package name is never a
// removal target by itself, since a kept package may provide a module of
// that name.
func (p *Plan) RemovalNames() []string {
	if len(p.UnusedPackages) == 0 {
		return nil
	}
	unused := make(set)
	for _, pkg := range p.UnusedPackages {
		unused.add(pkg)
	}
	out := make(set)
	for _, pkg := range p.UnusedPackages {
		for _, m := range p.Index.ModulesOf(pkg) {
			if providedOnlyBy(p.Index.PackagesFor(m), unused) {
				out.add(m)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out.sorted()
}

// RemovalRecords lists the distributions whose metadata records the
// optimizer should delete.
func (p *Plan) RemovalRecords() []string {
	if len(p.UnusedPackages) == 0 {
		return nil
	}
	return append([]string(nil), p.UnusedPackages...)
}

func providedOnlyBy(pkgs []string, unused set) bool {
	for _, pkg := range pkgs {
		if _, ok := unused[pkg]; !ok {
			return false
		}
	}
	return true
}

// UsedModules returns the non-standard-library top-level modules the
// entry module reaches.
func UsedModules(graph *imports.Graph, stdlib imports.Stdlib) []string {
	used := make(set)
	for _, name := range graph.Imported() {
		if name != "" && !stdlib.Contains(name) {
			used.add(name)
		}
	}
	return used.sorted()
}

// PlanPruning analyzes cfg's entry module and the layout's site-packages.
// allow names packages that must be kept; deny names packages that are
// removed regardless of use. Both compare by normalized name.
func PlanPruning(log logbowl.Logger, cfg config.BuildConfig, l layout.Layout, allow, deny []string) (*Plan, error) {
	log = log.OrNull()
	index, err := BuildIndex(l.SitePackagesDir())
	if err != nil {
		return nil, err
	}

	graph := imports.BuildGraph(cfg.EntryModule(), cfg.ProjectRoot)
	stdlib := imports.NewStdlib(l.StdlibDir(), l.LibDynloadDir(), l.DLLsDir())
	used := UsedModules(graph, stdlib)
	log.Debug("prune", "scan", "success", "Import graph built", "modules", len(graph.Modules()), "used", len(used))

	plan := &Plan{UsedModules: used, Index: index}

	unmapped := make(set)
	for _, m := range used {
		if !index.Provides(m) && !imports.IsLocal(m, l.AppDir()) {
			unmapped.add(m)
		}
	}
	if len(unmapped) > 0 {
		plan.UnmappedModules = unmapped.sorted()
		log.Warn("prune", "plan", "skip", "Skipping pruning; could not map modules", "modules", plan.UnmappedModules)
		return plan, nil
	}

	needed := make(set)
	for _, m := range used {
		for _, pkg := range index.PackagesFor(m) {
			needed.add(pkg)
		}
	}

	allowed := normalizedSet(allow)
	denied := normalizedSet(deny)

	unused := make(set)
	for _, pkg := range index.Packages() {
		norm := distinfo.Normalize(pkg)
		if _, keep := allowed[norm]; keep {
			continue
		}
		if _, ok := needed[pkg]; !ok {
			unused.add(pkg)
		}
	}
	for _, pkg := range index.Packages() {
		if _, drop := denied[distinfo.Normalize(pkg)]; drop {
			unused.add(pkg)
		}
	}
	plan.UnusedPackages = unused.sorted()

	log.Info("prune", "plan", "success", "Pruning plan ready", "used", len(used), "unused", len(plan.UnusedPackages))
	return plan, nil
}

func normalizedSet(names []string) set {
	s := make(set)
	for _, n := range names {
		s.add(distinfo.Normalize(n))
	}
	return s
}
