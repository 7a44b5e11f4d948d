// Package resolve implements the dependency resolver (spec §4.C): picking
// exactly one package id per package name per source, honoring lockfile
// pins, per-name source rewrites given in Resolver.Patch (the manifest's
// [patch] and [replace] tables are not read here), platform-cfg predicates
// and dep-kind rules, with conflict-directed backtracking when a later constraint
// invalidates an earlier choice. Grounded in idiom on distri's
// internal/build/resolve.go Resolve/resolve1 pair (a worklist-driven
// dependency walk accumulating one chosen version per package) and on
// aligot's topoSort requires/build_requires split, generalized to cargo's
// backtracking resolver semantics.
package resolve

import (
	"fmt"
	"sort"

	"golang.org/x/xerrors"

	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/pkgid/cfgexpr"
	"github.com/distr1/forge/internal/source"
)

// Platform describes the compile target under consideration: the set of
// active cfg atoms (for evaluating a dependency's target predicate) plus
// the target triple, against which bare-triple predicates are matched.
type Platform struct {
	Atoms cfgexpr.AtomSet
	Triple string
}

// Matches reports whether predicate (a raw cfg(...) expression or bare
// triple, "" meaning unconditional) applies to p.
func (p Platform) Matches(predicate string) (bool, error) {
	if predicate == "" {
		return true, nil
	}
	expr, err := cfgexpr.Parse(predicate)
	if err != nil {
		return false, xerrors.Errorf("resolve: bad target predicate %q: %w", predicate, err)
	}
	if p.Triple != "" && expr.MatchesTriple(p.Triple) {
		return true, nil
	}
	return expr.Eval(p.Atoms), nil
}

// SourceResolver maps a manifest dependency declaration to the Source it
// should be queried against. Concrete wiring (registry URL -> transport,
// path -> filesystem, credential handling) lives with the caller; the
// resolver only needs this narrow capability.
type SourceResolver interface {
	Resolve(dep manifest.Dependency, parent pkgid.SourceID) (source.Source, error)
}

// RootPackage is one workspace member seeding the resolve.
type RootPackage struct {
	ID                pkgid.PackageID
	Manifest          *manifest.Manifest
	IsWorkspaceMember bool
}

// ResolvedDep is one outgoing edge from a resolved package.
type ResolvedDep struct {
	Pkg        pkgid.PackageID
	NameInToml string
	Kind       manifest.DependencyKind
}

// ResolvedPackage is one node of a Resolve: a chosen package id, its
// manifest, and its filtered, kind-aware dependency edges.
type ResolvedPackage struct {
	ID           pkgid.PackageID
	Manifest     *manifest.Manifest
	Dependencies []ResolvedDep
}

// Resolve is the output of §4.C: a read-only dependency graph, one node per
// distinct chosen PackageID, keyed by its canonical string form for stable
// iteration and lookup.
type Resolve struct {
	Roots    []pkgid.PackageID
	Packages map[string]*ResolvedPackage
}

func key(id pkgid.PackageID) string { return id.String() }

func (r *Resolve) Package(id pkgid.PackageID) (*ResolvedPackage, bool) {
	p, ok := r.Packages[key(id)]
	return p, ok
}

// Resolver carries the inputs to Resolve that stay fixed across the whole
// algorithm.
type Resolver struct {
	Sources         SourceResolver
	Lockfile        *manifest.Lockfile
	Platform        Platform
	MinimalVersions bool // prefer lowest satisfying version, spec §4.C tie-break
	Patch           map[string]pkgid.SourceID
}

// NotFoundError is the "no matching package" failure mode of spec §4.C,
// citing the requested name/requirement and the candidates that were
// considered.
type NotFoundError struct {
	Name       string
	Req        pkgid.VersionReq
	Candidates []pkgid.Version
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no matching package for %s%s (candidates: %v)", e.Name, e.Req, e.Candidates)
}

// CycleError reports a non-dev dependency cycle (spec §4.C step 7;
// dev-dependency cycles are permitted).
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %v", e.Cycle)
}

// requirement is one outstanding (name, req, source-hint) tuple to satisfy,
// carrying enough context to build a ResolvedDep edge once settled.
type requirement struct {
	fromName   string // resolve-key of the package that declared this dep, "" for a root
	nameInToml string
	pkgName    string
	req        pkgid.VersionReq
	kind       manifest.DependencyKind
	parentSrc  pkgid.SourceID
	targetCfg  string
}

// decision is one backtracking choice point: the ordered candidates tried
// for a given package name and how far we've gotten through them.
type decision struct {
	name       string
	candidates []source.Summary
	tried      int
	req        requirement
}

// Resolve runs the algorithm of spec §4.C against roots, returning the
// resolved dependency graph or a NotFoundError/CycleError.
func (r *Resolver) Resolve(roots []RootPackage) (*Resolve, error) {
	res := &Resolve{Packages: map[string]*ResolvedPackage{}}

	selected := map[string]pkgid.PackageID{}  // pkgName -> chosen id
	constraints := map[string][]pkgid.VersionReq{}
	var stack []*decision
	var queue []requirement

	for _, root := range roots {
		res.Roots = append(res.Roots, root.ID)
		selected[root.Manifest.Name] = root.ID
		res.Packages[key(root.ID)] = &ResolvedPackage{ID: root.ID, Manifest: root.Manifest}
		reqs, err := r.depRequirements(root.ID, root.Manifest, root.IsWorkspaceMember)
		if err != nil {
			return nil, err
		}
		queue = append(queue, reqs...)
	}

	for len(queue) > 0 {
		req := queue[0]
		queue = queue[1:]

		ok, err := r.Platform.Matches(req.targetCfg)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // spec §4.C step 5: platform-cfg predicate excludes this edge
		}

		if existing, had := selected[req.pkgName]; had {
			constraints[req.pkgName] = append(constraints[req.pkgName], req.req)
			if req.req.Matches(existing.Version) {
				r.addEdge(res, req, existing)
				continue
			}
			// Conflict: the already-chosen version doesn't satisfy this new
			// requirement. Back up to the decision point for this package
			// name and try the next candidate (conflict-directed
			// backtracking, spec §4.C step 3).
			reQueued, err := r.backtrack(req.pkgName, &stack, selected, constraints)
			if err != nil {
				return nil, err
			}
			queue = append(reQueued, queue...)
			queue = append(queue, req)
			continue
		}

		src, err := r.sourceFor(req)
		if err != nil {
			return nil, err
		}
		summaries, err := src.Query(source.DependencyReq{Name: req.pkgName, Req: req.req}).BlockUntilReady()
		if err != nil {
			return nil, err
		}
		candidates := r.sortCandidates(summaries, req.pkgName)
		if len(candidates) == 0 {
			var all []pkgid.Version
			for _, s := range summaries {
				all = append(all, s.ID.Version)
			}
			return nil, &NotFoundError{Name: req.pkgName, Req: req.req, Candidates: all}
		}

		d := &decision{name: req.pkgName, candidates: candidates, req: req}
		stack = append(stack, d)
		chosen := candidates[0]
		d.tried = 1

		selected[req.pkgName] = chosen.ID
		constraints[req.pkgName] = append(constraints[req.pkgName], req.req)
		res.Packages[key(chosen.ID)] = &ResolvedPackage{ID: chosen.ID}
		r.addEdge(res, req, chosen.ID)

		pkg, err := src.Download(chosen.ID)
		if err != nil {
			return nil, err
		}
		res.Packages[key(chosen.ID)].Manifest = pkg.Manifest
		if pkg.Manifest != nil {
			more, err := r.depRequirements(chosen.ID, pkg.Manifest, false)
			if err != nil {
				return nil, err
			}
			queue = append(queue, more...)
		}
	}

	if cyc := detectCycle(res); cyc != nil {
		return nil, &CycleError{Cycle: cyc}
	}
	return res, nil
}

// backtrack pops decision points for name until it finds one with an
// untried candidate, rolling back `selected`/`constraints` state for every
// package chosen after that point (those choices are no longer valid since
// they may have depended on the now-abandoned candidate). It returns the
// requirements that need to be re-queued for the packages it rolled back.
func (r *Resolver) backtrack(name string, stack *[]*decision, selected map[string]pkgid.PackageID, constraints map[string][]pkgid.VersionReq) ([]requirement, error) {
	var requeue []requirement
	for i := len(*stack) - 1; i >= 0; i-- {
		d := (*stack)[i]
		if d.name != name {
			delete(selected, d.name)
			delete(constraints, d.name)
			requeue = append(requeue, d.req)
			*stack = (*stack)[:i]
			continue
		}
		if d.tried < len(d.candidates) {
			next := d.candidates[d.tried]
			d.tried++
			selected[d.name] = next.ID
			*stack = (*stack)[:i+1]
			return requeue, nil
		}
		delete(selected, d.name)
		delete(constraints, d.name)
		*stack = (*stack)[:i]
	}
	return nil, &NotFoundError{Name: name}
}

func (r *Resolver) sourceFor(req requirement) (source.Source, error) {
	dep := manifest.Dependency{NameInToml: req.nameInToml, Package: req.pkgName, Req: req.req, Kind: req.kind}
	if patched, ok := r.Patch[req.pkgName]; ok {
		dep.Source = &patched
	}
	return r.Sources.Resolve(dep, req.parentSrc)
}

// sortCandidates implements spec §4.C step 2's tie-break: lockfile-pinned
// version first, then highest (or, under MinimalVersions, lowest)
// satisfying version, then by stable package-id order.
func (r *Resolver) sortCandidates(summaries []source.Summary, name string) []source.Summary {
	pinned := r.lockfilePin(name)
	out := make([]source.Summary, 0, len(summaries))
	for _, s := range summaries {
		if s.Yanked && (pinned == "" || s.ID.Version.String() != pinned) {
			continue // spec §4.C step 2: yanked excluded unless exactly pinned
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pinned != "" {
			ap, bp := a.ID.Version.String() == pinned, b.ID.Version.String() == pinned
			if ap != bp {
				return ap
			}
		}
		if c := pkgid.Compare(a.ID.Version, b.ID.Version); c != 0 {
			if r.MinimalVersions {
				return c < 0
			}
			return c > 0
		}
		return pkgid.Less(a.ID, b.ID)
	})
	return out
}

func (r *Resolver) lockfilePin(name string) string {
	if r.Lockfile == nil {
		return ""
	}
	for _, p := range r.Lockfile.Packages {
		if p.Name == name {
			return p.Version
		}
	}
	return ""
}

// depRequirements filters owner's manifest dependencies per spec §4.C step
// 6: dev-dependencies only propagate from workspace members, build-deps are
// tagged so the scheduler can compile them for host later.
func (r *Resolver) depRequirements(owner pkgid.PackageID, m *manifest.Manifest, isWorkspaceMember bool) ([]requirement, error) {
	var out []requirement
	for _, d := range m.Dependencies {
		if d.Kind == manifest.DepDev && !isWorkspaceMember {
			continue
		}
		out = append(out, requirement{
			fromName:   key(owner),
			nameInToml: d.NameInToml,
			pkgName:    d.Package,
			req:        d.Req,
			kind:       d.Kind,
			parentSrc:  owner.Source,
			targetCfg:  d.TargetCfg,
		})
	}
	return out, nil
}

func (r *Resolver) addEdge(res *Resolve, req requirement, to pkgid.PackageID) {
	if req.fromName == "" {
		return
	}
	from, ok := res.Packages[req.fromName]
	if !ok {
		return
	}
	for _, e := range from.Dependencies {
		if e.Pkg.Equal(to) && e.NameInToml == req.nameInToml {
			return
		}
	}
	from.Dependencies = append(from.Dependencies, ResolvedDep{Pkg: to, NameInToml: req.nameInToml, Kind: req.kind})
}

// detectCycle walks the non-dev subgraph (spec §4.C step 7) and returns the
// first cycle found as a slice of package-id strings, or nil if acyclic.
func detectCycle(res *Resolve) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string
	var cyc []string

	var visit func(k string) bool
	visit = func(k string) bool {
		color[k] = gray
		path = append(path, k)
		pkg := res.Packages[k]
		if pkg != nil {
			for _, e := range pkg.Dependencies {
				if e.Kind == manifest.DepDev {
					continue
				}
				ek := key(e.Pkg)
				switch color[ek] {
				case white:
					if visit(ek) {
						return true
					}
				case gray:
					cyc = append(append([]string{}, path...), ek)
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[k] = black
		return false
	}

	keys := make([]string, 0, len(res.Packages))
	for k := range res.Packages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if color[k] == white {
			if visit(k) {
				return cyc
			}
		}
	}
	return nil
}
