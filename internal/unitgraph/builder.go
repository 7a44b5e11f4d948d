package unitgraph

import (
	"fmt"

	"github.com/distr1/forge/internal/intern"
	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/resolve"
)

// RootRequest is one target the user asked to build/check/test/doc (spec
// §4.E step 1): "which library/bin/test targets the user asked for".
type RootRequest struct {
	Pkg    pkgid.PackageID
	Target manifest.Target
	Mode   Mode
	Kind   Kind
}

// Builder constructs a Graph from a Resolve plus its resolved feature sets.
// Grounded on distri's pb.Build construction walking a package's declared
// dependencies to emit a DAG, generalized to cargo's mode-mapping and
// is_std / proc-macro / build-script special cases.
type Builder struct {
	Resolve      *resolve.Resolve
	Features     *resolve.Enabled
	HostDepSplit bool   // -Zfeatures=host_dep
	HostTriple   string
	TargetTriple string
	Profile      manifest.Profile
	// StdTarget, if set, is the standard-library lib target built with
	// IsStd = true and attached as an implicit dependency of every unit
	// whose Kind is not Host and whose Mode is not RunCustomBuild (spec
	// §4.E step 5). Std wiring happens only when BuildStd is set.
	StdPkg    pkgid.PackageID
	StdTarget manifest.Target
	BuildStd  bool

	interner *intern.Table[string, Unit]
	graph    *Graph
	computed map[*Unit]bool
	stdUnit  *Unit
}

// Build runs the algorithm of spec §4.E over roots and returns the frozen,
// deterministically sorted UnitGraph.
func (b *Builder) Build(roots []RootRequest) (*Graph, error) {
	b.interner = intern.New[string, Unit]()
	b.graph = newGraph()
	b.computed = map[*Unit]bool{}

	if b.BuildStd {
		b.stdUnit = b.intern(Unit{
			Pkg: b.StdPkg, Target: b.StdTarget, Profile: b.Profile,
			Kind: Kind{Host: false, Triple: b.TargetTriple}, Mode: Mode{Kind: ModeBuild}, IsStd: true,
		})
		b.graph.addUnit(b.stdUnit)
	}

	for _, r := range roots {
		feats := sortedFeatures(b.featuresFor(r.Pkg, r.Kind, r.Mode.Kind))
		var lints map[string]string
		if pkg, ok := b.Resolve.Package(r.Pkg); ok && pkg.Manifest != nil {
			lints = pkg.Manifest.Lints
		}
		u := b.intern(Unit{
			Pkg: r.Pkg, Target: r.Target, Profile: b.Profile,
			Kind: r.Kind, Mode: r.Mode, Features: feats, LintLevels: lints,
		})
		b.graph.addUnit(u)
		if err := b.computeDeps(u); err != nil {
			return nil, err
		}
	}

	b.attachStd()
	b.linkBuildScriptOrdering()
	b.graph.sortAdjacency()
	if err := b.graph.checkAcyclic(); err != nil {
		return nil, err
	}
	return b.graph, nil
}

func (b *Builder) intern(u Unit) *Unit {
	return b.interner.Intern(u.key(), func() Unit { return u })
}

// featuresFor is the FeaturesFor context selector of spec §4.D rule 2: a
// unit compiling for the host (a build script, proc-macro, or
// RunCustomBuild) draws from the HostDep feature bucket when host/target
// decoupling is active.
func (b *Builder) featuresFor(pkg pkgid.PackageID, kind Kind, mode ModeKind) []string {
	ctx := resolve.NormalOrDev
	if b.HostDepSplit && (kind.Host || mode == ModeRunCustomBuild) {
		ctx = resolve.HostDep
	}
	return b.Features.FeaturesFor(pkg, ctx)
}

func findTarget(m *manifest.Manifest, kind manifest.TargetKind) *manifest.Target {
	if m == nil {
		return nil
	}
	for i := range m.Targets {
		if m.Targets[i].Kind == kind {
			return &m.Targets[i]
		}
	}
	return nil
}

// computeDeps implements spec §4.E step 2's dependency computation for u,
// recursing into every child it creates. The computed set prevents
// recomputation once a unit (identified by its interned pointer) has
// already been processed.
func (b *Builder) computeDeps(u *Unit) error {
	if b.computed[u] {
		return nil
	}
	b.computed[u] = true

	pkg, ok := b.Resolve.Package(u.Pkg)
	if !ok {
		return fmt.Errorf("unitgraph: %s not present in Resolve", u.Pkg)
	}

	if u.Mode.Kind == ModeRunCustomBuild {
		return b.computeRunCustomBuildDeps(u, pkg)
	}

	for _, d := range pkg.Dependencies {
		if d.Kind == manifest.DepDev && u.Mode.Kind != ModeTest && u.Mode.Kind != ModeBench && u.Mode.Kind != ModeDoctest {
			continue
		}
		depPkg, ok := b.Resolve.Package(d.Pkg)
		if !ok || depPkg.Manifest == nil {
			continue
		}
		libTarget := findTarget(depPkg.Manifest, manifest.TargetLib)
		if libTarget == nil {
			continue
		}
		hostLike := d.Kind == manifest.DepBuild || libTarget.ProcMacro
		childKind := u.Kind
		forKind := ForNormal
		if hostLike {
			childKind = Kind{Host: true}
			forKind = ForHost
		}
		var childMode Mode
		if u.Mode.Kind == ModeDoc {
			if u.Mode.DocDeps {
				childMode = Mode{Kind: ModeBuild}
			} else {
				childMode = Mode{Kind: ModeCheck}
			}
		} else {
			childMode = checkOrBuildMode(u.Mode.Kind, hostLike)
		}
		if hostLike && !libTarget.ProcMacro {
			// Build dependencies compile for the host unconditionally,
			// whatever mode the parent is in.
			childMode = Mode{Kind: ModeBuild}
		}
		feats := sortedFeatures(b.featuresFor(d.Pkg, childKind, childMode.Kind))
		child := b.intern(Unit{
			Pkg: d.Pkg, Target: *libTarget, Profile: b.Profile,
			Kind: childKind, Mode: childMode, Features: feats,
		})
		b.graph.addDep(u, UnitDep{Unit: child, For: forKind, ExternCrateName: libTarget.Name, Public: true})
		if err := b.computeDeps(child); err != nil {
			return err
		}
	}

	if bs := findTarget(pkg.Manifest, manifest.TargetCustomBuild); bs != nil {
		runUnit := b.intern(Unit{
			Pkg: u.Pkg, Target: *bs, Profile: b.Profile,
			Kind: Kind{Host: true}, Mode: Mode{Kind: ModeRunCustomBuild},
			Features: sortedFeatures(b.featuresFor(u.Pkg, Kind{Host: true}, ModeRunCustomBuild)),
		})
		b.graph.addDep(u, UnitDep{Unit: runUnit, For: ForBuildScript})
		if err := b.computeDeps(runUnit); err != nil {
			return err
		}
	}

	if u.Target.Kind == manifest.TargetBin || u.Target.Kind == manifest.TargetTest || u.Target.Kind == manifest.TargetBench || u.Target.Kind == manifest.TargetExample {
		if lib := findTarget(pkg.Manifest, manifest.TargetLib); lib != nil && lib.Name != u.Target.Name {
			childMode := checkOrBuildMode(u.Mode.Kind, false)
			feats := sortedFeatures(b.featuresFor(u.Pkg, u.Kind, childMode.Kind))
			child := b.intern(Unit{Pkg: u.Pkg, Target: *lib, Profile: b.Profile, Kind: u.Kind, Mode: childMode, Features: feats})
			b.graph.addDep(u, UnitDep{Unit: child, For: ForNormal, ExternCrateName: lib.Name, Public: true})
			if err := b.computeDeps(child); err != nil {
				return err
			}
		}
		if u.Target.Kind == manifest.TargetTest || u.Target.Kind == manifest.TargetBench {
			for i := range pkg.Manifest.Targets {
				bin := pkg.Manifest.Targets[i]
				if bin.Kind != manifest.TargetBin || !requiredFeaturesSatisfied(bin.RequiredFeatures, u.Features) {
					continue
				}
				child := b.intern(Unit{Pkg: u.Pkg, Target: bin, Profile: b.Profile, Kind: u.Kind, Mode: Mode{Kind: ModeBuild}, Features: u.Features})
				b.graph.addDep(u, UnitDep{Unit: child, For: ForTest, ExternCrateName: bin.Name})
				if err := b.computeDeps(child); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// computeRunCustomBuildDeps implements spec §4.E step 2's RunCustomBuild
// case: depend only on the build script's Compile unit plus the
// RunCustomBuild units of direct deps that publish link metadata.
func (b *Builder) computeRunCustomBuildDeps(u *Unit, pkg *resolve.ResolvedPackage) error {
	compile := b.intern(Unit{
		Pkg: u.Pkg, Target: u.Target, Profile: b.Profile,
		Kind: Kind{Host: true}, Mode: Mode{Kind: ModeBuild},
		Features: sortedFeatures(b.featuresFor(u.Pkg, Kind{Host: true}, ModeBuild)),
	})
	b.graph.addDep(u, UnitDep{Unit: compile, For: ForBuildScript})
	if err := b.computeDeps(compile); err != nil {
		return err
	}

	for _, d := range pkg.Dependencies {
		if d.Kind == manifest.DepDev {
			continue
		}
		depPkg, ok := b.Resolve.Package(d.Pkg)
		if !ok || depPkg.Manifest == nil || depPkg.Manifest.Links == "" {
			continue
		}
		bs := findTarget(depPkg.Manifest, manifest.TargetCustomBuild)
		if bs == nil {
			continue
		}
		runDep := b.intern(Unit{
			Pkg: d.Pkg, Target: *bs, Profile: b.Profile,
			Kind: Kind{Host: true}, Mode: Mode{Kind: ModeRunCustomBuild},
			Features: sortedFeatures(b.featuresFor(d.Pkg, Kind{Host: true}, ModeRunCustomBuild)),
		})
		b.graph.addDep(u, UnitDep{Unit: runDep, For: ForBuildScript})
		if err := b.computeDeps(runDep); err != nil {
			return err
		}
	}
	return nil
}

// requiredFeaturesSatisfied reports whether every feature in required is
// present in enabled (both sorted), the filter spec §4.E step 2 applies to
// integration-test/bench dependencies on sibling binaries.
func requiredFeaturesSatisfied(required, enabled []string) bool {
	set := map[string]bool{}
	for _, f := range enabled {
		set[f] = true
	}
	for _, f := range required {
		if !set[f] {
			return false
		}
	}
	return true
}

// attachStd implements spec §4.E step 5: every unit whose Kind is not Host
// and whose Mode is not RunCustomBuild gets an implicit dependency on the
// std unit.
func (b *Builder) attachStd() {
	if b.stdUnit == nil {
		return
	}
	if err := b.computeDeps(b.stdUnit); err != nil {
		// std has no manifest-level dependencies to walk in this model;
		// computeDeps only fails on a missing Resolve entry, which would
		// mean StdPkg was never registered as a root package.
		return
	}
	for _, u := range append([]*Unit{}, b.graph.order...) {
		if u == b.stdUnit || u.Kind.Host || u.Mode.Kind == ModeRunCustomBuild || u.IsStd {
			continue
		}
		b.graph.addDep(u, UnitDep{Unit: b.stdUnit, For: ForNormal, ExternCrateName: "std"})
	}
}

// linkBuildScriptOrdering is the post-pass of spec §4.E's final paragraph:
// for every RunCustomBuild unit U, look at U's reverse dependencies (the
// units that depend on U), find any links-bearing linkable sibling they
// also depend on, and add that sibling's RunCustomBuild as an additional
// dependency of U.
func (b *Builder) linkBuildScriptOrdering() {
	parents := map[*Unit][]*Unit{}
	for _, u := range b.graph.order {
		for _, dep := range b.graph.edges[u] {
			parents[dep.Unit] = append(parents[dep.Unit], u)
		}
	}

	for _, u := range append([]*Unit{}, b.graph.order...) {
		if u.Mode.Kind != ModeRunCustomBuild {
			continue
		}
		for _, parent := range parents[u] {
			for _, sibling := range b.graph.edges[parent] {
				pkg, ok := b.Resolve.Package(sibling.Unit.Pkg)
				if !ok || pkg.Manifest == nil || pkg.Manifest.Links == "" {
					continue
				}
				if sibling.Unit.Target.Kind != manifest.TargetLib {
					continue
				}
				bs := findTarget(pkg.Manifest, manifest.TargetCustomBuild)
				if bs == nil || sibling.Unit.Pkg.Equal(u.Pkg) {
					continue
				}
				runDep := b.intern(Unit{
					Pkg: sibling.Unit.Pkg, Target: *bs, Profile: b.Profile,
					Kind: Kind{Host: true}, Mode: Mode{Kind: ModeRunCustomBuild},
					Features: sortedFeatures(b.featuresFor(sibling.Unit.Pkg, Kind{Host: true}, ModeRunCustomBuild)),
				})
				b.graph.addDep(u, UnitDep{Unit: runDep, For: ForBuildScript})
			}
		}
	}
}
