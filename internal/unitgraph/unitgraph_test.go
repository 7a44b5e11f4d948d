package unitgraph

import (
	"testing"

	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/resolve"
)

func mkPkg(name, version string) pkgid.PackageID {
	return pkgid.PackageID{Name: name, Version: pkgid.ParseVersion(version)}
}

func TestBuildSimpleBinDependsOnLibAndDep(t *testing.T) {
	rootID := mkPkg("root", "0.1.0")
	barID := mkPkg("bar", "1.0.0")

	res := &resolve.Resolve{Roots: []pkgid.PackageID{rootID}, Packages: map[string]*resolve.ResolvedPackage{
		rootID.String(): {
			ID: rootID,
			Manifest: &manifest.Manifest{
				Name: "root",
				Targets: []manifest.Target{
					{Name: "root", Kind: manifest.TargetLib},
					{Name: "root-bin", Kind: manifest.TargetBin},
				},
			},
			Dependencies: []resolve.ResolvedDep{{Pkg: barID, NameInToml: "bar"}},
		},
		barID.String(): {
			ID: barID,
			Manifest: &manifest.Manifest{
				Name:    "bar",
				Targets: []manifest.Target{{Name: "bar", Kind: manifest.TargetLib}},
			},
		},
	}}

	fr := &resolve.FeatureResolver{}
	enabled, err := fr.Resolve(res, []resolve.Request{{Pkg: rootID, NoDefaultFeatures: true}})
	if err != nil {
		t.Fatal(err)
	}

	b := &Builder{Resolve: res, Features: enabled}
	binTarget := res.Packages[rootID.String()].Manifest.Targets[1]
	graph, err := b.Build([]RootRequest{{Pkg: rootID, Target: binTarget, Mode: Mode{Kind: ModeBuild}, Kind: Kind{Triple: "x86_64-unknown-linux-gnu"}}})
	if err != nil {
		t.Fatal(err)
	}

	var binUnit *Unit
	for _, u := range graph.Units() {
		if u.Target.Name == "root-bin" {
			binUnit = u
		}
	}
	if binUnit == nil {
		t.Fatalf("bin unit not found among %d units", len(graph.Units()))
	}
	deps := graph.Deps(binUnit)
	var sawOwnLib, sawBar bool
	for _, d := range deps {
		if d.Unit.Pkg.Equal(rootID) && d.Unit.Target.Kind == manifest.TargetLib {
			sawOwnLib = true
		}
		if d.Unit.Pkg.Equal(barID) {
			sawBar = true
		}
	}
	if !sawOwnLib {
		t.Error("expected bin to depend on its own package's lib")
	}
	if !sawBar {
		t.Error("expected bin to depend directly on bar")
	}
}

func TestBuildInterningSharesPointers(t *testing.T) {
	rootID := mkPkg("root", "0.1.0")
	res := &resolve.Resolve{Packages: map[string]*resolve.ResolvedPackage{
		rootID.String(): {ID: rootID, Manifest: &manifest.Manifest{Name: "root", Targets: []manifest.Target{
			{Name: "root", Kind: manifest.TargetLib},
		}}},
	}}
	fr := &resolve.FeatureResolver{}
	enabled, err := fr.Resolve(res, []resolve.Request{{Pkg: rootID, NoDefaultFeatures: true}})
	if err != nil {
		t.Fatal(err)
	}
	b := &Builder{Resolve: res, Features: enabled}
	lib := res.Packages[rootID.String()].Manifest.Targets[0]
	root := RootRequest{Pkg: rootID, Target: lib, Mode: Mode{Kind: ModeBuild}, Kind: Kind{Triple: "x86_64-unknown-linux-gnu"}}
	graph, err := b.Build([]RootRequest{root, root})
	if err != nil {
		t.Fatal(err)
	}
	if len(graph.Units()) != 1 {
		t.Fatalf("expected interning to collapse identical root requests to one unit, got %d", len(graph.Units()))
	}
}

func TestRunCustomBuildDependsOnlyOnCompileAndLinksSiblings(t *testing.T) {
	rootID := mkPkg("root", "0.1.0")
	nativeID := mkPkg("native-sys", "1.0.0")

	res := &resolve.Resolve{Packages: map[string]*resolve.ResolvedPackage{
		rootID.String(): {
			ID: rootID,
			Manifest: &manifest.Manifest{
				Name:    "root",
				Links:   "root_native",
				Targets: []manifest.Target{
					{Name: "root", Kind: manifest.TargetLib},
					{Name: "build-script-build", Kind: manifest.TargetCustomBuild},
				},
			},
			Dependencies: []resolve.ResolvedDep{{Pkg: nativeID, NameInToml: "native-sys"}},
		},
		nativeID.String(): {
			ID: nativeID,
			Manifest: &manifest.Manifest{
				Name:  "native-sys",
				Links: "native",
				Targets: []manifest.Target{
					{Name: "native-sys", Kind: manifest.TargetLib},
					{Name: "build-script-build", Kind: manifest.TargetCustomBuild},
				},
			},
		},
	}}
	fr := &resolve.FeatureResolver{}
	enabled, err := fr.Resolve(res, []resolve.Request{{Pkg: rootID, NoDefaultFeatures: true}})
	if err != nil {
		t.Fatal(err)
	}
	b := &Builder{Resolve: res, Features: enabled}
	lib := res.Packages[rootID.String()].Manifest.Targets[0]
	graph, err := b.Build([]RootRequest{{Pkg: rootID, Target: lib, Mode: Mode{Kind: ModeBuild}, Kind: Kind{Triple: "x86_64-unknown-linux-gnu"}}})
	if err != nil {
		t.Fatal(err)
	}

	var runUnit *Unit
	for _, u := range graph.Units() {
		if u.Mode.Kind == ModeRunCustomBuild && u.Pkg.Equal(rootID) {
			runUnit = u
		}
	}
	if runUnit == nil {
		t.Fatal("expected root's RunCustomBuild unit to exist")
	}
	var sawCompile, sawNativeRun bool
	for _, d := range graph.Deps(runUnit) {
		if d.Unit.Pkg.Equal(rootID) && d.Unit.Mode.Kind == ModeBuild {
			sawCompile = true
		}
		if d.Unit.Pkg.Equal(nativeID) && d.Unit.Mode.Kind == ModeRunCustomBuild {
			sawNativeRun = true
		}
	}
	if !sawCompile {
		t.Error("RunCustomBuild unit should depend on its own compile unit")
	}
	if !sawNativeRun {
		t.Error("RunCustomBuild unit should depend on links-bearing dep's RunCustomBuild unit")
	}
}
