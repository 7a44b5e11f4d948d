package schedule

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/resolve"
	"github.com/distr1/forge/internal/unitgraph"
)

func mkPkg(name, version string) pkgid.PackageID {
	return pkgid.PackageID{Name: name, Version: pkgid.ParseVersion(version)}
}

// buildGraph constructs a small real unitgraph.Graph: a binary depending on
// its own lib, which depends on an external package, mirroring the
// fixtures in internal/unitgraph's own tests.
func buildGraph(t *testing.T) *unitgraph.Graph {
	t.Helper()
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
	b := &unitgraph.Builder{Resolve: res, Features: enabled}
	binTarget := res.Packages[rootID.String()].Manifest.Targets[1]
	graph, err := b.Build([]unitgraph.RootRequest{
		{Pkg: rootID, Target: binTarget, Mode: unitgraph.Mode{Kind: unitgraph.ModeBuild}, Kind: unitgraph.Kind{Triple: "x86_64-unknown-linux-gnu"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return graph
}

func TestRunBuildsLeavesBeforeDependents(t *testing.T) {
	graph := buildGraph(t)

	var mu sync.Mutex
	var order []string

	exec := func(ctx context.Context, u *unitgraph.Unit) error {
		mu.Lock()
		order = append(order, u.Pkg.Name+"/"+u.Target.Name)
		mu.Unlock()
		return nil
	}

	s := New(graph, exec, 4)
	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Failed != 0 {
		t.Fatalf("expected no failures, got %d", out.Failed)
	}
	if out.Succeeded != len(graph.Units()) {
		t.Fatalf("Succeeded = %d, want %d", out.Succeeded, len(graph.Units()))
	}

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	if pos["bar/bar"] >= pos["root/root"] {
		t.Errorf("expected bar to build before root's lib, got order %v", order)
	}
	if pos["root/root"] >= pos["root/root-bin"] {
		t.Errorf("expected root's lib to build before its bin, got order %v", order)
	}
}

func TestRunCascadesFailureToDependents(t *testing.T) {
	graph := buildGraph(t)

	exec := func(ctx context.Context, u *unitgraph.Unit) error {
		if u.Pkg.Name == "bar" {
			return fmt.Errorf("boom")
		}
		return nil
	}

	s := New(graph, exec, 4)
	out, err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected an aggregate error")
	}
	if out.Failed != len(graph.Units()) {
		t.Fatalf("expected every unit to fail (direct or cascaded), got %d of %d", out.Failed, len(graph.Units()))
	}
	for _, u := range graph.Units() {
		if out.Results[u] == nil {
			t.Errorf("unit %s: expected a recorded failure", u.DisplayName())
		}
	}
}

func TestRunRespectsTokenBound(t *testing.T) {
	graph := buildGraph(t)

	var mu sync.Mutex
	var inFlight, maxInFlight int
	exec := func(ctx context.Context, u *unitgraph.Unit) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	s := New(graph, exec, 1)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if maxInFlight > 1 {
		t.Errorf("token pool of size 1 allowed %d concurrent units", maxInFlight)
	}
}

func TestParseJobserverAuth(t *testing.T) {
	r, w, ok := ParseJobserverAuth("-j8 --jobserver-auth=5,6")
	if !ok || r != 5 || w != 6 {
		t.Fatalf("got r=%d w=%d ok=%v", r, w, ok)
	}
	if _, _, ok := ParseJobserverAuth("-j8 --jobserver-auth=fifo:/tmp/x"); ok {
		t.Fatal("expected named-pipe jobserver auth to be rejected (not fd-representable)")
	}
	if _, _, ok := ParseJobserverAuth("-j8"); ok {
		t.Fatal("expected no jobserver token when flag absent")
	}
}
