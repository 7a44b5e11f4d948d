package buildscript

import (
	"bytes"
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/unitgraph"
)

func TestParseDirectivesRecognizesAllKinds(t *testing.T) {
	in := strings.Join([]string{
		"cargo:rustc-link-lib=static=foo",
		"cargo:rustc-link-search=native=/usr/lib/foo",
		"cargo:rustc-cfg=have_foo",
		"cargo:rustc-env=FOO_VERSION=1.2.3",
		"cargo::rustc-flags=-lfoo -L/usr/lib/foo",
		"cargo:rerun-if-changed=build.rs",
		"cargo:rerun-if-env-changed=FOO_PATH",
		"cargo:warning=deprecated option",
		"cargo:links-metadata=include=/usr/include/foo",
		"this is not a directive line",
	}, "\n") + "\n"

	out := newOutput()
	var log bytes.Buffer
	if err := parseDirectives(strings.NewReader(in), out, &log); err != nil {
		t.Fatal(err)
	}

	if len(out.LinkLibs) != 1 || out.LinkLibs[0] != (Link{Kind: "static", Value: "foo"}) {
		t.Errorf("LinkLibs = %+v", out.LinkLibs)
	}
	if len(out.LinkSearch) != 1 || out.LinkSearch[0] != (Link{Kind: "native", Value: "/usr/lib/foo"}) {
		t.Errorf("LinkSearch = %+v", out.LinkSearch)
	}
	if len(out.Cfgs) != 1 || out.Cfgs[0] != "have_foo" {
		t.Errorf("Cfgs = %+v", out.Cfgs)
	}
	if out.Env["FOO_VERSION"] != "1.2.3" {
		t.Errorf("Env = %+v", out.Env)
	}
	if len(out.RawFlags) != 2 {
		t.Errorf("RawFlags = %+v", out.RawFlags)
	}
	if len(out.RerunIfChanged) != 1 || out.RerunIfChanged[0] != "build.rs" {
		t.Errorf("RerunIfChanged = %+v", out.RerunIfChanged)
	}
	if len(out.RerunIfEnv) != 1 || out.RerunIfEnv[0] != "FOO_PATH" {
		t.Errorf("RerunIfEnv = %+v", out.RerunIfEnv)
	}
	if len(out.Warnings) != 1 {
		t.Errorf("Warnings = %+v", out.Warnings)
	}
	if out.LinksMetadata["include"] != "/usr/include/foo" {
		t.Errorf("LinksMetadata = %+v", out.LinksMetadata)
	}
	if !strings.Contains(log.String(), "this is not a directive line") {
		t.Error("expected every line, directive or not, to reach the log")
	}
}

func TestParseDirectivesRejectsBadRustcFlags(t *testing.T) {
	out := newOutput()
	err := parseDirectives(strings.NewReader("cargo:rustc-flags=--edition=2021\n"), out, nil)
	if err == nil {
		t.Fatal("expected rustc-flags restricted to -l/-L to reject other flags")
	}
}

func TestBuildEnvSetsExpectedVars(t *testing.T) {
	env := BuildEnv(Env{
		OutDir: "/build/out", Target: "x86_64-unknown-linux-gnu", Host: "x86_64-unknown-linux-gnu",
		Profile:  "release",
		Features: []string{"serde-derive"},
		TargetCfgs: map[string]string{
			"target_os": "linux",
		},
		DepMetadata: map[string]map[string]string{
			"foo": {"include": "/usr/include/foo"},
		},
	})
	want := map[string]string{
		"OUT_DIR":                "/build/out",
		"TARGET":                 "x86_64-unknown-linux-gnu",
		"HOST":                   "x86_64-unknown-linux-gnu",
		"PROFILE":                "release",
		"CARGO_FEATURE_SERDE_DERIVE": "1",
		"CARGO_CFG_TARGET_OS":    "linux",
		"DEP_FOO_INCLUDE":        "/usr/include/foo",
	}
	got := map[string]string{}
	for _, kv := range env {
		k, v, ok := splitOnce(kv, "=")
		if ok {
			got[k] = v
		}
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("env[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestRunParsesRealSubprocessOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on /bin/sh")
	}
	var log bytes.Buffer
	out, err := Run(context.Background(), "/bin/sh",
		[]string{"-c", "printf 'cargo:rustc-cfg=have_foo\\ncargo:rustc-link-lib=foo\\n'"},
		nil, t.TempDir(), &log)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Cfgs) != 1 || out.Cfgs[0] != "have_foo" {
		t.Errorf("Cfgs = %+v", out.Cfgs)
	}
	if len(out.LinkLibs) != 1 || out.LinkLibs[0].Value != "foo" {
		t.Errorf("LinkLibs = %+v", out.LinkLibs)
	}
}

func TestRunSurfacesProcessFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on /bin/sh")
	}
	_, err := Run(context.Background(), "/bin/sh", []string{"-c", "exit 1"}, nil, t.TempDir(), nil)
	if err == nil {
		t.Fatal("expected an error from a failing build script")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output")
	out := newOutput()
	out.Cfgs = []string{"have_foo"}
	out.Env["FOO"] = "1"
	out.LinkLibs = []Link{{Kind: "static", Value: "foo"}}
	if err := Save(path, out); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Cfgs[0] != "have_foo" || got.Env["FOO"] != "1" || got.LinkLibs[0].Value != "foo" {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing output, got %+v", got)
	}
}

func mkPkg(name, version string) pkgid.PackageID {
	return pkgid.PackageID{Name: name, Version: pkgid.ParseVersion(version)}
}

func TestFlagSetIndexForInjectsOwnPackageCfgAndEnv(t *testing.T) {
	root := mkPkg("root", "0.1.0")
	buildUnit := &unitgraph.Unit{Pkg: root, Mode: unitgraph.Mode{Kind: unitgraph.ModeRunCustomBuild}}
	libUnit := &unitgraph.Unit{Pkg: root, Mode: unitgraph.Mode{Kind: unitgraph.ModeBuild}}

	c := NewCoordinator()
	out := newOutput()
	out.Cfgs = []string{"have_foo"}
	out.Env["FOO"] = "bar"
	c.Record(root, out)

	idx := c.FlagSetIndexFor(libUnit, []unitgraph.UnitDep{{Unit: buildUnit}})
	fs := c.Table.Get(idx)
	if len(fs.Cfgs) != 1 || fs.Cfgs[0] != "have_foo" {
		t.Errorf("Cfgs = %+v", fs.Cfgs)
	}
	if fs.Env["FOO"] != "bar" {
		t.Errorf("Env = %+v", fs.Env)
	}
}

func TestFlagSetIndexForPropagatesLinkFlagsFromDeps(t *testing.T) {
	root := mkPkg("root", "0.1.0")
	native := mkPkg("native-sys", "1.0.0")
	nativeLib := &unitgraph.Unit{Pkg: native, Mode: unitgraph.Mode{Kind: unitgraph.ModeBuild}}
	rootBin := &unitgraph.Unit{Pkg: root, Mode: unitgraph.Mode{Kind: unitgraph.ModeBuild}}

	c := NewCoordinator()
	nativeOut := newOutput()
	nativeOut.LinkLibs = []Link{{Kind: "static", Value: "native"}}
	c.Record(native, nativeOut)

	idx := c.FlagSetIndexFor(rootBin, []unitgraph.UnitDep{{Unit: nativeLib}})
	fs := c.Table.Get(idx)
	if len(fs.LinkLibs) != 1 || fs.LinkLibs[0].Value != "native" {
		t.Errorf("expected native's link-lib directive to propagate to root's bin, got %+v", fs.LinkLibs)
	}
}

func TestFlagSetTableInterningDedupesIdenticalSets(t *testing.T) {
	table := NewFlagSetTable()
	a := table.Intern(FlagSet{Cfgs: []string{"x"}})
	b := table.Intern(FlagSet{Cfgs: []string{"x"}})
	if a != b {
		t.Errorf("expected identical flag sets to intern to the same index, got %d and %d", a, b)
	}
	c := table.Intern(FlagSet{Cfgs: []string{"y"}})
	if c == a {
		t.Error("expected a different flag set to intern to a different index")
	}
}
