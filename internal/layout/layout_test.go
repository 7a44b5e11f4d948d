package layout

import (
	"path/filepath"
	"testing"
)

func TestNewLayoutPaths(t *testing.T) {
	l := New("/ws/target", "release", "")
	want := map[string]string{
		"deps":        filepath.Join("/ws/target", "release", "deps"),
		"build":       filepath.Join("/ws/target", "release", "build"),
		"fingerprint": filepath.Join("/ws/target", "release", ".fingerprint"),
	}
	if l.Deps != want["deps"] || l.Build != want["build"] || l.Fingerprint != want["fingerprint"] {
		t.Fatalf("got %+v", l)
	}
	if l.UpliftDest("forge") != filepath.Join(l.Root, "forge") {
		t.Errorf("UpliftDest without artifact dir should land in Root")
	}
}

func TestUpliftDestPrefersArtifactDir(t *testing.T) {
	l := New("/ws/target", "release", "/ws/out")
	if got := l.UpliftDest("forge"); got != filepath.Join("/ws/out", "forge") {
		t.Errorf("UpliftDest() = %q, want under artifact dir", got)
	}
}

func TestExpandTemplate(t *testing.T) {
	vars := TemplateVars{WorkspaceRoot: "/ws", CargoCacheHome: "/cache", WorkspacePathHash: "abc123"}
	got, err := ExpandTemplate("{workspace-root}/target-{workspace-path-hash}", vars)
	if err != nil {
		t.Fatal(err)
	}
	if got != "/ws/target-abc123" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandTemplateUnknownVariableSuggestsNearest(t *testing.T) {
	_, err := ExpandTemplate("{workspace-roots}", TemplateVars{})
	if err == nil {
		t.Fatal("expected error for unknown variable")
	}
	te, ok := err.(*TemplateError)
	if !ok {
		t.Fatalf("expected *TemplateError, got %T", err)
	}
	if te.Nearest != "workspace-root" {
		t.Errorf("Nearest = %q, want workspace-root", te.Nearest)
	}
}

func TestExpandTemplateUnmatchedBrace(t *testing.T) {
	if _, err := ExpandTemplate("{workspace-root", TemplateVars{}); err == nil {
		t.Fatal("expected error for unmatched brace")
	}
}
