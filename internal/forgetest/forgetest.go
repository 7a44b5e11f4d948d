// Package forgetest holds small test-scaffolding helpers shared across the
// module's package tests: writing a temporary manifest-backed workspace to
// disk and cleaning it up. Adapted from the teacher's internal/distritest,
// generalized from "start a distri export server and read back its
// listening address" (this module has no server component) to "lay out a
// manifest-backed package directory a source.Path/resolve.Resolver test can
// point at".
package forgetest

import (
	"os"
	"path/filepath"
	"testing"
)

// TempWorkspace returns a fresh temporary directory, removed automatically
// when the test completes.
func TempWorkspace(t testing.TB) string {
	t.Helper()
	return t.TempDir()
}

// WriteManifest writes contents to <dir>/<name> (creating parent
// directories as needed) and returns the absolute path, for tests that
// drive internal/source.NewPath or internal/manifest.Parse against a real
// file on disk rather than an in-memory fixture.
func WriteManifest(t testing.TB, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("forgetest: mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("forgetest: write %s: %v", path, err)
	}
	return path
}

// RemoveAll wraps os.RemoveAll and fails the test on failure, for cleaning
// up workspaces built outside of t.TempDir() (e.g. ones a subprocess also
// writes into).
func RemoveAll(t testing.TB, path string) {
	t.Helper()
	if err := os.RemoveAll(path); err != nil {
		t.Fatalf("forgetest: cleanup %s: %v", path, err)
	}
}
