package fingerprint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHashIsOrderIndependentForFeaturesAndDeps(t *testing.T) {
	a := Inputs{PackageStableHash: "x", Features: []string{"b", "a"}, DepHashes: []string{"d2", "d1"}}
	b := Inputs{PackageStableHash: "x", Features: []string{"a", "b"}, DepHashes: []string{"d1", "d2"}}
	ha, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	hb, err := b.Hash()
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Fatalf("expected order-independent hash, got %q != %q", ha, hb)
	}
}

func TestHashChangesWithProfile(t *testing.T) {
	a := Inputs{PackageStableHash: "x", Profile: ProfileDigest{OptLevel: "0"}}
	b := Inputs{PackageStableHash: "x", Profile: ProfileDigest{OptLevel: "3"}}
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if ha == hb {
		t.Fatal("expected different opt-level to change the hash")
	}
}

func TestCheckMissingIsNew(t *testing.T) {
	if got := Check(nil, &Fingerprint{Hash: "abc"}); got != New {
		t.Errorf("Check(nil, ...) = %v, want New", got)
	}
}

func TestCheckHashMismatchIsDirty(t *testing.T) {
	prev := &Fingerprint{Hash: "abc"}
	next := &Fingerprint{Hash: "def"}
	if got := Check(prev, next); got == Fresh {
		t.Error("differing hash should not report Fresh")
	}
}

func TestCheckStalePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	if err := os.WriteFile(path, []byte("fn main() {}"), 0644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	prev := &Fingerprint{Hash: "abc"}
	next := &Fingerprint{Hash: "abc", TrackedPaths: []TrackedPath{{Path: path, RecordedMtime: old}}}
	if got := Check(prev, next); got != FsStale {
		t.Errorf("Check() = %v, want FsStale (file mtime is after recorded)", got)
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fingerprint.json")
	fp := &Fingerprint{Hash: "abc", TrackedEnv: []TrackedEnv{{Var: "RUSTFLAGS", Value: "-C foo"}}}
	if err := fp.Write(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != "abc" || len(got.TrackedEnv) != 1 || got.TrackedEnv[0].Var != "RUSTFLAGS" {
		t.Fatalf("got %+v", got)
	}
}

func TestLoadMissingReturnsNil(t *testing.T) {
	got, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing fingerprint, got %+v", got)
	}
}

func TestCheckInputsCategorizesFeatureChange(t *testing.T) {
	prevIn := Inputs{PackageStableHash: "x", Features: []string{"a"}}
	nextIn := Inputs{PackageStableHash: "x", Features: []string{"a", "b"}}
	prevHash, err := prevIn.Hash()
	if err != nil {
		t.Fatal(err)
	}
	reason, err := CheckInputs(prevHash, prevIn, nextIn)
	if err != nil {
		t.Fatal(err)
	}
	if reason != FeaturesChanged {
		t.Errorf("got %v, want FeaturesChanged", reason)
	}
}
