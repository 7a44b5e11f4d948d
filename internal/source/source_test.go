package source

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/distr1/forge/internal/pkgid"
)

type fakeIndex struct {
	versions map[string][]Summary
}

func (f *fakeIndex) Versions(name string) ([]Summary, error) {
	return f.versions[name], nil
}

func (f *fakeIndex) Fetch(id pkgid.PackageID) (string, error) {
	return "/fake/" + id.Name + "-" + id.Version.String(), nil
}

func mustVersion(t *testing.T, s string) pkgid.Version {
	t.Helper()
	return pkgid.ParseVersion(s)
}

func mustReq(t *testing.T, s string) pkgid.VersionReq {
	t.Helper()
	return pkgid.ParseVersionReq(s)
}

func TestRegistryQueryFiltersByNameAndReq(t *testing.T) {
	regID := pkgid.SourceID{Kind: pkgid.SourceRegistry, URL: "https://example.com"}
	idx := &fakeIndex{versions: map[string][]Summary{
		"bar": {
			{ID: pkgid.PackageID{Name: "bar", Version: mustVersion(t, "1.0.0"), Source: regID}},
			{ID: pkgid.PackageID{Name: "bar", Version: mustVersion(t, "1.2.0"), Source: regID}},
			{ID: pkgid.PackageID{Name: "bar", Version: mustVersion(t, "2.0.0"), Source: regID}},
		},
	}}
	src := NewRegistry(regID, idx)

	q := src.Query(DependencyReq{Name: "bar", Req: mustReq(t, "^1.0")})
	if q.Poll() != Pending && q.Poll() != Ready {
		t.Fatal("unexpected poll state")
	}
	summaries, err := q.BlockUntilReady()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2 (1.0.0 and 1.2.0): %+v", len(summaries), summaries)
	}
	for _, s := range summaries {
		if s.ID.Version.String() == "2.0.0" {
			t.Fatalf("2.0.0 should not satisfy ^1.0: %+v", summaries)
		}
	}
}

func TestRegistryInvalidateCacheRefetches(t *testing.T) {
	regID := pkgid.SourceID{Kind: pkgid.SourceRegistry, URL: "https://example.com"}
	calls := 0
	idx := &countingIndex{fakeIndex: fakeIndex{versions: map[string][]Summary{
		"bar": {{ID: pkgid.PackageID{Name: "bar", Version: mustVersion(t, "1.0.0"), Source: regID}}},
	}}, calls: &calls}
	src := NewRegistry(regID, idx)

	dep := DependencyReq{Name: "bar", Req: mustReq(t, "*")}
	if _, err := src.Query(dep).BlockUntilReady(); err != nil {
		t.Fatal(err)
	}
	if _, err := src.Query(dep).BlockUntilReady(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected cached second query, got %d backend calls", calls)
	}

	src.InvalidateCache()
	if _, err := src.Query(dep).BlockUntilReady(); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("expected refetch after invalidate, got %d backend calls", calls)
	}
}

type countingIndex struct {
	fakeIndex
	calls *int
}

func (c *countingIndex) Versions(name string) ([]Summary, error) {
	*c.calls++
	return c.fakeIndex.Versions(name)
}

func TestPathSourceQuery(t *testing.T) {
	dir := t.TempDir()
	manifestBody := "[package]\nname = \"leaf\"\nversion = \"0.1.0\"\n"
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(manifestBody), 0644); err != nil {
		t.Fatal(err)
	}
	src, err := NewPath(dir, "Cargo.toml")
	if err != nil {
		t.Fatal(err)
	}
	summaries, err := src.Query(DependencyReq{Name: "leaf", Req: mustReq(t, "*")}).BlockUntilReady()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].ID.Name != "leaf" {
		t.Fatalf("got %+v", summaries)
	}

	none, err := src.Query(DependencyReq{Name: "other", Req: mustReq(t, "*")}).BlockUntilReady()
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no match for unrelated name, got %+v", none)
	}
}

type fakeGitRepo struct {
	resolveErr error
	commit     string
	summary    Summary
}

func (r *fakeGitRepo) Resolve(reference string) (string, error) {
	if r.resolveErr != nil {
		return "", r.resolveErr
	}
	return r.commit, nil
}

func (r *fakeGitRepo) Checkout(commit string) (string, error) {
	return "/fake/git/" + commit, nil
}

func (r *fakeGitRepo) Manifest(commit string) (Summary, error) {
	if commit != r.commit {
		return Summary{}, fmt.Errorf("unknown commit %s", commit)
	}
	return r.summary, nil
}

func TestGitSourceResolvesAndCaches(t *testing.T) {
	gitID := pkgid.SourceID{Kind: pkgid.SourceGit, URL: "https://example.com/foo.git", Reference: "main"}
	repo := &fakeGitRepo{
		commit: "deadbeef",
		summary: Summary{ID: pkgid.PackageID{
			Name:    "foo",
			Version: mustVersion(t, "0.3.0"),
		}},
	}
	src := NewGit(gitID, repo)

	summaries, err := src.Query(DependencyReq{Name: "foo", Req: mustReq(t, "*")}).BlockUntilReady()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %+v", summaries)
	}
	if summaries[0].ID.Source.Precise != "deadbeef" {
		t.Fatalf("expected precise commit attached, got %+v", summaries[0].ID.Source)
	}

	pkg, err := src.Download(summaries[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.RootDir != "/fake/git/deadbeef" {
		t.Fatalf("got RootDir %q", pkg.RootDir)
	}
}

func TestReplacedSourceRewritesSourceID(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \"leaf\"\nversion = \"0.1.0\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	inner, err := NewPath(dir, "Cargo.toml")
	if err != nil {
		t.Fatal(err)
	}
	replaceWith := pkgid.SourceID{Kind: pkgid.SourceRegistry, URL: "https://mirror.example.com"}
	src := NewReplaced(inner, replaceWith)

	summaries, err := src.Query(DependencyReq{Name: "leaf", Req: mustReq(t, "*")}).BlockUntilReady()
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %+v", summaries)
	}
	if !summaries[0].ID.Source.Equal(replaceWith) {
		t.Fatalf("expected rewritten source id %+v, got %+v", replaceWith, summaries[0].ID.Source)
	}
	if !src.SourceID().Equal(replaceWith) {
		t.Fatalf("SourceID() = %+v, want %+v", src.SourceID(), replaceWith)
	}
}
