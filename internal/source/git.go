package source

import (
	"fmt"
	"sync"

	"github.com/distr1/forge/internal/pkgid"
)

// GitRepo is the transport-boundary interface a gitSource delegates to: the
// actual clone/fetch/checkout mechanics (shallow vs full clone, submodules,
// credential helpers) are explicitly out of scope (spec §1), same as Index
// for registries.
type GitRepo interface {
	// Resolve pins reference (a branch, tag, or rev) to a full commit hash,
	// matching SourceID.Precise.
	Resolve(reference string) (commit string, err error)
	// Checkout ensures commit is present locally and returns its directory.
	Checkout(commit string) (dir string, err error)
	// Manifest reads and parses the package manifest at commit.
	Manifest(commit string) (Summary, error)
}

// gitSource is a single git dependency pinned to one reference: unlike a
// registry there is no multi-version index, only "whatever reference
// resolves to right now" versus "the precise commit already in the
// lockfile". Grounded in idiom on registrySource's cache-plus-invalidate
// shape, generalized from distri's checkupstream git-ref handling.
type gitSource struct {
	id   pkgid.SourceID
	repo GitRepo

	mu         sync.Mutex
	resolved   string
	invalidate bool
}

// NewGit constructs a Source for a git dependency. id.Reference is the
// branch/tag/rev named in the manifest (or "" for the default branch);
// id.Precise, if already set, pins an exact commit (e.g. from the
// lockfile) and short-circuits resolution.
func NewGit(id pkgid.SourceID, repo GitRepo) Source {
	return &gitSource{id: id, repo: repo, resolved: id.Precise}
}

func (s *gitSource) commit() (string, error) {
	s.mu.Lock()
	if s.resolved != "" && !s.invalidate {
		c := s.resolved
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	commit, err := s.repo.Resolve(s.id.Reference)
	if err != nil {
		return "", fmt.Errorf("git resolve %s#%s: %w", s.id.URL, s.id.Reference, err)
	}
	s.mu.Lock()
	s.resolved = commit
	s.invalidate = false
	s.mu.Unlock()
	return commit, nil
}

func (s *gitSource) Query(dep DependencyReq) *Query {
	return NewQuery(func() ([]Summary, error) {
		commit, err := s.commit()
		if err != nil {
			return nil, err
		}
		sum, err := s.repo.Manifest(commit)
		if err != nil {
			return nil, err
		}
		sum.ID.Source = s.preciseSourceID(commit)
		if sum.ID.Name != dep.Name {
			return nil, nil
		}
		return []Summary{sum}, nil
	})
}

func (s *gitSource) preciseSourceID(commit string) pkgid.SourceID {
	id := s.id
	id.Precise = commit
	return id
}

func (s *gitSource) Download(id pkgid.PackageID) (*Package, error) {
	commit := id.Source.Precise
	if commit == "" {
		var err error
		commit, err = s.commit()
		if err != nil {
			return nil, err
		}
	}
	dir, err := s.repo.Checkout(commit)
	if err != nil {
		return nil, fmt.Errorf("git checkout %s@%s: %w", s.id.URL, commit, err)
	}
	return &Package{ID: id, RootDir: dir}, nil
}

// IsYanked is always false: git sources have no yank mechanism (spec §4.C
// step 2 scopes yanking to registry sources).
func (s *gitSource) IsYanked(pkgid.PackageID) (bool, error) { return false, nil }

func (s *gitSource) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate = true
}

func (s *gitSource) SourceID() pkgid.SourceID { return s.id }
