package source

import (
	"fmt"
	"sort"
	"sync"

	"github.com/distr1/forge/internal/pkgid"
)

// Index is the query-answering backend a registrySource delegates to. The
// registry wire protocol (HTTP, the sparse index format, download,
// authentication) is explicitly out of scope (spec §1); Index is the
// interface boundary a real transport implementation would sit behind,
// generalized from distri's internal/repo index reader.
type Index interface {
	// Versions returns every known summary for the named package, in any
	// order; the resolver/source layer is responsible for sorting.
	Versions(name string) ([]Summary, error)
	// Fetch downloads (or opens from a local mirror) the package content
	// for id, returning the directory it was unpacked into.
	Fetch(id pkgid.PackageID) (dir string, err error)
}

type registrySource struct {
	id     pkgid.SourceID
	index  Index
	sparse bool

	mu          sync.Mutex
	invalidated bool
	cache       map[string][]Summary
}

// NewRegistry constructs a Source backed by idx, answering queries for the
// non-sparse registry protocol variant.
func NewRegistry(id pkgid.SourceID, idx Index) Source {
	return &registrySource{id: id, index: idx, cache: map[string][]Summary{}}
}

// NewSparseRegistry is identical to NewRegistry except SourceID().Kind is
// SourceSparseRegistry, matching the spec §3 "sparse+" scheme preservation.
func NewSparseRegistry(id pkgid.SourceID, idx Index) Source {
	id.Kind = pkgid.SourceSparseRegistry
	return &registrySource{id: id, index: idx, sparse: true, cache: map[string][]Summary{}}
}

func (s *registrySource) Query(dep DependencyReq) *Query {
	return NewQuery(func() ([]Summary, error) {
		s.mu.Lock()
		if !s.invalidated {
			if cached, ok := s.cache[dep.Name]; ok {
				s.mu.Unlock()
				return filterSummaries(cached, dep), nil
			}
		}
		s.mu.Unlock()

		all, err := s.index.Versions(dep.Name)
		if err != nil {
			return nil, fmt.Errorf("registry query %q: %w", dep.Name, err)
		}
		sort.Slice(all, func(i, j int) bool { return pkgid.Less(all[i].ID, all[j].ID) })

		s.mu.Lock()
		s.cache[dep.Name] = all
		s.invalidated = false
		s.mu.Unlock()

		return filterSummaries(all, dep), nil
	})
}

// filterSummaries narrows all to the candidates matching dep's name and
// version requirement. Yanked versions are still included here (tagged via
// Summary.Yanked): whether a yanked candidate may actually be selected is a
// resolver-level decision (spec §4.C step 2 — yanked versions are excluded
// unless pinned exactly by the lockfile), not a source-level one.
func filterSummaries(all []Summary, dep DependencyReq) []Summary {
	out := make([]Summary, 0, len(all))
	for _, sum := range all {
		if sum.ID.Name != dep.Name {
			continue
		}
		if !dep.Req.Matches(sum.ID.Version) {
			continue
		}
		out = append(out, sum)
	}
	return out
}

func (s *registrySource) Download(id pkgid.PackageID) (*Package, error) {
	dir, err := s.index.Fetch(id)
	if err != nil {
		return nil, fmt.Errorf("registry download %v: %w", id, err)
	}
	return &Package{ID: id, RootDir: dir}, nil
}

func (s *registrySource) IsYanked(id pkgid.PackageID) (bool, error) {
	all, err := s.index.Versions(id.Name)
	if err != nil {
		return false, err
	}
	for _, sum := range all {
		if sum.ID.Equal(id) {
			return sum.Yanked, nil
		}
	}
	return false, nil
}

func (s *registrySource) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated = true
}

func (s *registrySource) SourceID() pkgid.SourceID { return s.id }
