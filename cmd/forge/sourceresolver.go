package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/source"
)

// pathSourceResolver implements resolve.SourceResolver for workspaces that
// only use path dependencies, the dependency shape an on-disk build driver
// can satisfy without a registry client or git transport wired up.
// Grounded on cmd/zi/zi.go's local-tree assumption (packages always live
// at a known directory, never fetched) generalized to cargo's manifest
// path= keys.
type pathSourceResolver struct {
	manifestName string

	mu    sync.Mutex
	cache map[string]source.Source
}

func newPathSourceResolver(manifestName string) *pathSourceResolver {
	return &pathSourceResolver{manifestName: manifestName, cache: map[string]source.Source{}}
}

func (r *pathSourceResolver) Resolve(dep manifest.Dependency, parent pkgid.SourceID) (source.Source, error) {
	if dep.Source == nil {
		return nil, fmt.Errorf("dependency %q declares no source (path/git/registry): registry lookups are not configured for this build", dep.NameInToml)
	}
	switch dep.Source.Kind {
	case pkgid.SourcePath:
		dir := strings.TrimPrefix(dep.Source.URL, "file://")
		if !filepath.IsAbs(dir) {
			base := "."
			if parent.Kind == pkgid.SourcePath {
				base = strings.TrimPrefix(parent.URL, "file://")
			}
			dir = filepath.Join(base, dir)
		}
		return r.pathSource(dir)
	case pkgid.SourceGit:
		return nil, fmt.Errorf("dependency %q requires a git source (%s): git transport is not wired into this CLI", dep.NameInToml, dep.Source.URL)
	default:
		return nil, fmt.Errorf("dependency %q requires a %s source: registry transport is not wired into this CLI", dep.NameInToml, dep.Source.Kind)
	}
}

func (r *pathSourceResolver) pathSource(dir string) (source.Source, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache[abs]; ok {
		return s, nil
	}
	s, err := source.NewPath(abs, r.manifestName)
	if err != nil {
		return nil, err
	}
	r.cache[abs] = s
	return s, nil
}
