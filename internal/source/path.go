package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
)

// pathSource answers queries from a single on-disk package checkout: no
// index, no transport, exactly one version. Grounded on distri's
// build.Ctx.PkgDir / SourceDir handling (a package always lives at one
// known local directory once it's a workspace member or path dependency).
type pathSource struct {
	id       pkgid.SourceID
	dir      string
	manifest *manifest.Manifest
}

// NewPath constructs a Source over a local package directory containing a
// manifest file named manifestName.
func NewPath(dir, manifestName string) (Source, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("path source %s: %w", dir, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, err
	}
	id := pkgid.SourceID{Kind: pkgid.SourcePath, URL: "file://" + dir}
	return &pathSource{id: id, dir: dir, manifest: m}, nil
}

func (s *pathSource) Query(dep DependencyReq) *Query {
	if s.manifest.Name != dep.Name {
		return ReadyQuery(nil, nil)
	}
	sum := Summary{
		ID:       pkgid.PackageID{Name: s.manifest.Name, Version: s.manifest.Version, Source: s.id},
		Features: s.manifest.Features,
	}
	for _, d := range s.manifest.Dependencies {
		sum.Dependencies = append(sum.Dependencies, SummaryDep{
			NameInToml: d.NameInToml,
			Package:    d.Package,
			Req:        d.Req,
			Kind:       d.Kind,
			Optional:   d.Optional,
			TargetCfg:  d.TargetCfg,
		})
	}
	return ReadyQuery([]Summary{sum}, nil)
}

func (s *pathSource) Download(id pkgid.PackageID) (*Package, error) {
	return &Package{ID: id, Manifest: s.manifest, RootDir: s.dir}, nil
}

func (s *pathSource) IsYanked(pkgid.PackageID) (bool, error) { return false, nil }
func (s *pathSource) InvalidateCache()                       {}
func (s *pathSource) SourceID() pkgid.SourceID               { return s.id }
