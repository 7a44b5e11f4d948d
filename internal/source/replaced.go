package source

import "github.com/distr1/forge/internal/pkgid"

// replacedSource wraps an inner Source and rewrites every PackageID it
// reports to carry replaceWith's SourceID instead of the inner source's
// own, implementing [patch]/[replace] table redirection (spec §4.C):
// downstream consumers see a single consistent identity for a package that
// was redirected to a different source, the way distri's internal/batch.go
// resolves a package's "real" source through its sourceBySplit redirection
// map before looking up build instructions.
type replacedSource struct {
	inner       Source
	replaceWith pkgid.SourceID
}

// NewReplaced wraps inner so every summary/package it reports is reattributed
// to replaceWith instead of inner.SourceID().
func NewReplaced(inner Source, replaceWith pkgid.SourceID) Source {
	return &replacedSource{inner: inner, replaceWith: replaceWith}
}

func (s *replacedSource) rewrite(id pkgid.PackageID) pkgid.PackageID {
	id.Source = s.replaceWith
	return id
}

func (s *replacedSource) Query(dep DependencyReq) *Query {
	return NewQuery(func() ([]Summary, error) {
		summaries, err := s.inner.Query(dep).BlockUntilReady()
		if err != nil {
			return nil, err
		}
		out := make([]Summary, len(summaries))
		for i, sum := range summaries {
			sum.ID = s.rewrite(sum.ID)
			out[i] = sum
		}
		return out, nil
	})
}

func (s *replacedSource) Download(id pkgid.PackageID) (*Package, error) {
	inner := id
	inner.Source = s.inner.SourceID()
	pkg, err := s.inner.Download(inner)
	if err != nil {
		return nil, err
	}
	pkg.ID = s.rewrite(pkg.ID)
	return pkg, nil
}

func (s *replacedSource) IsYanked(id pkgid.PackageID) (bool, error) {
	inner := id
	inner.Source = s.inner.SourceID()
	return s.inner.IsYanked(inner)
}

func (s *replacedSource) InvalidateCache() { s.inner.InvalidateCache() }

func (s *replacedSource) SourceID() pkgid.SourceID { return s.replaceWith }
