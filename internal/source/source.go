// Package source implements the polymorphic "source" abstraction of spec
// §4.B: a capability set {query, download, is_yanked, invalidate_cache,
// source_id} dispatched structurally across registry/sparse-registry/git/
// path/replaced variants (spec §9 "dynamic typing of source providers"),
// generalized from distri's internal/repo package index reader and from
// docker-distribution's storage.Driver polymorphism pattern. The resolver
// never talks to transport directly; it only consumes the Summary values a
// Source's Query returns.
package source

import (
	"sync"

	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
)

// DependencyReq is what the resolver asks a Source to satisfy: a package
// name plus the version requirement narrowing which candidates are even
// worth considering.
type DependencyReq struct {
	Name string
	Req  pkgid.VersionReq
}

// SummaryDep is one dependency edge as reported by a package summary,
// mirroring manifest.Dependency but detached from any one manifest file
// (a Summary may come from a registry index entry instead of a checkout).
type SummaryDep struct {
	NameInToml string
	Package    string
	Req        pkgid.VersionReq
	Kind       manifest.DependencyKind
	Optional   bool
	TargetCfg  string
}

// Summary is the minimum a source reports about a candidate package without
// downloading it: enough for the resolver to pick a version and compute the
// feature/dependency closure.
type Summary struct {
	ID           pkgid.PackageID
	Dependencies []SummaryDep
	Features     map[string][]string
	Yanked       bool
}

// Package is a downloaded package: its identity plus its parsed manifest and
// the directory it was unpacked into (or, for path sources, the directory it
// already lives in).
type Package struct {
	ID       pkgid.PackageID
	Manifest *manifest.Manifest
	RootDir  string
}

// QueryState is the poll state of an in-flight Query (spec §9 "async /
// generators": a poll-based Pending/Ready state machine, not goroutine
// blocking, so a single-threaded resolver event loop can multiplex many
// outstanding registry queries).
type QueryState int

const (
	Pending QueryState = iota
	Ready
)

// Query is a lazy sequence of Summary values. Callers either Poll() it from
// an event loop or call BlockUntilReady() to synchronously wait.
type Query struct {
	mu        sync.Mutex
	state     QueryState
	summaries []Summary
	err       error
	done      chan struct{}
}

// NewQuery starts a Query whose result is produced by running fn in a
// background goroutine; Poll/BlockUntilReady observe its completion.
func NewQuery(fn func() ([]Summary, error)) *Query {
	q := &Query{state: Pending, done: make(chan struct{})}
	go func() {
		summaries, err := fn()
		q.mu.Lock()
		q.summaries, q.err, q.state = summaries, err, Ready
		q.mu.Unlock()
		close(q.done)
	}()
	return q
}

// ReadyQuery wraps an already-computed result, for sources (like a local
// path source) that never need to suspend.
func ReadyQuery(summaries []Summary, err error) *Query {
	q := &Query{state: Ready, summaries: summaries, err: err, done: make(chan struct{})}
	close(q.done)
	return q
}

// Poll reports the current state without blocking.
func (q *Query) Poll() QueryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// BlockUntilReady waits for the query to settle and returns its result.
func (q *Query) BlockUntilReady() ([]Summary, error) {
	<-q.done
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.summaries, q.err
}

// Source is the capability set every source variant implements. The
// resolver is written entirely against this interface and never inspects
// which concrete variant it is holding (spec §4.B).
type Source interface {
	// Query returns a lazy sequence of candidate summaries for dep.
	Query(dep DependencyReq) *Query
	// Download fetches (or, for path sources, simply opens) the package
	// identified by id.
	Download(id pkgid.PackageID) (*Package, error)
	// IsYanked reports whether id has been yanked from the source.
	IsYanked(id pkgid.PackageID) (bool, error)
	// InvalidateCache discards any cached index/summary state.
	InvalidateCache()
	// SourceID returns the source's own identity.
	SourceID() pkgid.SourceID
}
