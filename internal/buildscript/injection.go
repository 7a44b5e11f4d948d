package buildscript

import (
	"sort"
	"strings"
	"sync"

	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/unitgraph"
)

// FlagSet is the collected set of directives a build script's RunCustomBuild
// unit contributes to downstream compilation (spec §4.I's final
// paragraph): rustc-cfg/rustc-env for units compiling the same package,
// rustc-link-lib/rustc-link-search/rustc-flags for units that link against
// it.
type FlagSet struct {
	Cfgs       []string
	Env        map[string]string
	LinkLibs   []Link
	LinkSearch []Link
	RawFlags   []string
}

// key renders a FlagSet canonically so identical flag sets intern to the
// same index and differing ones never collide (spec §4.G/§4.E: "two
// identical builds with different build-script output therefore intern to
// different units").
func (f FlagSet) key() string {
	var b strings.Builder
	cfgs := append([]string(nil), f.Cfgs...)
	sort.Strings(cfgs)
	b.WriteString(strings.Join(cfgs, ","))
	b.WriteByte('|')
	envKeys := make([]string, 0, len(f.Env))
	for k := range f.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f.Env[k])
		b.WriteByte(';')
	}
	b.WriteByte('|')
	for _, l := range append([]Link(nil), f.LinkLibs...) {
		b.WriteString(string(l.Kind))
		b.WriteByte(':')
		b.WriteString(l.Value)
		b.WriteByte(';')
	}
	b.WriteByte('|')
	for _, l := range append([]Link(nil), f.LinkSearch...) {
		b.WriteString(string(l.Kind))
		b.WriteByte(':')
		b.WriteString(l.Value)
		b.WriteByte(';')
	}
	b.WriteByte('|')
	raw := append([]string(nil), f.RawFlags...)
	sort.Strings(raw)
	b.WriteString(strings.Join(raw, ","))
	return b.String()
}

// FlagSetTable interns FlagSets to stable indices, the values Unit's
// CompilerFlagSetIndex field carries.
type FlagSetTable struct {
	mu    sync.Mutex
	index map[string]int
	sets  []FlagSet
}

// NewFlagSetTable returns an empty table whose index 0 is the always-present
// empty FlagSet, so a Unit with no build-script-contributed flags can use
// CompilerFlagSetIndex 0 without a lookup.
func NewFlagSetTable() *FlagSetTable {
	t := &FlagSetTable{index: map[string]int{}}
	t.Intern(FlagSet{})
	return t
}

// Intern returns the stable index for fs, assigning a new one the first
// time an equal-by-key FlagSet is seen.
func (t *FlagSetTable) Intern(fs FlagSet) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := fs.key()
	if idx, ok := t.index[k]; ok {
		return idx
	}
	idx := len(t.sets)
	t.sets = append(t.sets, fs)
	t.index[k] = idx
	return idx
}

// Get returns the FlagSet previously interned at idx.
func (t *FlagSetTable) Get(idx int) FlagSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sets[idx]
}

// Coordinator accumulates each package's own build-script Output as its
// RunCustomBuild unit finishes, and computes the CompilerFlagSetIndex for
// every unit that depends on one, per spec §4.I's injection rule: a unit
// compiling code from the same package picks up rustc-cfg/rustc-env; a
// unit linking against another package picks up that package's
// rustc-link-lib/rustc-link-search/rustc-flags.
type Coordinator struct {
	Table *FlagSetTable

	mu      sync.Mutex
	outputs map[string]*Output // pkgid.PackageID.String() -> its own build script's Output
}

// NewCoordinator returns an empty Coordinator backed by a fresh FlagSetTable.
func NewCoordinator() *Coordinator {
	return &Coordinator{Table: NewFlagSetTable(), outputs: map[string]*Output{}}
}

// Record stores the Output a package's own RunCustomBuild unit produced,
// making it available for injection into every unit that subsequently
// asks for a flag-set index.
func (c *Coordinator) Record(pkg pkgid.PackageID, out *Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[pkg.String()] = out
}

func (c *Coordinator) outputFor(pkg pkgid.PackageID) (*Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.outputs[pkg.String()]
	return out, ok
}

// OutputFor exposes a recorded package's build-script Output to callers
// outside the package, e.g. a driver assembling another package's own
// build-script environment from its DEP_<LINKS>_<KEY> dependencies.
func (c *Coordinator) OutputFor(pkg pkgid.PackageID) (*Output, bool) {
	return c.outputFor(pkg)
}

// FlagSetIndexFor computes and interns the FlagSet unit u should compile
// with, given its direct dependencies deps (typically graph.Deps(u)).
func (c *Coordinator) FlagSetIndexFor(u *unitgraph.Unit, deps []unitgraph.UnitDep) int {
	fs := FlagSet{Env: map[string]string{}}
	for _, dep := range deps {
		if dep.Unit.Mode.Kind == unitgraph.ModeRunCustomBuild && dep.Unit.Pkg.Equal(u.Pkg) {
			if own, ok := c.outputFor(dep.Unit.Pkg); ok {
				fs.Cfgs = append(fs.Cfgs, own.Cfgs...)
				for k, v := range own.Env {
					fs.Env[k] = v
				}
				fs.RawFlags = append(fs.RawFlags, own.RawFlags...)
				fs.LinkLibs = append(fs.LinkLibs, own.LinkLibs...)
				fs.LinkSearch = append(fs.LinkSearch, own.LinkSearch...)
			}
			continue
		}
		if dep.Unit.Mode.Kind == unitgraph.ModeRunCustomBuild {
			continue // another package's own build-script unit, not a link target
		}
		if dep.Unit.Pkg.Equal(u.Pkg) {
			continue // same-package non-build-script dep, e.g. test-vs-lib
		}
		// A normal compile dependency on another package: its build
		// script's link directives still need to reach whatever finally
		// links this package's artifact.
		if depOut, ok := c.outputFor(dep.Unit.Pkg); ok {
			fs.LinkLibs = append(fs.LinkLibs, depOut.LinkLibs...)
			fs.LinkSearch = append(fs.LinkSearch, depOut.LinkSearch...)
			fs.RawFlags = append(fs.RawFlags, depOut.RawFlags...)
		}
	}
	return c.Table.Intern(fs)
}
