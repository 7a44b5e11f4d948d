// Package unitgraph builds the compilation-unit dependency graph of spec
// §4.E from a Resolve: the interned Unit tuples, their dependency edges
// (UnitDep), and the mode-mapping / is_std / proc-macro / build-script
// special cases that decide what each unit depends on. Grounded on
// distri's pb.Build dependency DAG construction in internal/build/build.go
// (the teacher's closest analogue to a compile-unit graph) and on the
// not-quite-cargo example's target/unit modeling, using gonum the way
// internal/batch/batch.go does for its scheduler's dependency graph.
package unitgraph

import (
	"sort"
	"strconv"
	"strings"

	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
)

// Kind is a Unit's compile kind: Host, or Target(triple) (spec §3).
type Kind struct {
	Host   bool
	Triple string // meaningful only when Host is false
}

func (k Kind) String() string {
	if k.Host {
		return "host"
	}
	return k.Triple
}

// ModeKind enumerates the Mode variants of spec §3.
type ModeKind int

const (
	ModeBuild ModeKind = iota
	ModeCheck
	ModeTest
	ModeBench
	ModeDoc
	ModeDoctest
	ModeRunCustomBuild
)

func (m ModeKind) String() string {
	switch m {
	case ModeBuild:
		return "build"
	case ModeCheck:
		return "check"
	case ModeTest:
		return "test"
	case ModeBench:
		return "bench"
	case ModeDoc:
		return "doc"
	case ModeDoctest:
		return "doctest"
	case ModeRunCustomBuild:
		return "run-custom-build"
	default:
		return "unknown"
	}
}

// Mode carries a ModeKind plus the payload fields Check{test} and Doc{deps}
// need.
type Mode struct {
	Kind    ModeKind
	Test    bool // Check{test: bool}
	DocDeps bool // Doc{deps: bool}
}

// Unit is the interned compilation-unit tuple of spec §3. Two Units are
// the "same" unit iff every field compares equal; the interner in builder.go
// guarantees equal tuples share one *Unit, so callers may compare by
// pointer once a unit has gone through interning.
type Unit struct {
	Pkg                  pkgid.PackageID
	Target               manifest.Target
	Profile              manifest.Profile
	Kind                 Kind
	Mode                 Mode
	Features             []string // sorted, deduplicated
	IsStd                bool
	CompilerFlagSetIndex int
	// LintLevels is the workspace member's own [lints] table (lint name ->
	// level), set only on root units built directly from a RootRequest;
	// dependency units never carry it, matching spec §4.G point 7's
	// "workspace members only" scoping for the wrapper-tool hash.
	LintLevels map[string]string
}

// key renders a Unit to a string usable as an interning-table key; two
// Units with equal fields (Features already sorted/deduped) produce equal
// keys.
func (u Unit) key() string {
	var b strings.Builder
	b.WriteString(u.Pkg.String())
	b.WriteByte('|')
	b.WriteString(u.Target.Name)
	b.WriteByte('|')
	b.WriteString(u.Target.Kind.String())
	b.WriteByte('|')
	b.WriteString(u.Profile.Name)
	b.WriteByte('|')
	b.WriteString(u.Kind.String())
	b.WriteByte('|')
	b.WriteString(u.Mode.String())
	b.WriteByte('|')
	b.WriteString(strings.Join(u.Features, ","))
	b.WriteByte('|')
	if u.IsStd {
		b.WriteByte('1')
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(u.CompilerFlagSetIndex))
	b.WriteByte('|')
	b.WriteString(lintKey(u.LintLevels))
	return b.String()
}

// lintKey renders a lint-levels map canonically (sorted by name) so two
// Units differing only in map iteration order still intern identically.
func lintKey(levels map[string]string) string {
	if len(levels) == 0 {
		return ""
	}
	names := make([]string, 0, len(levels))
	for n := range levels {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(levels[n])
		b.WriteByte(';')
	}
	return b.String()
}

// DisplayName renders a Unit for human-facing status/log output: the
// package name, its target, and the mode, e.g. "serde (lib) build".
func (u Unit) DisplayName() string {
	return u.Pkg.Name + " (" + u.Target.Name + ") " + u.Mode.String()
}

func (m Mode) String() string {
	switch m.Kind {
	case ModeCheck:
		if m.Test {
			return "check{test}"
		}
		return "check"
	case ModeDoc:
		if m.DocDeps {
			return "doc{deps}"
		}
		return "doc"
	default:
		return m.Kind.String()
	}
}

// UnitFor propagates compile context across a UnitDep edge (spec §3).
type UnitFor int

const (
	ForNormal UnitFor = iota
	ForHost
	ForHostFeatures
	ForBuildScript
	ForTest
)

// UnitDep is one edge of the UnitGraph.
type UnitDep struct {
	Unit            *Unit
	For             UnitFor
	ExternCrateName string
	Public          bool
	NoPrelude       bool
}

// sortedFeatures returns a sorted, deduplicated copy of features, matching
// the Features field's invariant.
func sortedFeatures(features []string) []string {
	if len(features) == 0 {
		return nil
	}
	set := map[string]bool{}
	for _, f := range features {
		set[f] = true
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
