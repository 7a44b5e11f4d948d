package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/distr1/forge"
	"github.com/distr1/forge/internal/buildscript"
	"github.com/distr1/forge/internal/env"
	"github.com/distr1/forge/internal/fingerprint"
	"github.com/distr1/forge/internal/layout"
	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/resolve"
	"github.com/distr1/forge/internal/schedule"
	"github.com/distr1/forge/internal/unitgraph"
)

const manifestFileName = "Forge.toml"
const lockfileFileName = "Forge.lock"

// buildOptions carries every flag cmdBuild/cmdCheck need, gathered by
// main() and passed down rather than read from package-level flag vars
// directly, so the pipeline stays testable in isolation.
type buildOptions struct {
	manifestDir     string
	buildDir        string
	artifactDir     string
	profile         string
	jobs            int
	features        []string
	noDefaultFeats  bool
	hostDepSplit    bool
	minimalVersions bool
	target          string
	bin             string
	compiler        string
	mode            unitgraph.ModeKind
	verbose         bool
}

// cmdBuild runs the full §4 pipeline: parse, resolve, compute features,
// build the unit graph, check freshness, and schedule the dirty units.
func cmdBuild(ctx context.Context, opts buildOptions) (*forge.BuildResult, error) {
	rootDir, err := filepath.Abs(opts.manifestDir)
	if err != nil {
		return nil, xerrors.Errorf("build: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(rootDir, manifestFileName))
	if err != nil {
		return nil, xerrors.Errorf("build: reading %s: %w", manifestFileName, err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, xerrors.Errorf("build: parsing %s: %w", manifestFileName, err)
	}

	var lf *manifest.Lockfile
	lockPath := filepath.Join(rootDir, lockfileFileName)
	if lockData, err := os.ReadFile(lockPath); err == nil {
		lf, err = manifest.ParseLockfile(lockData)
		if err != nil {
			return nil, xerrors.Errorf("build: parsing %s: %w", lockfileFileName, err)
		}
	} else {
		lf, _ = manifest.ParseLockfile(nil)
	}

	rootID := pkgid.PackageID{
		Name:    m.Name,
		Version: m.Version,
		Source:  pkgid.SourceID{Kind: pkgid.SourcePath, URL: "file://" + rootDir},
	}
	root := resolve.RootPackage{ID: rootID, Manifest: m, IsWorkspaceMember: true}

	resolver := &resolve.Resolver{
		Sources:         newPathSourceResolver(manifestFileName),
		Lockfile:        lf,
		Platform:        hostPlatform(),
		MinimalVersions: opts.minimalVersions,
	}
	res, err := resolver.Resolve([]resolve.RootPackage{root})
	if err != nil {
		return nil, xerrors.Errorf("build: resolve: %w", err)
	}

	if changed, err := lockfileFromResolve(res, lf).WriteFile(lockPath); err != nil {
		return nil, xerrors.Errorf("build: writing %s: %w", lockfileFileName, err)
	} else if changed && opts.verbose {
		fmt.Fprintf(os.Stderr, "    Updating %s\n", lockfileFileName)
	}

	featureResolver := &resolve.FeatureResolver{HostDepSplit: opts.hostDepSplit}
	enabled, err := featureResolver.Resolve(res, []resolve.Request{{
		Pkg:               rootID,
		Requested:         opts.features,
		NoDefaultFeatures: opts.noDefaultFeats,
	}})
	if err != nil {
		return nil, xerrors.Errorf("build: feature resolution: %w", err)
	}

	targets, err := rootTargets(m, opts.bin)
	if err != nil {
		return nil, xerrors.Errorf("build: %w", err)
	}

	profile := profileFor(m, opts.profile)
	targetTriple := opts.target
	if targetTriple == "" {
		targetTriple = hostTriple()
	}

	builder := &unitgraph.Builder{
		Resolve:      res,
		Features:     enabled,
		HostDepSplit: opts.hostDepSplit,
		HostTriple:   hostTriple(),
		TargetTriple: targetTriple,
		Profile:      profile,
	}
	var roots []unitgraph.RootRequest
	for _, t := range targets {
		roots = append(roots, unitgraph.RootRequest{
			Pkg: rootID, Target: t,
			Mode: unitgraph.Mode{Kind: opts.mode},
			Kind: unitgraph.Kind{Host: false, Triple: targetTriple},
		})
	}
	graph, err := builder.Build(roots)
	if err != nil {
		return nil, xerrors.Errorf("build: unit graph: %w", err)
	}

	lay := layout.New(opts.buildDir, profile.Name, opts.artifactDir)
	for _, dir := range []string{lay.Root, lay.Deps, lay.Build, lay.Fingerprint, lay.Tmp} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, xerrors.Errorf("build: %w", err)
		}
	}

	coord := buildscript.NewCoordinator()
	d := &driver{
		graph:        graph,
		resolve:      res,
		layout:       lay,
		coord:        coord,
		opts:         opts,
		targetTriple: targetTriple,
	}

	status := newStatusLine(len(graph.Units()))
	sched := schedule.New(graph, d.execute, opts.jobs)
	sched.OnStatus = status.onStatus
	if raw, ok := env.JobserverFD(); ok {
		if r, w, ok := schedule.ParseJobserverAuth(raw); ok {
			sched.Tokens = schedule.NewJobserverPool(r, w)
		}
	}

	outcome, runErr := sched.Run(ctx)

	result := &forge.BuildResult{}
	for _, u := range graph.Units() {
		ur := forge.UnitResult{Unit: u, Err: outcome.Results[u]}
		if dr, ok := d.dirtyReasons.Load(u); ok {
			ur.DirtyReason = dr.(fingerprint.DirtyReason)
		}
		if ur.Err == nil {
			if ur.DirtyReason == fingerprint.Fresh {
				result.Fresh++
			} else {
				result.Succeeded++
			}
			ur.ArtifactPaths = d.artifactPaths(u)
		} else {
			result.Failed++
		}
		result.Units = append(result.Units, ur)
	}
	if runErr != nil {
		return result, xerrors.Errorf("build: %w", runErr)
	}
	return result, nil
}

func rootTargets(m *manifest.Manifest, name string) ([]manifest.Target, error) {
	var candidates []manifest.Target
	for _, t := range m.Targets {
		if t.Kind != manifest.TargetLib && t.Kind != manifest.TargetBin {
			continue
		}
		if name != "" && t.Name != name {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		if name != "" {
			return nil, fmt.Errorf("no lib or bin target named %q", name)
		}
		return nil, fmt.Errorf("package %q declares no lib or bin target", m.Name)
	}
	return candidates, nil
}

func profileFor(m *manifest.Manifest, name string) manifest.Profile {
	if p, ok := m.Profiles[name]; ok {
		p.Name = name
		return p
	}
	switch name {
	case "release":
		return manifest.Profile{Name: "release", OptLevel: "3", Debug: false, CodegenUnits: 16, Panic: "unwind"}
	default:
		return manifest.Profile{Name: "dev", OptLevel: "0", Debug: true, CodegenUnits: 256, Panic: "unwind", OverflowChecks: true}
	}
}

func lockfileFromResolve(res *resolve.Resolve, prev *manifest.Lockfile) *manifest.Lockfile {
	lf := &manifest.Lockfile{Version: prev.Version}
	keys := make([]string, 0, len(res.Packages))
	for k := range res.Packages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pkg := res.Packages[k]
		src := ""
		if pkg.ID.Source.Kind != pkgid.SourcePath {
			src = pkg.ID.Source.String()
		}
		deps := make([]string, 0, len(pkg.Dependencies))
		for _, d := range pkg.Dependencies {
			dep := d.Pkg.Name + " " + d.Pkg.Version.String()
			if d.Pkg.Source.Kind != pkgid.SourcePath {
				dep += " " + d.Pkg.Source.String()
			}
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		lf.Packages = append(lf.Packages, manifest.LockPackage{
			Name: pkg.ID.Name, Version: pkg.ID.Version.String(), Source: src, Dependencies: deps,
		})
	}
	return lf
}

// unitKey renders a short, stable directory-safe identifier for a unit,
// used to key its fingerprint/build-script/output directories the way
// spec §4.F's <pkg>-<hash> subdirectory names do.
func unitKey(u *unitgraph.Unit) string {
	h := sha256.Sum256([]byte(u.Target.Name + "|" + u.Mode.String() + "|" + u.Kind.String() + "|" + u.Pkg.String() + "|" + strings.Join(u.Features, ",")))
	return sanitize(u.Pkg.Name) + "-" + hex.EncodeToString(h[:])[:16]
}

func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == ' ' {
			return '-'
		}
		return r
	}, name)
}

func compilerArtifactExt(t manifest.Target) string {
	if t.Kind == manifest.TargetLib {
		return ".rlib"
	}
	return ""
}
