package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/distr1/forge/internal/buildscript"
	"github.com/distr1/forge/internal/env"
	"github.com/distr1/forge/internal/fingerprint"
	"github.com/distr1/forge/internal/layout"
	"github.com/distr1/forge/internal/manifest"
	"github.com/distr1/forge/internal/pkgid"
	"github.com/distr1/forge/internal/resolve"
	"github.com/distr1/forge/internal/unitgraph"
)

// driver holds everything execute needs to turn one graph unit into either
// a real-compiler invocation or a build-script run, plus the bookkeeping
// (dep hashes, dirty reasons, artifact paths) the top-level build result
// reports back. One driver is built per cmdBuild call and shared,
// read-mostly, across every concurrently executing unit.
type driver struct {
	graph        *unitgraph.Graph
	resolve      *resolve.Resolve
	layout       *layout.Layout
	coord        *buildscript.Coordinator
	opts         buildOptions
	targetTriple string

	mu         sync.Mutex
	depHashes  map[*unitgraph.Unit]string // unit -> its own Inputs.Hash(), set once it finishes
	dirtyReasons sync.Map                  // *unitgraph.Unit -> fingerprint.DirtyReason
}

// execute is the schedule.Executor for every unit in the graph: compute
// its fingerprint inputs from its already-finished dependencies, skip the
// real work if nothing changed, and otherwise either run its build script
// or invoke the configured compiler.
func (d *driver) execute(ctx context.Context, u *unitgraph.Unit) error {
	key := unitKey(u)
	fpDir := d.layout.FingerprintDir(key)
	if err := os.MkdirAll(fpDir, 0755); err != nil {
		return fmt.Errorf("%s: %w", u.DisplayName(), err)
	}

	in := d.inputsFor(u)
	hash, err := in.Hash()
	if err != nil {
		return fmt.Errorf("%s: %w", u.DisplayName(), err)
	}

	prevIn, prevHash, havePrev := loadInputs(filepath.Join(fpDir, "inputs.json"))
	var reason fingerprint.DirtyReason
	if havePrev {
		reason, err = fingerprint.CheckInputs(prevHash, prevIn, in)
		if err != nil {
			return fmt.Errorf("%s: %w", u.DisplayName(), err)
		}
	} else {
		reason = fingerprint.New
	}

	if reason == fingerprint.Fresh {
		d.recordFresh(u, hash)
		return nil
	}

	if u.Mode.Kind == unitgraph.ModeRunCustomBuild {
		if err := d.runBuildScript(ctx, u, key); err != nil {
			return err
		}
	} else {
		if err := d.compile(ctx, u, key); err != nil {
			return err
		}
	}

	if err := saveInputs(filepath.Join(fpDir, "inputs.json"), in, hash); err != nil {
		return fmt.Errorf("%s: %w", u.DisplayName(), err)
	}
	fp := &fingerprint.Fingerprint{Hash: hash}
	if err := fp.Write(filepath.Join(fpDir, "fingerprint.json")); err != nil {
		return fmt.Errorf("%s: %w", u.DisplayName(), err)
	}

	d.mu.Lock()
	if d.depHashes == nil {
		d.depHashes = map[*unitgraph.Unit]string{}
	}
	d.depHashes[u] = hash
	d.mu.Unlock()
	d.dirtyReasons.Store(u, reason)
	return nil
}

func (d *driver) recordFresh(u *unitgraph.Unit, hash string) {
	d.mu.Lock()
	if d.depHashes == nil {
		d.depHashes = map[*unitgraph.Unit]string{}
	}
	d.depHashes[u] = hash
	d.mu.Unlock()
	d.dirtyReasons.Store(u, fingerprint.Fresh)
}

// inputsFor assembles the ordered fingerprint Inputs for u (spec §4.G),
// pulling each dependency's already-computed hash from d.depHashes: the
// scheduler only dispatches u once every dependency's execute has
// returned, so those hashes are guaranteed to be present.
func (d *driver) inputsFor(u *unitgraph.Unit) fingerprint.Inputs {
	deps := d.graph.Deps(u)
	d.mu.Lock()
	depHashes := make([]string, 0, len(deps))
	for _, dep := range deps {
		if h, ok := d.depHashes[dep.Unit]; ok {
			depHashes = append(depHashes, h)
		}
	}
	d.mu.Unlock()
	sort.Strings(depHashes)

	return fingerprint.Inputs{
		CompilerVersionHash: d.opts.compiler,
		PackageStableHash:   u.Pkg.StableHash(""),
		Mode:                u.Mode.String(),
		Kind:                u.Kind.String(),
		Profile: fingerprint.ProfileDigest{
			Panic:          u.Profile.Panic,
			OptLevel:       u.Profile.OptLevel,
			Debug:          u.Profile.Debug,
			LTO:            u.Profile.LTO,
			CodegenUnits:   u.Profile.CodegenUnits,
			OverflowChecks: u.Profile.OverflowChecks,
			Incremental:    u.Profile.Incremental,
		},
		Features:        u.Features,
		DepHashes:       depHashes,
		WrapperToolHash: lintHash(u.LintLevels),
		ChannelOverride: env.ChannelOverride(),
		IsStd:           u.IsStd,
	}
}

// lintHash canonicalizes a unit's [lints] table into the wrapper-tool hash
// spec §4.G input 7 calls for, so a workspace member's lint levels changing
// (without anything else changing) still shows up as DepInfoChanged rather
// than Fresh. Empty for non-workspace-member units and for members with no
// [lints] table, per the Inputs.WrapperToolHash field's "" meaning "not
// applicable".
func lintHash(levels map[string]string) string {
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
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// compile invokes the configured external compiler for a Build/Check/
// Test/Bench/Doc/Doctest unit, assembling its argument list the way
// buildc.go assembles a gcc/ld invocation from discrete steps: one
// `--extern name=path` per dependency, one `--cfg` per enabled feature and
// per build-script-contributed cfg, and the build-script's link
// directives appended last.
func (d *driver) compile(ctx context.Context, u *unitgraph.Unit, key string) error {
	outDir := d.layout.Deps
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	artifact := filepath.Join(outDir, key+compilerArtifactExt(u.Target))

	args := []string{
		u.Target.Path,
		"--crate-name", u.Target.Name,
		"--out-dir", outDir,
		"-o", artifact,
	}
	if u.Target.Kind == manifest.TargetLib {
		args = append(args, "--crate-type", "lib")
	}
	for _, f := range u.Features {
		args = append(args, "--cfg", `feature="`+f+`"`)
	}
	args = append(args, lintArgs(u.LintLevels)...)

	deps := d.graph.Deps(u)
	flagSet := d.coord.Table.Get(d.coord.FlagSetIndexFor(u, deps))
	for _, cfg := range flagSet.Cfgs {
		args = append(args, "--cfg", cfg)
	}
	for _, dep := range deps {
		if dep.ExternCrateName == "" {
			continue
		}
		depArtifact := filepath.Join(outDir, unitKey(dep.Unit)+compilerArtifactExt(dep.Unit.Target))
		args = append(args, "--extern", dep.ExternCrateName+"="+depArtifact)
	}
	for _, l := range flagSet.LinkLibs {
		if l.Kind != "" {
			args = append(args, "-l", string(l.Kind)+"="+l.Value)
		} else {
			args = append(args, "-l", l.Value)
		}
	}
	for _, l := range flagSet.LinkSearch {
		if l.Kind != "" {
			args = append(args, "-L", string(l.Kind)+"="+l.Value)
		} else {
			args = append(args, "-L", l.Value)
		}
	}
	args = append(args, flagSet.RawFlags...)

	cmd := exec.CommandContext(ctx, d.opts.compiler, args...)
	for k, v := range flagSet.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if len(cmd.Env) > 0 {
		cmd.Env = append(os.Environ(), cmd.Env...)
	}
	buildLog, err := os.Create(filepath.Join(d.layout.Tmp, key+".log"))
	if err == nil {
		defer buildLog.Close()
		cmd.Stdout = io.MultiWriter(os.Stdout, buildLog)
		cmd.Stderr = io.MultiWriter(os.Stderr, buildLog)
	} else {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %s: %w", u.DisplayName(), d.opts.compiler, err)
	}

	if u.Target.Kind == manifest.TargetBin {
		dest := d.layout.UpliftDest(u.Target.Name)
		if err := copyFile(artifact, dest); err != nil {
			return fmt.Errorf("%s: uplift: %w", u.DisplayName(), err)
		}
	}
	return nil
}

// lintArgs renders a workspace member's [lints] table into rustc's per-lint
// level flags (-A allow, -W warn, -D deny, -F forbid), sorted by lint name
// for a deterministic argv. Unknown levels are passed through as -W so a
// typo surfaces as a compiler warning rather than being silently dropped.
func lintArgs(levels map[string]string) []string {
	if len(levels) == 0 {
		return nil
	}
	names := make([]string, 0, len(levels))
	for n := range levels {
		names = append(names, n)
	}
	sort.Strings(names)
	var args []string
	for _, n := range names {
		flag := "-W"
		switch levels[n] {
		case "allow":
			flag = "-A"
		case "warn":
			flag = "-W"
		case "deny":
			flag = "-D"
		case "forbid":
			flag = "-F"
		}
		args = append(args, flag, n)
	}
	return args
}

// linksMetadataFor gathers the DEP_<LINKS>_<KEY> environment a package's
// own build script runs under: for every non-dev dependency that declares
// a [package].links key and has already recorded its own build-script
// Output, expose that Output's published metadata under its links name
// (spec §4.I's DEP_<LINKS>_<KEY> propagation).
func (d *driver) linksMetadataFor(pkg pkgid.PackageID) map[string]map[string]string {
	out := map[string]map[string]string{}
	rp, ok := d.resolve.Package(pkg)
	if !ok {
		return out
	}
	for _, dep := range rp.Dependencies {
		if dep.Kind == manifest.DepDev {
			continue
		}
		depPkg, ok := d.resolve.Package(dep.Pkg)
		if !ok || depPkg.Manifest == nil || depPkg.Manifest.Links == "" {
			continue
		}
		depOut, ok := d.coord.OutputFor(dep.Pkg)
		if !ok {
			continue
		}
		out[depPkg.Manifest.Links] = depOut.LinksMetadata
	}
	return out
}

// runBuildScript executes a RunCustomBuild unit's compiled binary (its
// ForBuildScript "compile" dependency's artifact), parses its cargo:
// directives, and records the Output with d.coord so downstream units'
// FlagSetIndexFor calls can see it.
func (d *driver) runBuildScript(ctx context.Context, u *unitgraph.Unit, key string) error {
	var binPath string
	for _, dep := range d.graph.Deps(u) {
		if dep.Unit.Pkg.Equal(u.Pkg) && dep.Unit.Mode.Kind == unitgraph.ModeBuild {
			binPath = filepath.Join(d.layout.Deps, unitKey(dep.Unit)+compilerArtifactExt(dep.Unit.Target))
		}
	}
	if binPath == "" {
		return fmt.Errorf("%s: no compiled build-script binary among dependencies", u.DisplayName())
	}

	outDir := d.layout.OutDir(key)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	depMetadata := d.linksMetadataFor(u.Pkg)
	env := buildscript.BuildEnv(buildscript.Env{
		OutDir:      outDir,
		Target:      d.targetTriple,
		Host:        hostTriple(),
		Profile:     u.Profile.Name,
		Features:    u.Features,
		DepMetadata: depMetadata,
	})

	logFile, err := os.Create(filepath.Join(d.layout.BuildScriptDir(key), "stderr.log"))
	if err != nil {
		return fmt.Errorf("%s: %w", u.DisplayName(), err)
	}
	defer logFile.Close()

	out, err := buildscript.Run(ctx, binPath, nil, env, outDir, logFile)
	if err != nil {
		return fmt.Errorf("%s: %w", u.DisplayName(), err)
	}
	d.coord.Record(u.Pkg, out)
	if err := buildscript.Save(d.layout.OutputFile(key), out); err != nil {
		return fmt.Errorf("%s: persisting build-script output: %w", u.DisplayName(), err)
	}
	return nil
}

// artifactPaths reports where u's finished output(s) live, for the
// BuildResult summary; empty for units (like RunCustomBuild) with no
// linkable artifact of their own.
func (d *driver) artifactPaths(u *unitgraph.Unit) []string {
	switch u.Mode.Kind {
	case unitgraph.ModeRunCustomBuild:
		return nil
	}
	key := unitKey(u)
	artifact := filepath.Join(d.layout.Deps, key+compilerArtifactExt(u.Target))
	if u.Target.Kind == manifest.TargetBin {
		return []string{d.layout.UpliftDest(u.Target.Name)}
	}
	return []string{artifact}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return renameio.WriteFile(dst, data, 0755)
}

type onDiskInputs struct {
	Hash   string
	Inputs fingerprint.Inputs
}

func saveInputs(path string, in fingerprint.Inputs, hash string) error {
	data, err := json.Marshal(onDiskInputs{Hash: hash, Inputs: in})
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0644)
}

func loadInputs(path string) (fingerprint.Inputs, string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fingerprint.Inputs{}, "", false
	}
	var d onDiskInputs
	if err := json.Unmarshal(data, &d); err != nil {
		return fingerprint.Inputs{}, "", false
	}
	return d.Inputs, d.Hash, true
}
