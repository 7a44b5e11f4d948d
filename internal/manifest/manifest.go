// Package manifest turns manifest TOML bytes into a typed Manifest record
// (spec §6). TOML schema validation and lint emission are treated as the
// teacher's own TOML reading (pb/readbuild.go, pb/readmeta.go) treats its
// text-proto manifests: a pure decode-and-validate boundary, not wired into
// the rest of the core beyond the record it produces.
package manifest

import (
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/distr1/forge/internal/pkgid"
)

// DependencyKind is the table a dependency was declared in.
type DependencyKind int

const (
	DepNormal DependencyKind = iota
	DepDev
	DepBuild
)

func (k DependencyKind) String() string {
	switch k {
	case DepDev:
		return "dev"
	case DepBuild:
		return "build"
	default:
		return "normal"
	}
}

// Dependency is one entry of a [dependencies]/[dev-dependencies]/
// [build-dependencies]/[target.<cfg>.dependencies] table.
type Dependency struct {
	NameInToml      string
	Package         string // the actual crate name, if renamed via `package = "..."`
	Req             pkgid.VersionReq
	Source          *pkgid.SourceID
	Kind            DependencyKind
	Optional        bool
	DefaultFeatures bool
	Features        []string
	TargetCfg       string // raw cfg(...) or triple string from [target.<cfg>.*], "" if unconditional
}

// TargetKind is the kind of a buildable target declared in a manifest.
type TargetKind int

const (
	TargetLib TargetKind = iota
	TargetBin
	TargetExample
	TargetTest
	TargetBench
	TargetCustomBuild
)

func (k TargetKind) String() string {
	switch k {
	case TargetLib:
		return "lib"
	case TargetBin:
		return "bin"
	case TargetExample:
		return "example"
	case TargetTest:
		return "test"
	case TargetBench:
		return "bench"
	case TargetCustomBuild:
		return "custom-build"
	default:
		return "unknown"
	}
}

// Target is one buildable artifact declared by the manifest.
type Target struct {
	Name             string
	Kind             TargetKind
	Path             string
	RequiredFeatures []string
	ProcMacro        bool
	Harness          bool // false for custom test harnesses
}

// Profile carries the compiler/codegen knobs spec §4.G hashes into the
// fingerprint: panic strategy, optimization level, LTO, etc.
type Profile struct {
	Name           string
	OptLevel       string
	Debug          bool
	LTO            string // "off", "thin", "fat"
	CodegenUnits   int
	OverflowChecks bool
	Incremental    bool
	Panic          string // "unwind", "abort"
}

// WorkspaceConfig describes a [workspace] table.
type WorkspaceConfig struct {
	Members        []string
	DefaultMembers []string
}

// Manifest is the typed record produced by Parse.
type Manifest struct {
	Name         string
	Version      pkgid.Version
	Edition      string
	Links        string // [package].links, the native-lib key build scripts publish metadata under
	Features     map[string][]string
	Dependencies []Dependency
	Targets      []Target
	Profiles     map[string]Profile
	Lints        map[string]string
	Workspace    *WorkspaceConfig
	Patch        map[string][]Dependency // source URL -> patched dependencies
	Replace      []Dependency
}

type rawManifest struct {
	Package struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
		Edition string `toml:"edition"`
		Links   string `toml:"links"`
	} `toml:"package"`
	Lib               *rawTarget                     `toml:"lib"`
	Bin               []rawTarget                    `toml:"bin"`
	Example           []rawTarget                    `toml:"example"`
	Test              []rawTarget                    `toml:"test"`
	Bench             []rawTarget                    `toml:"bench"`
	Features          map[string][]string             `toml:"features"`
	Dependencies      map[string]interface{}          `toml:"dependencies"`
	DevDependencies   map[string]interface{}          `toml:"dev-dependencies"`
	BuildDependencies map[string]interface{}          `toml:"build-dependencies"`
	Target            map[string]rawTargetPlatform    `toml:"target"`
	Profile           map[string]rawProfile           `toml:"profile"`
	Workspace         *rawWorkspace                   `toml:"workspace"`
	Patch             map[string]map[string]interface{} `toml:"patch"`
	Replace           map[string]interface{}          `toml:"replace"`
	Lints             map[string]string               `toml:"lints"`
}

type rawTarget struct {
	Name             string   `toml:"name"`
	Path             string   `toml:"path"`
	ProcMacro        bool     `toml:"proc-macro"`
	RequiredFeatures []string `toml:"required-features"`
	Harness          *bool    `toml:"harness"`
}

type rawTargetPlatform struct {
	Dependencies      map[string]interface{} `toml:"dependencies"`
	DevDependencies   map[string]interface{} `toml:"dev-dependencies"`
	BuildDependencies map[string]interface{} `toml:"build-dependencies"`
}

type rawProfile struct {
	OptLevel       interface{} `toml:"opt-level"`
	Debug          bool        `toml:"debug"`
	LTO            interface{} `toml:"lto"`
	CodegenUnits   int         `toml:"codegen-units"`
	OverflowChecks bool        `toml:"overflow-checks"`
	Incremental    bool        `toml:"incremental"`
	Panic          string      `toml:"panic"`
}

type rawWorkspace struct {
	Members []string `toml:"members"`
	Default []string `toml:"default-members"`
}

// Parse decodes manifest TOML bytes into a Manifest. It does not validate
// TOML schema exhaustively or emit lints (out of scope per spec §1);
// malformed documents surface as a ManifestParse-category error (§7).
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, &ParseError{Err: err}
	}
	if raw.Package.Name == "" {
		return nil, &ParseError{Err: fmt.Errorf("manifest: [package].name is required")}
	}

	m := &Manifest{
		Name:     raw.Package.Name,
		Version:  pkgid.ParseVersion(raw.Package.Version),
		Edition:  raw.Package.Edition,
		Links:    raw.Package.Links,
		Features: raw.Features,
		Profiles: map[string]Profile{},
		Lints:    raw.Lints,
	}

	appendDeps := func(kind DependencyKind, cfg string, table map[string]interface{}) error {
		names := make([]string, 0, len(table))
		for name := range table {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dep, err := parseDependency(name, kind, cfg, table[name])
			if err != nil {
				return err
			}
			m.Dependencies = append(m.Dependencies, dep)
		}
		return nil
	}
	if err := appendDeps(DepNormal, "", raw.Dependencies); err != nil {
		return nil, err
	}
	if err := appendDeps(DepDev, "", raw.DevDependencies); err != nil {
		return nil, err
	}
	if err := appendDeps(DepBuild, "", raw.BuildDependencies); err != nil {
		return nil, err
	}
	cfgs := make([]string, 0, len(raw.Target))
	for cfg := range raw.Target {
		cfgs = append(cfgs, cfg)
	}
	sort.Strings(cfgs)
	for _, cfg := range cfgs {
		t := raw.Target[cfg]
		if err := appendDeps(DepNormal, cfg, t.Dependencies); err != nil {
			return nil, err
		}
		if err := appendDeps(DepDev, cfg, t.DevDependencies); err != nil {
			return nil, err
		}
		if err := appendDeps(DepBuild, cfg, t.BuildDependencies); err != nil {
			return nil, err
		}
	}

	if raw.Lib != nil {
		m.Targets = append(m.Targets, targetFromRaw(*raw.Lib, TargetLib, m.Name))
	}
	for _, b := range raw.Bin {
		m.Targets = append(m.Targets, targetFromRaw(b, TargetBin, ""))
	}
	for _, e := range raw.Example {
		m.Targets = append(m.Targets, targetFromRaw(e, TargetExample, ""))
	}
	for _, tt := range raw.Test {
		m.Targets = append(m.Targets, targetFromRaw(tt, TargetTest, ""))
	}
	for _, b := range raw.Bench {
		m.Targets = append(m.Targets, targetFromRaw(b, TargetBench, ""))
	}

	profileNames := make([]string, 0, len(raw.Profile))
	for name := range raw.Profile {
		profileNames = append(profileNames, name)
	}
	sort.Strings(profileNames)
	for _, name := range profileNames {
		m.Profiles[name] = profileFromRaw(name, raw.Profile[name])
	}

	if raw.Workspace != nil {
		m.Workspace = &WorkspaceConfig{Members: raw.Workspace.Members, DefaultMembers: raw.Workspace.Default}
	}

	if len(raw.Patch) > 0 {
		m.Patch = map[string][]Dependency{}
		sources := make([]string, 0, len(raw.Patch))
		for src := range raw.Patch {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			table := raw.Patch[src]
			names := make([]string, 0, len(table))
			for name := range table {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				dep, err := parseDependency(name, DepNormal, "", table[name])
				if err != nil {
					return nil, err
				}
				m.Patch[src] = append(m.Patch[src], dep)
			}
		}
	}
	if len(raw.Replace) > 0 {
		names := make([]string, 0, len(raw.Replace))
		for name := range raw.Replace {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			dep, err := parseDependency(name, DepNormal, "", raw.Replace[name])
			if err != nil {
				return nil, err
			}
			m.Replace = append(m.Replace, dep)
		}
	}

	return m, nil
}

func targetFromRaw(r rawTarget, kind TargetKind, fallbackName string) Target {
	name := r.Name
	if name == "" {
		name = fallbackName
	}
	harness := true
	if r.Harness != nil {
		harness = *r.Harness
	}
	return Target{
		Name:             name,
		Kind:             kind,
		Path:             r.Path,
		ProcMacro:        r.ProcMacro,
		RequiredFeatures: r.RequiredFeatures,
		Harness:          harness,
	}
}

func profileFromRaw(name string, r rawProfile) Profile {
	p := Profile{
		Name:           name,
		Debug:          r.Debug,
		CodegenUnits:   r.CodegenUnits,
		OverflowChecks: r.OverflowChecks,
		Incremental:    r.Incremental,
		Panic:          r.Panic,
	}
	if s, ok := r.OptLevel.(string); ok {
		p.OptLevel = s
	} else if f, ok := r.OptLevel.(int64); ok {
		p.OptLevel = fmt.Sprintf("%d", f)
	}
	if s, ok := r.LTO.(string); ok {
		p.LTO = s
	} else if b, ok := r.LTO.(bool); ok && b {
		p.LTO = "fat"
	}
	return p
}

// parseDependency converts the raw TOML value of one dependency entry
// (either a bare version string, or an inline table) into a Dependency.
func parseDependency(name string, kind DependencyKind, cfg string, v interface{}) (Dependency, error) {
	dep := Dependency{
		NameInToml:      name,
		Package:         name,
		Kind:            kind,
		TargetCfg:       cfg,
		DefaultFeatures: true,
	}
	switch val := v.(type) {
	case string:
		dep.Req = pkgid.ParseVersionReq(val)
		return dep, nil
	case map[string]interface{}:
		if s, ok := val["version"].(string); ok {
			dep.Req = pkgid.ParseVersionReq(s)
		} else {
			dep.Req = pkgid.ParseVersionReq("*")
		}
		if pkg, ok := val["package"].(string); ok {
			dep.Package = pkg
		}
		if opt, ok := val["optional"].(bool); ok {
			dep.Optional = opt
		}
		if df, ok := val["default-features"].(bool); ok {
			dep.DefaultFeatures = df
		}
		if feats, ok := val["features"].([]interface{}); ok {
			for _, f := range feats {
				if s, ok := f.(string); ok {
					dep.Features = append(dep.Features, s)
				}
			}
		}
		if p, ok := val["path"].(string); ok {
			dep.Source = &pkgid.SourceID{Kind: pkgid.SourcePath, URL: "file://" + p}
		} else if g, ok := val["git"].(string); ok {
			src := &pkgid.SourceID{Kind: pkgid.SourceGit, URL: g}
			if branch, ok := val["branch"].(string); ok {
				src.Reference = branch
			} else if tag, ok := val["tag"].(string); ok {
				src.Reference = tag
			} else if rev, ok := val["rev"].(string); ok {
				src.Reference = rev
			}
			dep.Source = src
		} else if reg, ok := val["registry"].(string); ok {
			dep.Source = &pkgid.SourceID{Kind: pkgid.SourceRegistry, URL: reg}
		}
		return dep, nil
	default:
		return Dependency{}, &ParseError{Err: fmt.Errorf("manifest: dependency %q has an unsupported shape", name)}
	}
}

// ParseError categorizes a manifest decode failure (spec §7 ManifestParse).
type ParseError struct{ Err error }

func (e *ParseError) Error() string { return "manifest parse: " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }
