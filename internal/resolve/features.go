package resolve

import (
	"sort"
	"strings"

	"github.com/distr1/forge/internal/pkgid"
)

// FeaturesFor discriminates whether a package's feature set was computed
// for a normal/dev compile or for a host-side build/proc-macro dependency
// (spec §4.D rule 2, the `-Zfeatures=host_dep` split). When host/target
// decoupling is inactive every package gets exactly one FeaturesFor entry,
// NormalOrDev.
type FeaturesFor int

const (
	NormalOrDev FeaturesFor = iota
	HostDep
)

// featureKey pairs a package with the compile context its feature set was
// computed for, the unit of work the fixpoint below operates over.
type featureKey struct {
	pkg string
	for_ FeaturesFor
}

// FeatureResolver computes the enabled-feature closure for every package in
// a Resolve (spec §4.D), a second pass run after Resolve.Resolve. Grounded
// in idiom on distri's build.go flag/env propagation (an explicit
// monotone-closure walk over a dependency graph), since the teacher has no
// direct feature-unification analogue; cross-checked against the feature
// unification fixtures under original_source/tests/testsuite.
type FeatureResolver struct {
	HostDepSplit bool // -Zfeatures=host_dep
}

// Request is one root's feature selection, as given on the command line or
// by a workspace default.
type Request struct {
	Pkg                pkgid.PackageID
	Requested          []string
	NoDefaultFeatures  bool
}

// Enabled is the output: per (package, context) the set of enabled local
// feature names and the set of optional dependencies activated.
type Enabled struct {
	Features         map[featureKey][]string
	ActivatedOptDeps map[featureKey]map[string]bool
}

// FeaturesFor returns the sorted, enabled local feature names for pkg under
// compile context ctx (the exported accessor other packages, such as
// unitgraph's builder, use instead of reaching into the unexported
// featureKey type).
func (e *Enabled) FeaturesFor(pkg pkgid.PackageID, ctx FeaturesFor) []string {
	return e.Features[featureKey{pkg: key(pkg), for_: ctx}]
}

// OptDepActive reports whether pkg's optional dependency depName (as
// written in the manifest) was activated under compile context ctx.
func (e *Enabled) OptDepActive(pkg pkgid.PackageID, ctx FeaturesFor, depName string) bool {
	return e.ActivatedOptDeps[featureKey{pkg: key(pkg), for_: ctx}][depName]
}

// featuresFor returns ctx unless host/target decoupling is off, in which
// case every package shares the single NormalOrDev bucket (spec §4.D rule
// 2's default, unified mode).
func (fr *FeatureResolver) featuresFor(ctx FeaturesFor) FeaturesFor {
	if !fr.HostDepSplit {
		return NormalOrDev
	}
	return ctx
}

// Resolve computes the feature closure over res starting from requests,
// implementing the monotone fixpoint of spec §4.D rule 3: repeatedly follow
// feature-value edges (`name`, `dep/name`, `dep:name`, `dep?/name`) until no
// new feature or optional dep is activated.
func (fr *FeatureResolver) Resolve(res *Resolve, requests []Request) (*Enabled, error) {
	enabled := &Enabled{
		Features:         map[featureKey][]string{},
		ActivatedOptDeps: map[featureKey]map[string]bool{},
	}
	activeFeatures := map[featureKey]map[string]bool{}
	activeOptDeps := map[featureKey]map[string]bool{}

	ensure := func(k featureKey) {
		if activeFeatures[k] == nil {
			activeFeatures[k] = map[string]bool{}
		}
		if activeOptDeps[k] == nil {
			activeOptDeps[k] = map[string]bool{}
		}
	}

	type pending struct {
		key     featureKey
		feature string
	}
	var queue []pending
	// weakWaiting holds "dep?/name" requests whose dep was not yet enabled,
	// keyed by (owner, dep name); they are queued once that dep is enabled.
	weakWaiting := map[pending][]pending{}

	for _, req := range requests {
		k := featureKey{pkg: key(req.Pkg), for_: fr.featuresFor(NormalOrDev)}
		ensure(k)
		names := req.Requested
		if !req.NoDefaultFeatures {
			names = append(append([]string{}, names...), "default")
		}
		for _, f := range names {
			queue = append(queue, pending{k, f})
		}
	}

	seen := map[pending]bool{}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if seen[p] {
			continue
		}
		seen[p] = true
		ensure(p.key)

		pkg := res.Packages[p.key.pkg]
		if pkg == nil || pkg.Manifest == nil {
			continue
		}

		// "dep:name", "dep/name", "dep?/name" reference another package's
		// feature rather than this one's own feature table; a bare
		// feature name may itself resolve to a feature-value list.
		if values, isLocal := pkg.Manifest.Features[p.feature]; isLocal {
			if activeFeatures[p.key][p.feature] {
				continue
			}
			activeFeatures[p.key][p.feature] = true
			for _, v := range values {
				fk, depName, featName, weak := parseFeatureValue(p.feature, v)
				if fk == valueLocalFeature {
					queue = append(queue, pending{p.key, featName})
					continue
				}
				depPkg, ok := findDepPkg(pkg, depName)
				if !ok {
					continue
				}
				ctx := fr.featuresFor(NormalOrDev)
				depKey := featureKey{pkg: key(depPkg), for_: ctx}
				ensure(depKey)
				if !weak && (fk == valueEnableOptDep || fk == valueDepFeature) {
					activeOptDeps[p.key][depName] = true
					w := pending{p.key, depName}
					queue = append(queue, weakWaiting[w]...)
					delete(weakWaiting, w)
				}
				if weak && !activeOptDeps[p.key][depName] {
					w := pending{p.key, depName}
					weakWaiting[w] = append(weakWaiting[w], pending{depKey, featName})
					continue // dep?/name only fires if dep is otherwise enabled
				}
				if fk == valueDepFeature && !weak {
					// "dep/name" also turns on a local feature named dep, if any.
					if _, ok := pkg.Manifest.Features[depName]; ok {
						queue = append(queue, pending{p.key, depName})
					}
				}
				if featName != "" {
					queue = append(queue, pending{depKey, featName})
				}
			}
			continue
		}
		// A bare name that isn't a declared feature but matches an optional
		// dependency activates that dependency with its own defaults.
		if depPkg, ok := findDepPkg(pkg, p.feature); ok {
			activeOptDeps[p.key][p.feature] = true
			w := pending{p.key, p.feature}
			queue = append(queue, weakWaiting[w]...)
			delete(weakWaiting, w)
			ctx := fr.featuresFor(NormalOrDev)
			depKey := featureKey{pkg: key(depPkg), for_: ctx}
			ensure(depKey)
			queue = append(queue, pending{depKey, "default"})
		}
	}

	for k, feats := range activeFeatures {
		names := make([]string, 0, len(feats))
		for f := range feats {
			names = append(names, f)
		}
		sort.Strings(names)
		enabled.Features[k] = names
	}
	for k, deps := range activeOptDeps {
		enabled.ActivatedOptDeps[k] = deps
	}
	return enabled, nil
}

type featureValueKind int

const (
	valueLocalFeature featureValueKind = iota
	valueDepFeature                    // dep/name
	valueEnableOptDep                  // dep:name
)

// parseFeatureValue splits a feature-value string per spec §4.D:
// "name" -> local feature; "dep/name" -> enable dep + its feature name;
// "dep:name" -> enable dep only; "dep?/name" -> dep's feature name only if
// dep is otherwise enabled (weak=true). No form enables dep's "default"
// feature.
func parseFeatureValue(owner, v string) (kind featureValueKind, depName, featName string, weak bool) {
	if i := strings.Index(v, ":"); i >= 0 && !strings.Contains(v[:i], "/") {
		return valueEnableOptDep, v[:i], "", false
	}
	if i := strings.Index(v, "/"); i >= 0 {
		dep := v[:i]
		rest := v[i+1:]
		if strings.HasSuffix(dep, "?") {
			return valueDepFeature, strings.TrimSuffix(dep, "?"), rest, true
		}
		return valueDepFeature, dep, rest, false
	}
	return valueLocalFeature, "", v, false
}

// findDepPkg resolves depName (the name as written in the manifest, i.e.
// NameInToml) to the PackageID it was bound to during Resolve.
func findDepPkg(owner *ResolvedPackage, depName string) (pkgid.PackageID, bool) {
	for _, d := range owner.Dependencies {
		if d.NameInToml == depName {
			return d.Pkg, true
		}
	}
	return pkgid.PackageID{}, false
}
