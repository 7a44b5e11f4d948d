package pkgid

import (
	"fmt"
	"os"
	"strings"
)

// PackageIDSpec is the partial identifier a user supplies on the command
// line or in a manifest patch/replace table to refer to a package: the name
// is required, version and source are optional (spec §3, §6).
type PackageIDSpec struct {
	Name    string
	Version *Version
	Source  *SourceID
}

// knownPrefixes maps the recognized "kind+" scheme prefixes to their
// SourceKind. No prefix is a prefix of another, so the match order does
// not matter.
var knownPrefixes = []struct {
	prefix string
	kind   SourceKind
}{
	{"git+", SourceGit},
	{"registry+", SourceRegistry},
	{"sparse+", SourceSparseRegistry},
	{"path+", SourcePath},
}

// ParseSpec parses a PackageIdSpec string per the grammar in spec §3/§6.
func ParseSpec(s string) (PackageIDSpec, error) {
	orig := s
	var kind *SourceKind
	urlPrefix := "" // re-prepended for sparse+, which keeps its scheme in the URL string
	for _, kp := range knownPrefixes {
		if strings.HasPrefix(s, kp.prefix) {
			k := kp.kind
			kind = &k
			s = strings.TrimPrefix(s, kp.prefix)
			if kp.kind == SourceSparseRegistry {
				urlPrefix = kp.prefix
			}
			break
		}
	}

	if kind == nil {
		// No recognized scheme prefix: either a bare name[@version|:version]
		// or (per grammar) a bare URL with a #fragment, defaulting to a
		// plain registry source.
		if strings.Contains(s, "://") {
			k := SourceRegistry
			kind = &k
		}
	}

	if kind == nil {
		return parseBare(orig, s)
	}

	// URL-bearing form: optional query string (git+ only), optional
	// #fragment naming the package (and optionally its version).
	urlPart := s
	frag := ""
	if idx := strings.IndexByte(s, '#'); idx >= 0 {
		urlPart = s[:idx]
		frag = s[idx+1:]
	}

	query := ""
	if idx := strings.IndexByte(urlPart, '?'); idx >= 0 {
		query = urlPart[idx+1:]
		urlPart = urlPart[:idx]
		if *kind != SourceGit {
			return PackageIDSpec{}, fmt.Errorf("pkgid: query string %q is only permitted on git+ specs: %q", query, orig)
		}
	}

	src := SourceID{Kind: *kind, URL: urlPrefix + urlPart}
	if *kind == SourceGit {
		for _, kv := range strings.Split(query, "&") {
			if kv == "" {
				continue
			}
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 && (parts[0] == "branch" || parts[0] == "tag" || parts[0] == "rev") {
				src.Reference = parts[1]
			}
		}
	}
	if err := src.Validate(); err != nil {
		return PackageIDSpec{}, err
	}

	name := frag
	var version *Version
	if name == "" {
		// No fragment: derive the name from the final path component.
		name = lastPathComponent(urlPart)
	} else {
		n, v, err := splitNameVersion(name)
		if err != nil {
			return PackageIDSpec{}, err
		}
		name = n
		version = v
	}
	if err := validateName(name); err != nil {
		return PackageIDSpec{}, err
	}

	return PackageIDSpec{Name: name, Version: version, Source: &src}, nil
}

func parseBare(orig, s string) (PackageIDSpec, error) {
	if looksLikeExistingPath(s) {
		return PackageIDSpec{}, fmt.Errorf("pkgid: %q looks like a filesystem path; did you mean a file:// URL? (path+file://%s)", orig, s)
	}
	name, version, err := splitNameVersion(s)
	if err != nil {
		return PackageIDSpec{}, err
	}
	if err := validateName(name); err != nil {
		return PackageIDSpec{}, err
	}
	var v *Version
	if version != nil {
		v = version
	}
	return PackageIDSpec{Name: name, Version: v}, nil
}

// splitNameVersion splits "name", "name@version" or the legacy
// "name:version" form.
func splitNameVersion(s string) (string, *Version, error) {
	if idx := strings.IndexByte(s, '@'); idx >= 0 {
		v := ParseVersion(s[idx+1:])
		return s[:idx], &v, nil
	}
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		v := ParseVersion(s[idx+1:])
		return s[:idx], &v, nil
	}
	return s, nil, nil
}

func lastPathComponent(url string) string {
	url = strings.TrimRight(url, "/")
	if idx := strings.LastIndexByte(url, '/'); idx >= 0 {
		return url[idx+1:]
	}
	return url
}

func looksLikeExistingPath(s string) bool {
	if strings.Contains(s, "://") {
		return false
	}
	if !strings.Contains(s, "/") {
		return false
	}
	_, err := os.Stat(s)
	return err == nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("pkgid: spec is missing a package name")
	}
	for i, r := range name {
		ok := r == '_' || r == '-' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9' && i > 0)
		if !ok {
			return fmt.Errorf("pkgid: invalid package name %q", name)
		}
	}
	return nil
}

// String renders the canonical form of spec: `:` is accepted on parse but
// `@` is always emitted on print (spec §6), so parse(print(x)) == x.
func (spec PackageIDSpec) String() string {
	var b strings.Builder
	if spec.Source != nil {
		switch spec.Source.Kind {
		case SourceGit:
			b.WriteString("git+")
		case SourceRegistry:
			b.WriteString("registry+")
		case SourceSparseRegistry:
			// sparse+ is already embedded in Source.URL
		case SourcePath:
			b.WriteString("path+")
		}
		url := spec.Source.URL
		b.WriteString(url)
		if spec.Source.Kind == SourceGit && spec.Source.Reference != "" {
			b.WriteString("?rev=" + spec.Source.Reference)
		}
		b.WriteByte('#')
		b.WriteString(spec.Name)
		if spec.Version != nil {
			b.WriteByte('@')
			b.WriteString(spec.Version.String())
		}
		return b.String()
	}
	b.WriteString(spec.Name)
	if spec.Version != nil {
		b.WriteByte('@')
		b.WriteString(spec.Version.String())
	}
	return b.String()
}

// Matches reports whether every field present in spec equals the
// corresponding field of id. Source comparison treats Precise as a
// wildcard unless the spec explicitly set it (spec §4.A).
func (spec PackageIDSpec) Matches(id PackageID) bool {
	if spec.Name != "" && spec.Name != id.Name {
		return false
	}
	if spec.Version != nil && Compare(*spec.Version, id.Version) != 0 {
		return false
	}
	if spec.Source != nil {
		s := *spec.Source
		o := id.Source
		if s.Kind != o.Kind || s.URL != o.URL {
			return false
		}
		if s.Precise != "" && s.Precise != o.Precise {
			return false
		}
	}
	return true
}
