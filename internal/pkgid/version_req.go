package pkgid

import "strings"

// VersionReqKind selects the comparison family a VersionReq uses. The core
// does not implement a full semver matching algebra (spec Non-goals); this
// is a thin wrapper over golang.org/x/mod/semver sufficient for the
// resolver's candidate filtering.
type VersionReqKind int

const (
	// ReqWildcard matches any version, e.g. "*".
	ReqWildcard VersionReqKind = iota
	// ReqExact matches only the identical version, e.g. "=1.2.3".
	ReqExact
	// ReqCompatible matches the same major (or, for 0.x, same minor)
	// version at least as new as the bound, e.g. "^1.2.3" or bare "1.2.3".
	ReqCompatible
	// ReqAtLeast matches any version >= the bound, e.g. ">=1.2.3".
	ReqAtLeast
)

// VersionReq is a parsed dependency version requirement.
type VersionReq struct {
	Kind  VersionReqKind
	Bound Version
}

// ParseVersionReq parses a requirement string as it would appear in a
// manifest dependency table.
func ParseVersionReq(s string) VersionReq {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "*":
		return VersionReq{Kind: ReqWildcard}
	case strings.HasPrefix(s, "="):
		return VersionReq{Kind: ReqExact, Bound: ParseVersion(strings.TrimPrefix(s, "="))}
	case strings.HasPrefix(s, ">="):
		return VersionReq{Kind: ReqAtLeast, Bound: ParseVersion(strings.TrimPrefix(s, ">="))}
	case strings.HasPrefix(s, "^"):
		return VersionReq{Kind: ReqCompatible, Bound: ParseVersion(strings.TrimPrefix(s, "^"))}
	case strings.HasPrefix(s, "~"):
		// tilde requirements are modeled as compatible (same as "^"); no
		// same-minor, patch-only restriction is applied anywhere.
		return VersionReq{Kind: ReqCompatible, Bound: ParseVersion(strings.TrimPrefix(s, "~"))}
	default:
		return VersionReq{Kind: ReqCompatible, Bound: ParseVersion(s)}
	}
}

func (r VersionReq) String() string {
	switch r.Kind {
	case ReqWildcard:
		return "*"
	case ReqExact:
		return "=" + r.Bound.String()
	case ReqAtLeast:
		return ">=" + r.Bound.String()
	default:
		return "^" + r.Bound.String()
	}
}

// Matches reports whether v satisfies r.
func (r VersionReq) Matches(v Version) bool {
	switch r.Kind {
	case ReqWildcard:
		return true
	case ReqExact:
		return Compare(v, r.Bound) == 0
	case ReqAtLeast:
		return Compare(v, r.Bound) >= 0
	case ReqCompatible:
		if Compare(v, r.Bound) < 0 {
			return false
		}
		ca, cb := majorMinor(v), majorMinor(r.Bound)
		return ca.major == cb.major && (ca.major != 0 || ca.minor == cb.minor)
	default:
		return false
	}
}

type majorMinorTuple struct{ major, minor int }

func majorMinor(v Version) majorMinorTuple {
	s := v.raw
	s = strings.TrimPrefix(s, "v")
	parts := strings.SplitN(s, ".", 3)
	var out majorMinorTuple
	if len(parts) > 0 {
		out.major = atoiLenient(parts[0])
	}
	if len(parts) > 1 {
		out.minor = atoiLenient(parts[1])
	}
	return out
}

func atoiLenient(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
