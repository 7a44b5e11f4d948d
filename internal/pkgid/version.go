// Package pkgid implements the identifier and version model: package names,
// versions, version requirements, source identifiers and the PackageIdSpec
// grammar used to refer to a package from the command line or a manifest.
package pkgid

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Version is a package version. Most packages use semver, but upstream
// versions that do not parse as semver are kept verbatim and compared
// lexicographically, the way distri's upstream checker falls back to a
// string sort when semver.IsValid reports false.
type Version struct {
	raw string
}

// ParseVersion wraps s verbatim; the "v"-prefixed form semver expects is
// derived only for comparison, by canonical.
func ParseVersion(s string) Version {
	return Version{raw: s}
}

func (v Version) String() string { return v.raw }

func (v Version) IsZero() bool { return v.raw == "" }

// canonical returns the semver.IsValid-compatible form ("v" prefix), or ""
// if v does not parse as semver.
func (v Version) canonical() string {
	s := v.raw
	if !strings.HasPrefix(s, "v") {
		s = "v" + s
	}
	if semver.IsValid(s) {
		return s
	}
	return ""
}

// Compare returns -1, 0 or +1 comparing a to b. When both are valid semver,
// comparison follows semver precedence; otherwise it falls back to a plain
// string comparison (not meaningful across differing schemes, but stable and
// total, matching distri's behavior for non-semver upstream versions).
func Compare(a, b Version) int {
	ca, cb := a.canonical(), b.canonical()
	if ca != "" && cb != "" {
		return semver.Compare(ca, cb)
	}
	switch {
	case a.raw < b.raw:
		return -1
	case a.raw > b.raw:
		return 1
	default:
		return 0
	}
}

// LessVersion reports whether a sorts before b, for use with sort.Slice.
func LessVersion(a, b Version) bool { return Compare(a, b) < 0 }

// distriRevision mirrors distri's PackageVersion.DistriRevision: an
// incrementing integer suffix (after the last '-') used to distinguish
// otherwise-identical upstream versions, e.g. "2.2.6-1". It is not part of
// semver precedence, and Compare does not consult it.
func distriRevision(raw string) (base string, rev int64) {
	idx := strings.LastIndexByte(raw, '-')
	if idx < 0 {
		return raw, 0
	}
	n, err := strconv.ParseInt(raw[idx+1:], 10, 64)
	if err != nil {
		return raw, 0
	}
	return raw[:idx], n
}
