package pkgid

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// PackageID is the triple (name, version, source) that uniquely identifies
// a resolved package. Equality and hashing consider all three fields;
// ordering is by name, then version, then source (spec §3).
type PackageID struct {
	Name    string
	Version Version
	Source  SourceID
}

func (id PackageID) Equal(o PackageID) bool {
	return id.Name == o.Name && id.Version.raw == o.Version.raw && id.Source.Equal(o.Source)
}

// Less implements the canonical PackageID ordering.
func Less(a, b PackageID) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if c := Compare(a.Version, b.Version); c != 0 {
		return c < 0
	}
	return LessSource(a.Source, b.Source)
}

func (id PackageID) String() string {
	return id.Name + "@" + id.Version.String() + " (" + id.Source.String() + ")"
}

// stripWorkspaceRoot removes a leading workspace-root path prefix from a
// path-source URL so that StableHash agrees across machines that checked
// the same workspace out to different absolute paths (spec §3).
func stripWorkspaceRoot(url, workspaceRoot string) string {
	if workspaceRoot == "" {
		return url
	}
	if strings.HasPrefix(url, workspaceRoot) {
		rest := strings.TrimPrefix(url, workspaceRoot)
		return "{workspace-root}" + rest
	}
	return url
}

// StableHash derives a hash of id that is identical across machines for
// path-dependency workspace members, by stripping the workspace-root prefix
// from path-source URLs before hashing (spec §3 "stable hash").
func (id PackageID) StableHash(workspaceRoot string) string {
	h := sha256.New()
	h.Write([]byte(id.Name))
	h.Write([]byte{0})
	h.Write([]byte(id.Version.String()))
	h.Write([]byte{0})
	src := id.Source
	if src.Kind == SourcePath {
		src.URL = stripWorkspaceRoot(src.URL, workspaceRoot)
	}
	h.Write([]byte(src.String()))
	return hex.EncodeToString(h.Sum(nil))
}
