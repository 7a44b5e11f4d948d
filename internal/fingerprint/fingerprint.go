// Package fingerprint implements the per-unit freshness check of spec
// §4.G: a canonical byte serialization of a unit's build-affecting inputs,
// hashed and compared against what was last persisted to decide whether a
// unit needs to be rebuilt. Grounded directly on distri's
// build.Ctx.Digest() (an fnv128a hash over a package's build-affecting
// state) and aligot's SHA1-based spec hashing, generalized to the ordered
// input list of spec §4.G. Persisted atomically via
// github.com/google/renameio, matching the teacher's and the lockfile's
// write-then-rename discipline.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/renameio"
)

// SchemaVersion is bumped to invalidate every persisted fingerprint at
// once (spec §4.G input 1).
const SchemaVersion = 1

// DirtyReason categorizes why a unit needs rebuilding (spec §7's
// Fingerprint error kind — informational, never a failure).
type DirtyReason int

const (
	Fresh DirtyReason = iota
	New
	Forced
	RustcChanged
	FeaturesChanged
	ProfileChanged
	DepInfoChanged
	FsStale
	EnvChanged
)

func (r DirtyReason) String() string {
	switch r {
	case Fresh:
		return "fresh"
	case New:
		return "new"
	case Forced:
		return "forced"
	case RustcChanged:
		return "rustc-changed"
	case FeaturesChanged:
		return "features-changed"
	case ProfileChanged:
		return "profile-changed"
	case DepInfoChanged:
		return "dep-info-changed"
	case FsStale:
		return "fs-stale"
	case EnvChanged:
		return "env-changed"
	default:
		return "unknown"
	}
}

// ProfileDigest is the subset of manifest.Profile the hash covers (spec
// §4.G input 4); kept separate from manifest.Profile so this package has
// no dependency on manifest's TOML-decoding concerns.
type ProfileDigest struct {
	Panic          string
	OptLevel       string
	Debug          bool
	LTO            string
	CodegenUnits   int
	OverflowChecks bool
	Incremental    bool
}

// Inputs is everything that goes into a unit's metadata hash, in the
// fixed order of spec §4.G.
type Inputs struct {
	CompilerVersionHash string
	PackageStableHash   string
	Mode                string
	Kind                string
	Profile             ProfileDigest
	Features            []string // any order; sorted when hashed
	DepHashes           []string // any order; sorted when hashed
	WrapperToolHash     string   // "" if not applicable
	ChannelOverride     string   // "" if unset
	IsStd               bool
}

// canonicalBytes serializes in deterministically: JSON field order is
// fixed by Go's encoding/json for struct types, and Features/DepHashes are
// serialized from sorted copies, so the caller's order does not matter.
func (in Inputs) canonicalBytes() ([]byte, error) {
	sortedFeatures := append([]string(nil), in.Features...)
	sort.Strings(sortedFeatures)
	sortedDeps := append([]string(nil), in.DepHashes...)
	sort.Strings(sortedDeps)
	payload := in
	payload.Features = sortedFeatures
	payload.DepHashes = sortedDeps
	return json.Marshal(struct {
		Schema int
		Inputs
	}{Schema: SchemaVersion, Inputs: payload})
}

// Hash computes the metadata hash for in: spec §4.G's ordered input list,
// canonically serialized and SHA-256'd.
func (in Inputs) Hash() (string, error) {
	b, err := in.canonicalBytes()
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// TrackedPath is one (path, recorded mtime) entry tracked for
// rebuild-detection but not hashed into the metadata (spec §4.G).
type TrackedPath struct {
	Path         string
	RecordedMtime time.Time
}

// TrackedEnv is one (env-var, recorded value) entry, same rationale.
type TrackedEnv struct {
	Var   string
	Value string
}

// Fingerprint is the persisted record for one unit.
type Fingerprint struct {
	Hash         string
	TrackedPaths []TrackedPath
	TrackedEnv   []TrackedEnv
}

type onDisk struct {
	Hash         string
	TrackedPaths []struct {
		Path  string
		Mtime time.Time
	}
	TrackedEnv []TrackedEnv
}

// Load reads a persisted Fingerprint from path, returning (nil, nil) if it
// does not exist (freshness step 1: missing -> dirty reason New).
func Load(path string) (*Fingerprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fingerprint: read %s: %w", path, err)
	}
	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("fingerprint: decode %s: %w", path, err)
	}
	fp := &Fingerprint{Hash: d.Hash, TrackedEnv: d.TrackedEnv}
	for _, p := range d.TrackedPaths {
		fp.TrackedPaths = append(fp.TrackedPaths, TrackedPath{Path: p.Path, RecordedMtime: p.Mtime})
	}
	return fp, nil
}

// Write atomically persists fp to path via renameio, the same
// write-to-temp-then-rename discipline the lockfile uses.
func (fp *Fingerprint) Write(path string) error {
	type pathEntry struct {
		Path  string
		Mtime time.Time
	}
	d := onDisk{Hash: fp.Hash, TrackedEnv: fp.TrackedEnv}
	for _, p := range fp.TrackedPaths {
		d.TrackedPaths = append(d.TrackedPaths, pathEntry{Path: p.Path, Mtime: p.RecordedMtime})
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("fingerprint: encode: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("fingerprint: write %s: %w", path, err)
	}
	return nil
}

// Check runs the freshness algorithm of spec §4.G against a newly computed
// fingerprint, given the one most recently persisted (nil if none). After
// comparing hashes it stats each of next's TrackedPaths (missing, or newer
// than its RecordedMtime, gives FsStale) and reads each of next's TrackedEnv
// variables (a differing value gives EnvChanged).
func Check(prev *Fingerprint, next *Fingerprint) DirtyReason {
	if prev == nil {
		return New
	}
	if prev.Hash != next.Hash {
		return categorizeHashChange(prev, next)
	}
	for _, tp := range next.TrackedPaths {
		info, err := os.Stat(tp.Path)
		if err != nil {
			return FsStale
		}
		if info.ModTime().After(tp.RecordedMtime) {
			return FsStale
		}
	}
	for _, te := range next.TrackedEnv {
		if os.Getenv(te.Var) != te.Value {
			return EnvChanged
		}
	}
	return Fresh
}

// categorizeHashChange picks a specific dirty reason when the hash
// differs. Without the original Inputs on hand this degrades to a generic
// category; callers that want a precise reason should compare Inputs
// fields directly before calling Check (see CheckInputs).
func categorizeHashChange(prev, next *Fingerprint) DirtyReason {
	return DepInfoChanged
}

// CheckInputs is the richer freshness check used when the caller still has
// both Inputs values on hand (the common case: a scheduler comparing what
// it is about to build against what it loaded), letting it attribute a
// hash mismatch to the specific field that changed rather than a generic
// category.
func CheckInputs(prevHash string, prevIn, nextIn Inputs) (DirtyReason, error) {
	nextHash, err := nextIn.Hash()
	if err != nil {
		return Fresh, err
	}
	if prevHash == "" {
		return New, nil
	}
	if prevHash == nextHash {
		return Fresh, nil
	}
	switch {
	case prevIn.CompilerVersionHash != nextIn.CompilerVersionHash:
		return RustcChanged, nil
	case !sameStrings(prevIn.Features, nextIn.Features):
		return FeaturesChanged, nil
	case prevIn.Profile != nextIn.Profile:
		return ProfileChanged, nil
	default:
		return DepInfoChanged, nil
	}
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
