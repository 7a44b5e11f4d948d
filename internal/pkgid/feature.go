package pkgid

import "fmt"

// Feature is a validated feature name as it appears in a manifest's
// [features] table or a --features request.
type Feature string

// ValidateFeature rejects feature names containing characters that would be
// ambiguous with the "dep/name", "dep:name" and "dep?/name" feature-value
// forms (spec §4.D).
func ValidateFeature(name string) error {
	if name == "" {
		return fmt.Errorf("pkgid: empty feature name")
	}
	for _, r := range name {
		ok := r == '_' || r == '-' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if !ok {
			return fmt.Errorf("pkgid: invalid character %q in feature name %q", r, name)
		}
	}
	return nil
}

// SortedUniqueFeatures returns a sorted, deduplicated copy of features, the
// canonical form a Unit's Features field is interned with (spec §3).
func SortedUniqueFeatures(features []string) []string {
	seen := make(map[string]bool, len(features))
	out := make([]string, 0, len(features))
	for _, f := range features {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
