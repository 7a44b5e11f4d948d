package forge

import (
	"fmt"
	"strings"

	"github.com/distr1/forge/internal/fingerprint"
	"github.com/distr1/forge/internal/unitgraph"
)

// UnitResult is one unit's outcome from a build run: whether it needed
// rebuilding, what it produced, and any error.
type UnitResult struct {
	Unit          *unitgraph.Unit
	DirtyReason   fingerprint.DirtyReason
	ArtifactPaths []string
	Err           error
}

// BuildResult summarizes uplifted artifacts across every unit a build run
// touched, the minimal result surface install/uninstall flows (still out of
// scope) or a CLI need to report what happened without themselves knowing
// the fingerprint/scheduler internals.
type BuildResult struct {
	Units              []UnitResult
	Succeeded, Failed, Fresh int
}

// Summary renders a one-line human-readable recap, the shape a CLI's final
// status line prints after a build run completes.
func (r *BuildResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d succeeded, %d failed, %d already fresh, %d total",
		r.Succeeded, r.Failed, r.Fresh, len(r.Units))
	return b.String()
}

// Failures returns every UnitResult whose Err is non-nil, in encounter
// order.
func (r *BuildResult) Failures() []UnitResult {
	var out []UnitResult
	for _, u := range r.Units {
		if u.Err != nil {
			out = append(out, u)
		}
	}
	return out
}
