package unitgraph

// checkOrBuildMode implements the mode-mapping policy of spec §4.E step 3:
// given the parent unit's mode and whether the dependency target is
// host/proc-macro/plugin, decide whether the dependency compiles as Build
// or Check.
func checkOrBuildMode(parentMode ModeKind, depIsHostLike bool) Mode {
	switch parentMode {
	case ModeCheck, ModeDoc:
		if depIsHostLike {
			return Mode{Kind: ModeBuild}
		}
		return Mode{Kind: ModeCheck, Test: false}
	default:
		return Mode{Kind: ModeBuild}
	}
}
