package main

import (
	"runtime"

	"github.com/distr1/forge/internal/pkgid/cfgexpr"
	"github.com/distr1/forge/internal/resolve"
)

// hostTriple maps the running process's GOOS/GOARCH to the target-triple
// string cfg() predicates and manifest [target.<triple>.*] tables key off
// of. Only the pairs this module's test fixtures and the corpus's example
// manifests actually exercise are named; anything else falls back to a
// "<arch>-unknown-<os>" guess rather than failing outright.
func hostTriple() string {
	switch runtime.GOOS + "/" + runtime.GOARCH {
	case "linux/amd64":
		return "x86_64-unknown-linux-gnu"
	case "linux/arm64":
		return "aarch64-unknown-linux-gnu"
	case "darwin/amd64":
		return "x86_64-apple-darwin"
	case "darwin/arm64":
		return "aarch64-apple-darwin"
	default:
		return runtime.GOARCH + "-unknown-" + runtime.GOOS
	}
}

// hostPlatform builds the resolve.Platform/cfgexpr.AtomSet describing the
// machine this process runs on, the set of cfg() atoms target predicates
// and manifest platform tables are evaluated against.
func hostPlatform() resolve.Platform {
	atoms := cfgexpr.AtomSet{
		"target_os":   goosToTargetOS(runtime.GOOS),
		"target_arch": goarchToTargetArch(runtime.GOARCH),
	}
	if runtime.GOOS != "windows" {
		atoms["unix"] = ""
	}
	return resolve.Platform{Atoms: atoms, Triple: hostTriple()}
}

func goosToTargetOS(goos string) string {
	if goos == "darwin" {
		return "macos"
	}
	return goos
}

func goarchToTargetArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "arm64":
		return "aarch64"
	case "386":
		return "x86"
	default:
		return goarch
	}
}
