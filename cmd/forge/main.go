// Command forge drives the build described by a workspace's Forge.toml:
// resolve dependencies, compute enabled features, build the compilation
// unit graph, and schedule whatever is no longer fresh. Grounded on
// cmd/distri/distri.go's flag-driven verb dispatch and signal/cleanup
// lifecycle, generalized from distri's fixed command table to forge's
// build/check verbs.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/distr1/forge/internal/env"
	"github.com/distr1/forge/internal/unitgraph"
)

var (
	manifestDir      = flag.String("manifest-path", ".", "directory containing Forge.toml")
	buildDir         = flag.String("target-dir", "", "build output directory (default: <manifest-path>/target)")
	artifactDir      = flag.String("artifact-dir", "", "optional separate directory finished artifacts are copied to")
	profileName      = flag.String("profile", "dev", `build profile: "dev", "release", or a name from [profile.*]`)
	jobsFlag         = flag.Int("jobs", 0, "maximum number of units to build concurrently (default: number of CPUs, or jobserver-provided)")
	featuresFlag     = flag.String("features", "", "comma-separated list of features to activate")
	noDefaultFeats   = flag.Bool("no-default-features", false, "do not activate the default feature set")
	hostDepSplit     = flag.Bool("z-features-host-dep", false, "split feature resolution between host and target dependencies (-Zfeatures=host_dep)")
	minimalVersions  = flag.Bool("minimal-versions", false, "resolve every dependency to its lowest satisfying version instead of its highest")
	targetTripleFlag = flag.String("target", "", "target triple to compile for (default: host)")
	binName          = flag.String("bin", "", "build only the named bin target (default: every lib/bin target)")
	compilerPath     = flag.String("compiler", "rustc", "path to the compiler binary each unit is compiled with")
	verbose          = flag.Bool("verbose", false, "print additional diagnostic output")
)

func funcmain() error {
	flag.Parse()

	ctx, canc := interruptibleContext()
	defer canc()

	args := flag.Args()
	verb := "build"
	if len(args) > 0 {
		verb = args[0]
	}

	lock, err := acquireCacheLock(env.CacheHome)
	if err != nil {
		return err
	}
	registerAtExit(lock.Release)

	opts := buildOptions{
		manifestDir:     *manifestDir,
		buildDir:        resolveBuildDir(),
		artifactDir:     *artifactDir,
		profile:         *profileName,
		jobs:            jobCount(),
		features:        splitFeatures(*featuresFlag),
		noDefaultFeats:  *noDefaultFeats,
		hostDepSplit:    *hostDepSplit,
		minimalVersions: *minimalVersions,
		target:          *targetTripleFlag,
		bin:             *binName,
		compiler:        *compilerPath,
		verbose:         *verbose,
	}

	switch verb {
	case "build":
		opts.mode = unitgraph.ModeBuild
	case "check":
		opts.mode = unitgraph.ModeCheck
	default:
		return fmt.Errorf("forge: unknown command %q (known: build, check)", verb)
	}

	result, err := cmdBuild(ctx, opts)
	if result != nil {
		fmt.Fprintln(os.Stderr, result.Summary())
		for _, f := range result.Failures() {
			fmt.Fprintf(os.Stderr, "error: %s: %v\n", f.Unit.DisplayName(), f.Err)
		}
	}
	return err
}

func resolveBuildDir() string {
	if *buildDir != "" {
		return *buildDir
	}
	return *manifestDir + "/target"
}

// jobCount sizes the fallback semaphore pool. cmdBuild swaps in a
// jobserver-backed TokenPool instead whenever env.JobserverFD is set, so
// this only matters absent an enclosing make(1)-style jobserver.
func jobCount() int {
	if *jobsFlag > 0 {
		return *jobsFlag
	}
	return runtime.NumCPU()
}

func splitFeatures(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func main() {
	log.SetFlags(0)
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if err := runAtExit(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
	if err := runAtExit(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
