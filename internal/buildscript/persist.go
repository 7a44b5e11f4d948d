package buildscript

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/renameio"
)

// onDisk mirrors Output field-for-field; kept distinct so Output's shape
// can evolve without touching the persisted schema in lockstep.
type onDisk struct {
	LinkLibs       []Link
	LinkSearch     []Link
	Cfgs           []string
	Env            map[string]string
	RawFlags       []string
	RerunIfChanged []string
	RerunIfEnv     []string
	Warnings       []string
	LinksMetadata  map[string]string
}

// Save persists out to path atomically (via renameio, the same
// write-then-rename discipline internal/fingerprint and the lockfile use),
// so a later fresh build can replay the directives without re-running the
// build script (spec §4.I step 3).
func Save(path string, out *Output) error {
	d := onDisk{
		LinkLibs: out.LinkLibs, LinkSearch: out.LinkSearch, Cfgs: out.Cfgs,
		Env: out.Env, RawFlags: out.RawFlags, RerunIfChanged: out.RerunIfChanged,
		RerunIfEnv: out.RerunIfEnv, Warnings: out.Warnings, LinksMetadata: out.LinksMetadata,
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("buildscript: encode %s: %w", path, err)
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("buildscript: write %s: %w", path, err)
	}
	return nil
}

// Load replays a previously persisted Output, returning (nil, nil) if
// path does not exist (the build script has never run for this unit).
func Load(path string) (*Output, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("buildscript: read %s: %w", path, err)
	}
	var d onDisk
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("buildscript: decode %s: %w", path, err)
	}
	out := &Output{
		LinkLibs: d.LinkLibs, LinkSearch: d.LinkSearch, Cfgs: d.Cfgs,
		Env: d.Env, RawFlags: d.RawFlags, RerunIfChanged: d.RerunIfChanged,
		RerunIfEnv: d.RerunIfEnv, Warnings: d.Warnings, LinksMetadata: d.LinksMetadata,
	}
	if out.Env == nil {
		out.Env = map[string]string{}
	}
	if out.LinksMetadata == nil {
		out.LinksMetadata = map[string]string{}
	}
	return out, nil
}
