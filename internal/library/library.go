// Package library plans the build subtree of each catalogue library.
//
// An adapter resolves every source of its library while planning, so a
// resolution failure surfaces before anything is downloaded. The tasks it
// returns run shell steps through the shared runner and apply the same
// failure policy to download and extraction errors.
package library

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"nativedeps/internal/catalogue"
	"nativedeps/internal/graph"
	"nativedeps/internal/resolve"
	"nativedeps/internal/runner"
	"nativedeps/internal/staging"
)

// NumericBindingsURL is the Boost sandbox checked out next to the Boost install.
const NumericBindingsURL = "http://svn.boost.org/svn/boost/sandbox/numeric_bindings/"

// BuildOptions are the feature switches handed to every adapter.
type BuildOptions struct {
	WithMPI bool
	// AtlasPointerWidth is 0 (let ATLAS decide), 32 or 64.
	AtlasPointerWidth int
	// AtlasCPUThrottle disables ATLAS's CPU throttling check.
	AtlasCPUThrottle bool
	// NumericBindingsURL overrides the Boost sandbox location.
	NumericBindingsURL string
}

// Platform describes the host toolchain conventions.
type Platform struct {
	OS string
}

// HostPlatform describes the running system.
func HostPlatform() Platform { return Platform{OS: runtime.GOOS} }

// Toolset is the Boost.Build toolset name.
func (p Platform) Toolset() string {
	if p.OS == "darwin" {
		return "darwin"
	}
	return "gcc"
}

// POSIXLike reports whether the ATLAS soname patch applies.
func (p Platform) POSIXLike() bool { return p.OS != "windows" && p.OS != "plan9" }

// SharedLibSuffix is the extension of shared libraries.
func (p Platform) SharedLibSuffix() string {
	switch p.OS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	}
	return ".so"
}

// StaticLibSuffix is the extension of static archives.
func (p Platform) StaticLibSuffix() string {
	if p.OS == "windows" {
		return ".lib"
	}
	return ".a"
}

// Downloader fetches a URL to a path unless the path already exists.
type Downloader interface {
	Fetch(ctx context.Context, url, dest string) (bool, error)
}

// Env is everything an adapter needs. It is shared by all libraries of a run.
type Env struct {
	Layout   staging.Layout
	Resolver resolve.Resolver
	Fetcher  Downloader
	Runner   *runner.Runner
	Options  BuildOptions
	Platform Platform
	// HTTP is used for the pure-Go svn export.
	HTTP *http.Client
	// RunID is stamped into build logs.
	RunID string
	// LookPath finds helper binaries (svn). Defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Adapter plans the subtree of one library.
type Adapter interface {
	Plan(ctx context.Context, env *Env, spec *catalogue.LibrarySpec) (graph.Subtree, error)
}

var adapters = map[string]Adapter{
	"autotools": autotools{},
	"boost":     boost{},
	"atlas":     atlas{},
	"ginac":     ginac{},
	"jsoncpp":   jsoncpp{},
}

// Planners returns one graph.Planner per catalogue library, in catalogue order.
func Planners(cat *catalogue.Catalogue, env *Env) ([]graph.Planner, error) {
	out := make([]graph.Planner, 0, len(cat.Libraries))
	for i := range cat.Libraries {
		spec := &cat.Libraries[i]
		a, ok := adapters[spec.Adapter]
		if !ok {
			return nil, fmt.Errorf("%s: no adapter %q", spec.Key, spec.Adapter)
		}
		out = append(out, &planner{spec: spec, env: env, adapter: a})
	}
	return out, nil
}

type planner struct {
	spec    *catalogue.LibrarySpec
	env     *Env
	adapter Adapter
}

func (p *planner) Key() string       { return p.spec.Key }
func (p *planner) Aliases() []string { return p.spec.Aliases }

func (p *planner) Plan(ctx context.Context) (graph.Subtree, error) {
	return p.adapter.Plan(ctx, p.env, p.spec)
}
