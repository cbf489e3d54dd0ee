// Package cli wires the nativedeps commands.
package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"nativedeps/internal/builderr"
	"nativedeps/internal/config"
	"nativedeps/internal/resolve"
	"nativedeps/internal/runner"
	"nativedeps/internal/ui"
)

// flagValues holds the command line overrides. A flag only wins over the
// config file and environment when it was set explicitly.
type flagValues struct {
	configPath        string
	root              string
	skip              string
	catalogue         string
	policy            string
	withMPI           bool
	atlasCPUThrottle  bool
	skipBuildErrors   bool
	debug             bool
	verify            bool
	atlasPointerWidth int
	jobs              int
	httpTimeout       time.Duration
}

type app struct {
	in    io.Reader
	flags flagValues

	// newResolver builds the download URL resolver. Tests swap in a static one.
	newResolver func(*http.Client) resolve.Resolver
	lookPath    func(string) (string, error)
}

func newApp() *app {
	return &app{
		in:          os.Stdin,
		newResolver: func(c *http.Client) resolve.Resolver { return resolve.NewScraper(c) },
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "nativedeps",
		Short: "Download, build and stage native C/C++ libraries",
		Long: `nativedeps discovers the current release of each catalogue library,
downloads and unpacks it into the staging root and builds it into
<root>/build/<library>/<version>. Running it without a command builds.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.runBuild,
	}

	f := root.PersistentFlags()
	f.StringVarP(&a.flags.configPath, "config", "c", config.DefaultFile, "config file (key=value)")
	f.StringVar(&a.flags.root, "root", "", "staging root (default \"install\")")
	f.StringVar(&a.flags.skip, "skip", "", "comma separated libraries to skip, or \"all\"")
	f.StringVar(&a.flags.catalogue, "catalogue", "", "catalogue YAML replacing the built-in one")
	f.StringVar(&a.flags.policy, "policy", "", "on build errors: ask, continue or abort")
	f.BoolVar(&a.flags.withMPI, "with-mpi", false, "build Boost.MPI")
	f.BoolVar(&a.flags.atlasCPUThrottle, "atlas-cpu-throttle", false, "disable ATLAS's CPU throttling check")
	f.BoolVar(&a.flags.skipBuildErrors, "skip-build-errors", false, "continue past build errors without asking")
	f.BoolVar(&a.flags.debug, "debug", false, "print debug output")
	f.BoolVar(&a.flags.verify, "verify", false, "keep and check BLAKE3 sidecars for downloads")
	f.IntVar(&a.flags.atlasPointerWidth, "atlas-pointer-width", 0, "ATLAS pointer width, 32 or 64")
	f.IntVarP(&a.flags.jobs, "jobs", "j", 1, "libraries built in parallel")
	f.DurationVar(&a.flags.httpTimeout, "http-timeout", 0, "total timeout of one HTTP request")

	root.AddCommand(
		&cobra.Command{
			Use:   "build",
			Short: "Build every library not skipped",
			Args:  cobra.NoArgs,
			RunE:  a.runBuild,
		},
		&cobra.Command{
			Use:   "plan",
			Short: "Resolve versions and print the tasks without running them",
			Args:  cobra.NoArgs,
			RunE:  a.runPlan,
		},
		&cobra.Command{
			Use:   "clean",
			Short: "Remove extracted sources and build trees from the staging root",
			Args:  cobra.NoArgs,
			RunE:  a.runClean,
		},
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List catalogue libraries and their aliases",
			Args:    cobra.NoArgs,
			RunE:    a.runList,
		},
	)
	return root
}

// options merges config file, NATIVEDEPS_* environment and flags.
func (a *app) options(cmd *cobra.Command) (config.Options, runner.Policy, error) {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return config.Options{}, 0, err
	}
	opts, err := cfg.Options()
	if err != nil {
		return opts, 0, err
	}

	set := cmd.Flags().Changed
	if set("root") {
		opts.Root = a.flags.root
	}
	if set("skip") {
		opts.Skip = a.flags.skip
	}
	if set("catalogue") {
		opts.Catalogue = a.flags.catalogue
	}
	if set("with-mpi") {
		opts.WithMPI = a.flags.withMPI
	}
	if set("atlas-cpu-throttle") {
		opts.AtlasCPUThrottle = a.flags.atlasCPUThrottle
	}
	if set("skip-build-errors") {
		opts.SkipBuildErrors = a.flags.skipBuildErrors
	}
	if set("debug") {
		opts.Debug = a.flags.debug
	}
	if set("verify") {
		opts.VerifyDownloads = a.flags.verify
	}
	if set("atlas-pointer-width") {
		opts.AtlasPointerWidth = a.flags.atlasPointerWidth
	}
	if set("jobs") {
		opts.Jobs = a.flags.jobs
	}
	if set("http-timeout") {
		opts.HTTPTimeout = a.flags.httpTimeout
	}
	if err := opts.Validate(); err != nil {
		return opts, 0, err
	}

	policy, err := choosePolicy(opts.SkipBuildErrors, a.flags.policy)
	return opts, policy, err
}

// choosePolicy maps --skip-build-errors onto the runner policy. An explicit
// --policy wins.
func choosePolicy(skipBuildErrors bool, explicit string) (runner.Policy, error) {
	if explicit != "" {
		return runner.ParsePolicy(explicit)
	}
	if skipBuildErrors {
		return runner.AlwaysContinue, nil
	}
	return runner.AskOperator, nil
}

// Execute runs the command line and reports a failure on the console.
func Execute() error {
	ctx, stop := notifyContext(context.Background())
	defer stop()

	if !ui.IsTerminal(os.Stdout) {
		ui.DisableColor()
	}
	err := newRootCmd(newApp()).ExecuteContext(ctx)
	if err != nil {
		reportError(err)
	}
	return err
}

func reportError(err error) {
	var ab *builderr.AbortError
	switch {
	case errors.Is(err, context.Canceled):
		ui.Printf(ui.Warn, "Build cancelled.\n")
	case errors.As(err, &ab):
		ui.Printf(ui.Error, "Build aborted at %s.\n", ab.Step)
		ui.Printf(ui.Error, "%v\n", ab.Cause)
	default:
		ui.Printf(ui.Error, "%v\n", err)
	}
}
