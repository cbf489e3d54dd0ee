package cli

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"nativedeps/internal/catalogue"
	"nativedeps/internal/config"
	"nativedeps/internal/fetch"
	"nativedeps/internal/graph"
	"nativedeps/internal/library"
	"nativedeps/internal/runner"
	"nativedeps/internal/staging"
	"nativedeps/internal/ui"
)

// setup is everything a run needs, derived from the merged options.
type setup struct {
	opts     config.Options
	layout   staging.Layout
	runner   *runner.Runner
	env      *library.Env
	planners []graph.Planner
	skip     graph.SkipSet
}

func (a *app) setup(cmd *cobra.Command) (*setup, error) {
	opts, policy, err := a.options(cmd)
	if err != nil {
		return nil, err
	}
	ui.Debug = opts.Debug

	cat, err := loadCatalogue(opts.Catalogue)
	if err != nil {
		return nil, err
	}
	layout, err := staging.New(opts.Root)
	if err != nil {
		return nil, err
	}

	client := fetch.NewHTTPClient(opts.HTTPTimeout)
	run := runner.New(runner.Options{
		Policy: policy,
		Input:  a.in,
		// parallel builds would interleave on the console
		Quiet: opts.Jobs > 1,
	})
	lookPath := a.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	env := &library.Env{
		Layout:   layout,
		Resolver: a.newResolver(client),
		Fetcher:  fetch.New(client, opts.VerifyDownloads),
		Runner:   run,
		Options: library.BuildOptions{
			WithMPI:           opts.WithMPI,
			AtlasPointerWidth: opts.AtlasPointerWidth,
			AtlasCPUThrottle:  opts.AtlasCPUThrottle,
		},
		Platform: library.HostPlatform(),
		HTTP:     client,
		RunID:    uuid.NewString(),
		LookPath: lookPath,
	}
	planners, err := library.Planners(cat, env)
	if err != nil {
		return nil, err
	}

	skip := graph.ParseSkip(opts.Skip)
	for _, name := range skip.Unknown(planners) {
		ui.Printf(ui.Warn, "Unknown library %q in skip list, ignoring.\n", name)
	}
	return &setup{opts: opts, layout: layout, runner: run, env: env, planners: planners, skip: skip}, nil
}

func loadCatalogue(path string) (*catalogue.Catalogue, error) {
	if path == "" {
		return catalogue.Default()
	}
	return catalogue.Load(path)
}

func (s *setup) graph(ctx context.Context) (*graph.Graph, error) {
	return graph.Build(ctx, s.planners, s.skip, graph.NewHousekeeping(s.layout))
}

func (a *app) runBuild(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := a.setup(cmd)
	if err != nil {
		return err
	}
	ui.Stepf("Run %s, staging in %s", s.env.RunID, s.layout.Root)

	g, err := s.graph(ctx)
	if err != nil {
		return err
	}
	rep, err := graph.Run(ctx, g, s.opts.Jobs)
	summarize(cmd.OutOrStdout(), rep, s.runner.Failures())
	return err
}

func summarize(w io.Writer, rep *graph.Report, failures []runner.Failure) {
	if rep == nil {
		return
	}
	fmt.Fprintf(w, "%d tasks in %s\n", len(rep.Results), rep.Elapsed.Round(time.Millisecond))
	for _, res := range rep.Failed() {
		fmt.Fprintf(w, "failed: [%s] %s: %v\n", res.Library, res.Name, res.Err)
	}
	if len(failures) == 0 {
		return
	}
	fmt.Fprintf(w, "continued past %d failed steps:\n", len(failures))
	for _, f := range failures {
		fmt.Fprintf(w, "  %s: %v\n", f.Step, f.Err)
	}
}

func (a *app) runPlan(cmd *cobra.Command, _ []string) error {
	s, err := a.setup(cmd)
	if err != nil {
		return err
	}
	g, err := s.graph(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	printTasks(w, "before", g.Pre)
	for _, st := range g.Subtrees {
		printTasks(w, st.Library, st.Tasks)
	}
	printTasks(w, "after", g.Post)
	return nil
}

func printTasks(w io.Writer, title string, tasks []graph.Task) {
	if len(tasks) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, t := range tasks {
		if t.Detail == "" {
			fmt.Fprintf(w, "  %s\n", t.Name)
			continue
		}
		fmt.Fprintf(w, "  %-24s %s\n", t.Name, t.Detail)
	}
}

func (a *app) runClean(cmd *cobra.Command, _ []string) error {
	opts, _, err := a.options(cmd)
	if err != nil {
		return err
	}
	layout, err := staging.New(opts.Root)
	if err != nil {
		return err
	}
	removed, err := layout.Clean()
	for _, p := range removed {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", p)
	}
	return err
}

func (a *app) runList(cmd *cobra.Command, _ []string) error {
	opts, _, err := a.options(cmd)
	if err != nil {
		return err
	}
	cat, err := loadCatalogue(opts.Catalogue)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, lib := range cat.Libraries {
		var sources []string
		for _, src := range lib.Sources {
			sources = append(sources, src.Name)
		}
		line := fmt.Sprintf("%-8s sources: %s", lib.Key, strings.Join(sources, ", "))
		if len(lib.Aliases) > 0 {
			line += "  aliases: " + strings.Join(lib.Aliases, ", ")
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
