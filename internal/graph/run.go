package graph

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"nativedeps/internal/ui"
)

// TaskResult records one executed task.
type TaskResult struct {
	Name      string
	Library   string
	Duration  time.Duration
	Artifacts []string
	Err       error
}

// Report is the outcome of Run.
type Report struct {
	mu      sync.Mutex
	Results []TaskResult
	Elapsed time.Duration
	// PostSkipped is set when post-tasks did not run because a subtree failed.
	PostSkipped bool
}

func (r *Report) add(res TaskResult) {
	r.mu.Lock()
	r.Results = append(r.Results, res)
	r.mu.Unlock()
}

// Artifacts collects every artifact in execution order.
func (r *Report) Artifacts() []string {
	var out []string
	for _, res := range r.Results {
		out = append(out, res.Artifacts...)
	}
	return out
}

// Run executes the graph. Pre-tasks and post-tasks are barriers; subtrees
// run one after another when jobs <= 1, otherwise up to jobs at a time.
// Tasks within a subtree are always sequential. The first error stops the
// run; post-tasks run only when every subtree succeeded.
func Run(ctx context.Context, g *Graph, jobs int) (*Report, error) {
	start := time.Now()
	rep := &Report{}
	defer func() { rep.Elapsed = time.Since(start) }()

	if err := runTasks(ctx, g.Pre, rep); err != nil {
		rep.PostSkipped = true
		return rep, err
	}

	var err error
	if jobs <= 1 {
		for _, st := range g.Subtrees {
			if err = runSubtree(ctx, st, rep); err != nil {
				break
			}
		}
	} else {
		grp, gctx := errgroup.WithContext(ctx)
		grp.SetLimit(jobs)
		for _, st := range g.Subtrees {
			st := st
			grp.Go(func() error { return runSubtree(gctx, st, rep) })
		}
		err = grp.Wait()
	}
	if err != nil {
		rep.PostSkipped = true
		return rep, err
	}

	return rep, runTasks(ctx, g.Post, rep)
}

func runSubtree(ctx context.Context, st Subtree, rep *Report) error {
	err := runTasks(ctx, st.Tasks, rep)
	if st.Close != nil {
		if cerr := st.Close(); cerr != nil {
			ui.Debugf("=> closing %s: %v\n", st.Library, cerr)
			if err == nil {
				err = cerr
			}
		}
	}
	return err
}

func runTasks(ctx context.Context, tasks []Task, rep *Report) error {
	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if t.Library != "" {
			ui.Stepf("[%s] %s", t.Library, t.Name)
		} else {
			ui.Stepf("%s", t.Name)
		}
		began := time.Now()
		artifacts, err := t.Run(ctx)
		rep.add(TaskResult{
			Name:      t.Name,
			Library:   t.Library,
			Duration:  time.Since(began),
			Artifacts: artifacts,
			Err:       err,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []TaskResult {
	var out []TaskResult
	for _, res := range r.Results {
		if res.Err != nil && !errors.Is(res.Err, context.Canceled) {
			out = append(out, res)
		}
	}
	return out
}
