// Package graph assembles and runs the build task graph: housekeeping
// pre-tasks, one sequential subtree per selected library, and a cleanup
// post-task.
package graph

import (
	"context"
	"fmt"

	"nativedeps/internal/builderr"
)

// Task is one named step. Run returns the paths it produced.
type Task struct {
	Name    string
	Library string
	// Detail is shown by plan output (a URL, a command line).
	Detail string
	Run    func(ctx context.Context) ([]string, error)
}

// Subtree is the ordered task list of one library.
type Subtree struct {
	Library string
	Tasks   []Task
	// Close, when set, runs after the subtree whatever its outcome.
	Close func() error
}

// Graph is the whole run.
type Graph struct {
	Pre      []Task
	Subtrees []Subtree
	Post     []Task
}

// Tasks flattens the graph in declared order.
func (g *Graph) Tasks() []Task {
	var out []Task
	out = append(out, g.Pre...)
	for _, st := range g.Subtrees {
		out = append(out, st.Tasks...)
	}
	return append(out, g.Post...)
}

// Libraries lists the subtree keys in order.
func (g *Graph) Libraries() []string {
	out := make([]string, 0, len(g.Subtrees))
	for _, st := range g.Subtrees {
		out = append(out, st.Library)
	}
	return out
}

func (g *Graph) validate() error {
	seen := map[string]bool{}
	for _, t := range g.Tasks() {
		if t.Name == "" {
			return builderr.Structuralf("task without a name in %q", t.Library)
		}
		if seen[t.Name] {
			return builderr.Structuralf("duplicate task name %q", t.Name)
		}
		if t.Run == nil {
			return builderr.Structuralf("task %q has nothing to run", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Planner produces the subtree of one library.
type Planner interface {
	Key() string
	Aliases() []string
	Plan(ctx context.Context) (Subtree, error)
}

// Housekeeping holds the tasks around the library subtrees.
type Housekeeping struct {
	Pre  []Task
	Post []Task
}

// Build selects the planners not named in skip, plans them in order and
// wraps them in the housekeeping tasks. Selecting nothing is a
// StructuralError, reported before any planner runs.
func Build(ctx context.Context, planners []Planner, skip SkipSet, house Housekeeping) (*Graph, error) {
	if skip.All() {
		return nil, builderr.Structuralf("nothing to build: skip list contains %q", SkipAll)
	}

	var selected []Planner
	for _, p := range planners {
		if skip.Skips(p.Key(), p.Aliases()...) {
			continue
		}
		selected = append(selected, p)
	}
	if len(selected) == 0 {
		return nil, builderr.Structuralf("nothing to build: every library is skipped")
	}

	g := &Graph{Pre: house.Pre, Post: house.Post}
	for _, p := range selected {
		st, err := p.Plan(ctx)
		if err != nil {
			return nil, fmt.Errorf("plan %s: %w", p.Key(), err)
		}
		if st.Library == "" {
			st.Library = p.Key()
		}
		g.Subtrees = append(g.Subtrees, st)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}
