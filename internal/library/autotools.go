package library

import (
	"context"
	"strings"

	"nativedeps/internal/catalogue"
	"nativedeps/internal/graph"
)

// autotools builds each source with configure, make and make install.
type autotools struct{}

func (autotools) Plan(ctx context.Context, env *Env, spec *catalogue.LibrarySpec) (graph.Subtree, error) {
	s, err := newSession(ctx, env, spec)
	if err != nil {
		return graph.Subtree{}, err
	}
	var tasks []graph.Task
	for _, st := range s.order {
		st := st
		tasks = append(tasks,
			s.downloadTask("download"+st.src.Name, st),
			s.extractTask("extract"+st.src.Name, st),
			s.task("build"+st.src.Name, s.configureDetail(st), func(ctx context.Context) ([]string, error) {
				return s.configureMakeInstall(ctx, st, nil)
			}),
		)
	}
	return s.subtree(tasks...), nil
}

func (s *session) configureDetail(st *staged) string {
	args := append([]string{"./configure", "--prefix=" + s.plannedPrefix(st)}, st.src.Configure...)
	return strings.Join(args, " ") + " && make && make install"
}

// configureMakeInstall runs the three autotools steps in the source
// directory. Each step is subject to the failure policy on its own.
func (s *session) configureMakeInstall(ctx context.Context, st *staged, env []string) ([]string, error) {
	dir, err := s.sourceDir(st)
	if err != nil {
		return nil, err
	}
	prefix, err := s.installDir(st)
	if err != nil {
		return nil, err
	}

	configure := append([]string{"./configure", "--prefix=" + prefix}, st.src.Configure...)
	for _, args := range [][]string{configure, {"make"}, {"make", "install"}} {
		if err := s.shell(ctx, dir, env, args...); err != nil {
			return nil, err
		}
	}
	return []string{prefix}, nil
}
