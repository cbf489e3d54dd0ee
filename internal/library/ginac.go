package library

import (
	"context"
	"os"
	"path/filepath"
	"runtime"

	"nativedeps/internal/catalogue"
	"nativedeps/internal/graph"
)

// ginac builds CLN and then GiNaC against it. The dependency is carried by
// the environment of GiNaC's configure, not by graph edges.
type ginac struct{}

func (ginac) Plan(ctx context.Context, env *Env, spec *catalogue.LibrarySpec) (graph.Subtree, error) {
	s, err := newSession(ctx, env, spec)
	if err != nil {
		return graph.Subtree{}, err
	}
	sts, err := s.need("cln", "ginac")
	if err != nil {
		return graph.Subtree{}, err
	}
	cln, gi := sts[0], sts[1]

	detail := s.configureDetail(cln) + "; CLN_CFLAGS=... " + s.configureDetail(gi)
	return s.subtree(
		s.downloadTask("downloadginaccln", cln, gi),
		s.extractTask("extractginac", gi),
		s.extractTask("extractcln", cln),
		s.task("buildginaccln", detail, func(ctx context.Context) ([]string, error) {
			clnOut, err := s.configureMakeInstall(ctx, cln, nil)
			if err != nil {
				return nil, err
			}
			clnPrefix, err := s.installDir(cln)
			if err != nil {
				return clnOut, err
			}
			giOut, err := s.configureMakeInstall(ctx, gi, clnEnv(clnPrefix))
			return append(clnOut, giOut...), err
		}),
	), nil
}

// clnEnv points GiNaC's configure at a CLN install prefix.
func clnEnv(prefix string) []string {
	include := filepath.Join(prefix, "include")
	lib := filepath.Join(prefix, "lib")
	return []string{
		"CLN_CFLAGS=-I" + include,
		"CLN_LIBS=-L" + lib + " -lcln",
		"PKG_CONFIG_PATH=" + prependPath(os.Getenv("PKG_CONFIG_PATH"), filepath.Join(lib, "pkgconfig")),
	}
}

// prependPath puts value in front of a PATH-style list.
func prependPath(cur, value string) string {
	sep := ":"
	if runtime.GOOS == "windows" {
		sep = ";"
	}
	if cur == "" {
		return value
	}
	return value + sep + cur
}
