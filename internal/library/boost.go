package library

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"nativedeps/internal/builderr"
	"nativedeps/internal/catalogue"
	"nativedeps/internal/graph"
	"nativedeps/internal/svn"
)

var boostComponents = []string{
	"--with-exception", "--with-filesystem", "--with-math", "--with-random",
	"--with-regex", "--with-date_time", "--with-thread", "--with-system",
	"--with-program_options", "--with-serialization", "--with-iostreams",
	"--disable-filesystem2",
}

// userConfigDirs are the Boost.Build locations that have held user-config.jam
// across releases, most specific first.
var userConfigDirs = []string{"tools/build/v2", "tools/build/src", "tools/build"}

const mpiStanza = "\n using mpi ;\n"

type boost struct{}

func (boost) Plan(ctx context.Context, env *Env, spec *catalogue.LibrarySpec) (graph.Subtree, error) {
	s, err := newSession(ctx, env, spec)
	if err != nil {
		return graph.Subtree{}, err
	}
	sts, err := s.need("boost")
	if err != nil {
		return graph.Subtree{}, err
	}
	st := sts[0]

	bindings := filepath.Join(env.Layout.BuildRoot(), st.src.Install, "sandbox", "numeric_bindings")
	bindingsURL := env.Options.NumericBindingsURL
	if bindingsURL == "" {
		bindingsURL = NumericBindingsURL
	}

	return s.subtree(
		s.downloadTask("downloadboost", st),
		s.extractTask("extractboost", st),
		s.task("buildboost", "./bootstrap.sh && ./"+strings.Join(s.b2Args(s.plannedPrefix(st)), " "), func(ctx context.Context) ([]string, error) {
			return s.buildBoost(ctx, st)
		}),
		s.task("checkoutnumericbindings", bindingsURL+" -> "+bindings, func(ctx context.Context) ([]string, error) {
			return []string{bindings}, s.checkoutBindings(ctx, bindingsURL, bindings)
		}),
	), nil
}

func (s *session) b2Args(prefix string) []string {
	args := append([]string{"b2"}, boostComponents...)
	if s.env.Options.WithMPI {
		args = append(args, "--with-mpi")
	}
	return append(args,
		"threading=multi", "runtime-link=shared", "variant=release",
		"toolset="+s.env.Platform.Toolset(),
		"install", "--prefix="+prefix,
	)
}

func (s *session) buildBoost(ctx context.Context, st *staged) ([]string, error) {
	dir, err := s.sourceDir(st)
	if err != nil {
		return nil, err
	}
	prefix, err := s.installDir(st)
	if err != nil {
		return nil, err
	}

	if err := s.shell(ctx, dir, nil, "./bootstrap.sh"); err != nil {
		return nil, err
	}
	if s.env.Options.WithMPI {
		if err := s.step(ctx, "enable mpi in user-config.jam", func() error {
			return appendUserConfig(dir, mpiStanza)
		}); err != nil {
			return nil, err
		}
	}
	args := s.b2Args(prefix)
	args[0] = "./b2"
	if err := s.shell(ctx, dir, nil, args...); err != nil {
		return nil, err
	}
	return []string{prefix}, nil
}

// appendUserConfig appends text to the first user-config.jam found under
// the Boost tree, creating one in the first existing candidate directory
// when none exists yet.
func appendUserConfig(boostDir, text string) error {
	target := ""
	for _, d := range userConfigDirs {
		p := filepath.Join(boostDir, filepath.FromSlash(d), "user-config.jam")
		if _, err := os.Stat(p); err == nil {
			target = p
			break
		}
	}
	if target == "" {
		for _, d := range userConfigDirs {
			dir := filepath.Join(boostDir, filepath.FromSlash(d))
			if info, err := os.Stat(dir); err == nil && info.IsDir() {
				target = filepath.Join(dir, "user-config.jam")
				break
			}
		}
	}
	if target == "" {
		return &builderr.IOError{Op: "locate", Path: filepath.Join(boostDir, "tools", "build"), Err: os.ErrNotExist}
	}

	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &builderr.IOError{Op: "append", Path: target, Err: err}
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return &builderr.IOError{Op: "append", Path: target, Err: err}
	}
	return f.Close()
}

// checkoutBindings uses the svn client when installed and the WebDAV
// export otherwise.
func (s *session) checkoutBindings(ctx context.Context, url, dest string) error {
	lookPath := s.env.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return s.step(ctx, "create "+filepath.Dir(dest), func() error {
			return &builderr.IOError{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
		})
	}
	if bin, err := lookPath("svn"); err == nil {
		return s.shell(ctx, filepath.Dir(dest), nil, bin, "checkout", url, dest)
	}
	return s.step(ctx, "export "+url, func() error {
		if err := svn.Export(ctx, s.env.HTTP, url, dest); err != nil {
			return &builderr.IOError{Op: "svn export", Path: url, Err: err}
		}
		fmt.Fprintf(s.log, "exported %s to %s\n", url, dest)
		return nil
	})
}
