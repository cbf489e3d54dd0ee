package library

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nativedeps/internal/builderr"
	"nativedeps/internal/catalogue"
	"nativedeps/internal/graph"
)

// ATLAS's generated lib/Makefile bakes the install dir into the soname,
// which breaks relocation of the shared objects.
var (
	sonameOld = []byte("(LD) $(LDFLAGS) -shared -soname $(LIBINSTdir)/$(outso) -o $(outso)")
	sonameNew = []byte("(LD) $(LDFLAGS) -shared -soname $(outso) -o $(outso)")
)

type atlas struct{}

func (atlas) Plan(ctx context.Context, env *Env, spec *catalogue.LibrarySpec) (graph.Subtree, error) {
	s, err := newSession(ctx, env, spec)
	if err != nil {
		return graph.Subtree{}, err
	}
	sts, err := s.need("lapack", "atlas")
	if err != nil {
		return graph.Subtree{}, err
	}
	lapack, at := sts[0], sts[1]
	buildDir := env.Layout.AtlasBuildDir()

	download := s.downloadTask("downloadlapackatlas", lapack, at)
	fetch := download.Run
	download.Run = func(ctx context.Context) ([]string, error) {
		out, err := fetch(ctx)
		if err != nil {
			return out, err
		}
		if err := s.extract(ctx, at); err != nil {
			return out, err
		}
		if at.dir != "" {
			out = append(out, at.dir)
		}
		return out, nil
	}

	tasks := []graph.Task{
		download,
		s.task("mkatlasbuilddir", buildDir, func(ctx context.Context) ([]string, error) {
			return []string{buildDir}, s.step(ctx, "mkdir "+buildDir, func() error {
				if err := os.MkdirAll(buildDir, 0o755); err != nil {
					return &builderr.IOError{Op: "mkdir", Path: buildDir, Err: err}
				}
				return nil
			})
		}),
		s.task("buildatlaslapack", strings.Join(s.atlasConfigure("<ATLAS>", lapack.archive, s.plannedPrefix(at)), " ")+" && make", func(ctx context.Context) ([]string, error) {
			src, err := s.sourceDir(at)
			if err != nil {
				return nil, err
			}
			prefix, err := s.installDir(at)
			if err != nil {
				return nil, err
			}
			if err := s.shell(ctx, buildDir, nil, s.atlasConfigure(src, lapack.archive, prefix)...); err != nil {
				return nil, err
			}
			return []string{buildDir}, s.shell(ctx, buildDir, nil, "make")
		}),
	}
	if env.Platform.POSIXLike() {
		makefile := filepath.Join(buildDir, "lib", "Makefile")
		tasks = append(tasks, s.task("sonameatlaslapack", makefile, func(ctx context.Context) ([]string, error) {
			return []string{makefile}, s.step(ctx, "patch "+makefile, func() error {
				return patchSoname(makefile)
			})
		}))
	}
	tasks = append(tasks, s.task("installatlaslapack", "make shared && make install", func(ctx context.Context) ([]string, error) {
		if err := s.shell(ctx, buildDir, nil, "make", "shared"); err != nil {
			return nil, err
		}
		if err := s.shell(ctx, buildDir, nil, "make", "install"); err != nil {
			return nil, err
		}
		prefix, err := s.installDir(at)
		return []string{prefix}, err
	}))
	return s.subtree(tasks...), nil
}

func (s *session) atlasConfigure(srcDir, lapackArchive, prefix string) []string {
	args := []string{filepath.Join(srcDir, "configure"), "--dylibs"}
	if w := s.env.Options.AtlasPointerWidth; w != 0 {
		args = append(args, "-b", strconv.Itoa(w))
	}
	if s.env.Options.AtlasCPUThrottle {
		args = append(args, "-Si", "cputhrchk", "0")
	}
	return append(args, "--with-netlib-lapack-tarfile="+lapackArchive, "--prefix="+prefix)
}

// patchSoname rewrites the soname rule in ATLAS's lib/Makefile in place.
// A Makefile already patched is left alone.
func patchSoname(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &builderr.IOError{Op: "read", Path: path, Err: err}
	}
	patched := bytes.ReplaceAll(data, sonameOld, sonameNew)
	if bytes.Equal(patched, data) {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return &builderr.IOError{Op: "stat", Path: path, Err: err}
	}
	if err := os.WriteFile(path, patched, info.Mode().Perm()); err != nil {
		return &builderr.IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}
