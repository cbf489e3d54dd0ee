package library

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"nativedeps/internal/builderr"
	"nativedeps/internal/catalogue"
	"nativedeps/internal/graph"
	"nativedeps/internal/staging"
)

// jsoncpp builds with scons and installs by copying headers and libraries.
type jsoncpp struct{}

func (jsoncpp) Plan(ctx context.Context, env *Env, spec *catalogue.LibrarySpec) (graph.Subtree, error) {
	s, err := newSession(ctx, env, spec)
	if err != nil {
		return graph.Subtree{}, err
	}
	sts, err := s.need("jsoncpp")
	if err != nil {
		return graph.Subtree{}, err
	}
	st := sts[0]

	return s.subtree(
		s.downloadTask("downloadjsoncpp", st),
		s.extractTask("extractjsoncpp", st),
		s.task("buildjsoncpp", "scons platform=linux-gcc; install into "+s.plannedPrefix(st), func(ctx context.Context) ([]string, error) {
			dir, err := s.sourceDir(st)
			if err != nil {
				return nil, err
			}
			prefix, err := s.installDir(st)
			if err != nil {
				return nil, err
			}
			if err := s.shell(ctx, dir, nil, "scons", "platform=linux-gcc"); err != nil {
				return nil, err
			}
			var installed []string
			err = s.step(ctx, "install jsoncpp into "+prefix, func() error {
				var err error
				installed, err = installJsoncpp(dir, prefix, s.env.Platform)
				return err
			})
			return installed, err
		}),
	), nil
}

// installJsoncpp copies include/ and the built libraries into prefix and
// links libjson<ext> to each of them.
func installJsoncpp(srcDir, prefix string, p Platform) ([]string, error) {
	include := filepath.Join(prefix, "include")
	if err := staging.CopyDir(filepath.Join(srcDir, "include"), include); err != nil {
		return nil, &builderr.IOError{Op: "copy", Path: include, Err: err}
	}
	libDir := filepath.Join(prefix, "lib")
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return nil, &builderr.IOError{Op: "mkdir", Path: libDir, Err: err}
	}

	out := []string{include}
	for _, ext := range []string{p.SharedLibSuffix(), p.StaticLibSuffix()} {
		matches, err := filepath.Glob(filepath.Join(srcDir, "libs", "*", "*"+ext))
		if err != nil {
			return out, err
		}
		for _, m := range matches {
			name := filepath.Base(m)
			dst := filepath.Join(libDir, name)
			if err := staging.CopyFile(m, dst); err != nil {
				return out, &builderr.IOError{Op: "copy", Path: dst, Err: err}
			}
			out = append(out, dst)
			if name == "libjson"+ext {
				continue
			}
			link := filepath.Join(libDir, "libjson"+ext)
			if err := os.Remove(link); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return out, &builderr.IOError{Op: "remove", Path: link, Err: err}
			}
			if err := os.Symlink("./"+name, link); err != nil {
				return out, &builderr.IOError{Op: "symlink", Path: link, Err: err}
			}
			out = append(out, link)
		}
	}
	return out, nil
}
