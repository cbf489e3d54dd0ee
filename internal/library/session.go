package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"nativedeps/internal/archive"
	"nativedeps/internal/builderr"
	"nativedeps/internal/catalogue"
	"nativedeps/internal/graph"
	"nativedeps/internal/resolve"
	"nativedeps/internal/runner"
	"nativedeps/internal/staging"
	"nativedeps/internal/ui"
)

// staged is a source as it moves from URL to archive to source directory.
type staged struct {
	src     catalogue.Source
	res     resolve.Resolution
	archive string
	format  archive.Format
	dir     string
	version string
}

// session carries the state of one library across its tasks.
type session struct {
	env     *Env
	spec    *catalogue.LibrarySpec
	log     *buildLog
	run     *runner.Runner
	sources map[string]*staged
	order   []*staged
}

// newSession resolves every source of spec.
func newSession(ctx context.Context, env *Env, spec *catalogue.LibrarySpec) (*session, error) {
	log := &buildLog{path: env.Layout.LogPath(spec.Key), library: spec.Key, runID: env.RunID}
	s := &session{
		env:     env,
		spec:    spec,
		log:     log,
		run:     env.Runner.WithLog(log),
		sources: map[string]*staged{},
	}
	for _, src := range spec.Sources {
		format, err := src.ArchiveFormat()
		if err != nil {
			return nil, builderr.Structuralf("%s/%s: %v", spec.Key, src.Name, err)
		}
		res, err := env.Resolver.Resolve(ctx, src)
		if err != nil {
			return nil, err
		}
		st := &staged{
			src:     src,
			res:     res,
			archive: env.Layout.Archive(src.Archive),
			format:  format,
			version: res.Version,
		}
		s.sources[src.Name] = st
		s.order = append(s.order, st)
	}
	return s, nil
}

// need returns the named sources or a StructuralError naming the first missing one.
func (s *session) need(names ...string) ([]*staged, error) {
	out := make([]*staged, 0, len(names))
	for _, n := range names {
		st, ok := s.sources[n]
		if !ok {
			return nil, builderr.Structuralf("%s: catalogue has no source %q", s.spec.Key, n)
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *session) task(name, detail string, run func(ctx context.Context) ([]string, error)) graph.Task {
	return graph.Task{Name: name, Library: s.spec.Key, Detail: detail, Run: run}
}

func (s *session) subtree(tasks ...graph.Task) graph.Subtree {
	return graph.Subtree{Library: s.spec.Key, Tasks: tasks, Close: s.log.Close}
}

func (s *session) downloadTask(name string, sts ...*staged) graph.Task {
	var detail []string
	for _, st := range sts {
		detail = append(detail, st.res.URL+" -> "+filepath.Base(st.archive))
	}
	return s.task(name, strings.Join(detail, "; "), func(ctx context.Context) ([]string, error) {
		var out []string
		for _, st := range sts {
			if err := s.download(ctx, st); err != nil {
				return out, err
			}
			out = append(out, st.archive)
		}
		return out, nil
	})
}

func (s *session) extractTask(name string, st *staged) graph.Task {
	return s.task(name, filepath.Base(st.archive)+" -> "+st.src.Dir, func(ctx context.Context) ([]string, error) {
		if err := s.extract(ctx, st); err != nil || st.dir == "" {
			return nil, err
		}
		return []string{st.dir}, nil
	})
}

func (s *session) download(ctx context.Context, st *staged) error {
	return s.run.Step(ctx, "download "+st.res.URL, func() error {
		fetched, err := s.env.Fetcher.Fetch(ctx, st.res.URL, st.archive)
		if err == nil && !fetched {
			ui.Debugf("=> %s cached\n", st.archive)
		}
		return err
	})
}

// extract expands the archive into the staging root and records the source
// directory. A continued extraction failure leaves dir empty.
func (s *session) extract(ctx context.Context, st *staged) error {
	var top string
	expanded := false
	err := s.run.Step(ctx, "extract "+st.archive, func() error {
		var err error
		top, err = archive.Expand(ctx, st.archive, st.format, s.env.Layout.Root)
		expanded = err == nil
		return err
	})
	if err != nil || !expanded {
		return err
	}
	dir, err := archive.Locate(s.env.Layout.Root, top, st.src.Dir)
	if err != nil {
		return err
	}
	return s.setDir(st, dir)
}

func (s *session) setDir(st *staged, dir string) error {
	st.dir = dir
	if !st.src.Version.FromDir() {
		return nil
	}
	v, err := resolve.VersionFromName(filepath.Base(dir), st.src.Version)
	if err != nil {
		return builderr.Structuralf("%s: version from source directory: %v", s.spec.Key, err)
	}
	st.version = v
	return nil
}

// sourceDir returns the extracted directory, looking it up by glob when
// the extraction task did not record it.
func (s *session) sourceDir(st *staged) (string, error) {
	if st.dir != "" {
		return st.dir, nil
	}
	dir, err := archive.Locate(s.env.Layout.Root, "", st.src.Dir)
	if err != nil {
		return "", err
	}
	return dir, s.setDir(st, dir)
}

func (s *session) installDir(st *staged) (string, error) {
	if st.version == "" {
		if _, err := s.sourceDir(st); err != nil {
			return "", err
		}
	}
	if st.version == "" {
		return "", builderr.Structuralf("%s: no version for %s", s.spec.Key, st.src.Name)
	}
	return s.env.Layout.InstallDir(st.src.Install, st.version), nil
}

// plannedPrefix is installDir for plan output, before anything is extracted.
func (s *session) plannedPrefix(st *staged) string {
	if st.version != "" {
		return s.env.Layout.InstallDir(st.src.Install, st.version)
	}
	return s.env.Layout.InstallDir(st.src.Install, "<"+st.src.Dir+">")
}

func (s *session) shell(ctx context.Context, dir string, env []string, args ...string) error {
	return s.run.Shell(ctx, dir, env, shellJoin(args...))
}

func (s *session) step(ctx context.Context, desc string, fn func() error) error {
	return s.run.Step(ctx, desc, fn)
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// shellJoin quotes args for sh -c.
func shellJoin(args ...string) string {
	if runtime.GOOS == "windows" {
		return strings.Join(args, " ")
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		if a != "" && shellSafe.MatchString(a) {
			quoted[i] = a
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

// buildLog is a per-library log file opened on first write and compressed
// on Close.
type buildLog struct {
	path    string
	library string
	runID   string

	mu     sync.Mutex
	f      *os.File
	failed bool
}

func (l *buildLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil && !l.failed {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			// a missing log must not fail the build
			ui.Debugf("=> build log %s: %v\n", l.path, err)
			l.failed = true
			return len(p), nil
		}
		fmt.Fprintf(f, "# nativedeps run %s, library %s, %s\n", l.runID, l.library, time.Now().Format(time.RFC3339))
		l.f = f
	}
	if l.f == nil {
		return len(p), nil
	}
	if _, err := l.f.Write(p); err != nil {
		ui.Debugf("=> build log %s: %v\n", l.path, err)
	}
	return len(p), nil
}

// Close closes and compresses the log. A log never written is a no-op, and
// a log that cannot be compressed stays behind uncompressed.
func (l *buildLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	if err == nil {
		_, err = staging.CompressLog(l.path)
	}
	if err != nil {
		ui.Debugf("=> build log %s: %v\n", l.path, err)
	}
	return nil
}
