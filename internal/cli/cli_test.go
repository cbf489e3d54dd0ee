package cli

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativedeps/internal/builderr"
	"nativedeps/internal/resolve"
	"nativedeps/internal/runner"
)

const allButHDF = "atlas,boost,ginac,json"

func testApp(static resolve.Static) *app {
	a := newApp()
	a.in = strings.NewReader("")
	a.newResolver = func(*http.Client) resolve.Resolver { return static }
	return a
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "none.conf")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestListShowsCatalogue(t *testing.T) {
	out, err := execute(t, testApp(nil), "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[0], "atlas"))
	assert.Contains(t, lines[0], "sources: lapack, atlas")
	assert.Contains(t, lines[2], "aliases: hdf5")
	assert.True(t, strings.HasPrefix(lines[4], "json"))
}

func TestPlanPrintsTasksWithoutRunning(t *testing.T) {
	root := filepath.Join(t.TempDir(), "stage")
	a := testApp(resolve.Static{
		"hdf/hdf": {URL: "http://example.invalid/hdf5-1.8.9.tar.bz2", Filename: "hdf5-1.8.9.tar.bz2", Version: "1.8.9"},
	})

	out, err := execute(t, a, "plan", "--root", root, "--skip", allButHDF)
	require.NoError(t, err)

	assert.Contains(t, out, "before:\n  mkinstalldir")
	assert.Contains(t, out, "hdf:\n  downloadhdf")
	assert.Contains(t, out, "./configure --prefix="+filepath.Join(root, "build", "hdf", "1.8.9")+" --enable-cxx && make && make install")
	assert.Contains(t, out, "after:\n  cleanafterbuilddir")
	assert.NoDirExists(t, root)
}

func TestSkipAllIsStructural(t *testing.T) {
	_, err := execute(t, testApp(nil), "plan", "--root", t.TempDir(), "--skip", "all")
	var se *builderr.StructuralError
	require.ErrorAs(t, err, &se)
}

func TestUnknownSkipOnlyWarns(t *testing.T) {
	a := testApp(resolve.Static{
		"hdf/hdf": {URL: "http://example.invalid/hdf5-1.8.9.tar.bz2", Filename: "hdf5-1.8.9.tar.bz2", Version: "1.8.9"},
	})
	_, err := execute(t, a, "plan", "--root", t.TempDir(), "--skip", allButHDF+",petsc")
	assert.NoError(t, err)
}

func TestOptionsPrecedence(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "nativedeps.conf")
	require.NoError(t, os.WriteFile(conf, []byte("# staging\nROOT=fromfile\nJOBS=2\nwith_mpi = \"true\"\n"), 0o644))
	t.Setenv("NATIVEDEPS_JOBS", "3")

	a := newApp()
	root := newRootCmd(a)
	require.NoError(t, root.ParseFlags([]string{"--config", conf, "--root", "/srv/stage"}))
	opts, policy, err := a.options(root)
	require.NoError(t, err)
	assert.Equal(t, "/srv/stage", opts.Root)
	assert.Equal(t, 3, opts.Jobs)
	assert.True(t, opts.WithMPI)
	assert.Equal(t, runner.AskOperator, policy)

	a = newApp()
	root = newRootCmd(a)
	require.NoError(t, root.ParseFlags([]string{"--config", conf, "-j", "4", "--with-mpi=false"}))
	opts, _, err = a.options(root)
	require.NoError(t, err)
	assert.Equal(t, "fromfile", opts.Root)
	assert.Equal(t, 4, opts.Jobs)
	assert.False(t, opts.WithMPI)
}

func TestOptionsPolicyAndValidation(t *testing.T) {
	parse := func(args ...string) (runner.Policy, error) {
		a := newApp()
		root := newRootCmd(a)
		require.NoError(t, root.ParseFlags(append(args, "--config", filepath.Join(t.TempDir(), "none.conf"))))
		_, p, err := a.options(root)
		return p, err
	}

	p, err := parse("--skip-build-errors")
	require.NoError(t, err)
	assert.Equal(t, runner.AlwaysContinue, p)

	p, err = parse("--skip-build-errors", "--policy", "abort")
	require.NoError(t, err)
	assert.Equal(t, runner.AlwaysAbort, p)

	_, err = parse("--policy", "sometimes")
	assert.Error(t, err)
	_, err = parse("--atlas-pointer-width", "48")
	assert.Error(t, err)
	_, err = parse("--jobs", "0")
	assert.Error(t, err)
}

func TestCleanRemovesExtractedTrees(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hdf.tar.bz2"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hdf5-1.8.9", "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "build", "hdf"), 0o755))

	out, err := execute(t, testApp(nil), "clean", "--root", root)
	require.NoError(t, err)
	assert.Equal(t, "removed "+filepath.Join(root, "hdf5-1.8.9")+"\n", out)
	assert.FileExists(t, filepath.Join(root, "hdf.tar.bz2"))
	assert.DirExists(t, filepath.Join(root, "build", "hdf"))
}

func TestWatchSignals(t *testing.T) {
	sigs := make(chan os.Signal, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exited := make(chan int, 1)
	done := make(chan struct{})
	go watchSignals(sigs, cancel, func(code int) { exited <- code }, done)

	sigs <- syscall.SIGINT
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("first signal did not cancel")
	}
	select {
	case code := <-exited:
		t.Fatalf("exited early with %d", code)
	default:
	}

	sigs <- syscall.SIGINT
	select {
	case code := <-exited:
		assert.Equal(t, 130, code)
	case <-time.After(5 * time.Second):
		t.Fatal("second signal did not exit")
	}
}

func TestWatchSignalsStops(t *testing.T) {
	sigs := make(chan os.Signal, 1)
	called := make(chan struct{}, 1)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		watchSignals(sigs, func() { called <- struct{}{} }, func(int) {}, done)
		close(finished)
	}()
	close(done)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.Empty(t, called)
}
