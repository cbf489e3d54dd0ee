//go:build unix

package cli

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativedeps/internal/resolve"
)

const fakeMake = `#!/bin/sh
if [ -n "$FAIL_MAKE" ] && [ "$#" -eq 0 ]; then exit 2; fi
if [ "$1" = install ]; then
	d="$(cat .prefix)/lib"
	mkdir -p "$d" && : > "$d/libfake.a"
fi
`

func buildApp(t *testing.T) *app {
	t.Helper()
	bin := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bin, "make"), []byte(fakeMake), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))
	t.Setenv("NATIVEDEPS_TRACE", filepath.Join(t.TempDir(), "trace"))

	srv := httptest.NewServer(http.FileServer(http.Dir(filepath.Join("..", "library", "testdata"))))
	t.Cleanup(srv.Close)
	return testApp(resolve.Static{
		"hdf/hdf": {URL: srv.URL + "/hdf5-1.8.9.tar.bz2", Filename: "hdf5-1.8.9.tar.bz2", Version: "1.8.9"},
	})
}

func TestBuildHDF(t *testing.T) {
	a := buildApp(t)
	root := t.TempDir()

	out, err := execute(t, a, "build", "--root", root, "--skip", allButHDF, "--policy", "abort")
	require.NoError(t, err)
	assert.Contains(t, out, "tasks in")
	assert.NotContains(t, out, "continued past")
	assert.FileExists(t, filepath.Join(root, "build", "hdf", "1.8.9", "lib", "libfake.a"))
	assert.NoDirExists(t, filepath.Join(root, "hdf5-1.8.9"))
}

func TestBuildSummarizesContinuedFailures(t *testing.T) {
	t.Setenv("FAIL_MAKE", "1")
	a := buildApp(t)
	root := t.TempDir()

	out, err := execute(t, a, "--root", root, "--skip", allButHDF, "--skip-build-errors")
	require.NoError(t, err)
	assert.Contains(t, out, "continued past 1 failed steps:\n  make: command \"make\" exited with status 2\n")
	assert.FileExists(t, filepath.Join(root, "build", "hdf", "1.8.9", "lib", "libfake.a"))
}
