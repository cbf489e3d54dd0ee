//go:build unix

package library

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellJoin(t *testing.T) {
	if os.PathSeparator == '\\' {
		t.Skip("sh quoting")
	}
	assert.Equal(t, "./configure --prefix=/opt/x --enable-cxx", shellJoin("./configure", "--prefix=/opt/x", "--enable-cxx"))
	assert.Equal(t, "make '' 'a b' 'it'\\''s'", shellJoin("make", "", "a b", "it's"))
}

func TestPatchSonameIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Makefile")
	orig := "all:\n\t$" + string(sonameOld) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(orig), 0o640))

	require.NoError(t, patchSoname(path))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "all:\n\t$"+string(sonameNew)+"\n", string(first))

	require.NoError(t, patchSoname(path))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	assert.Error(t, patchSoname(filepath.Join(t.TempDir(), "missing")))
}

func TestAppendUserConfig(t *testing.T) {
	t.Run("existing file", func(t *testing.T) {
		dir := t.TempDir()
		jam := filepath.Join(dir, "tools", "build", "v2", "user-config.jam")
		require.NoError(t, os.MkdirAll(filepath.Dir(jam), 0o755))
		require.NoError(t, os.WriteFile(jam, []byte("# user\n"), 0o644))

		require.NoError(t, appendUserConfig(dir, mpiStanza))
		data, err := os.ReadFile(jam)
		require.NoError(t, err)
		assert.Equal(t, "# user\n"+mpiStanza, string(data))
	})

	t.Run("created in newer layout", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "tools", "build", "src"), 0o755))

		require.NoError(t, appendUserConfig(dir, mpiStanza))
		data, err := os.ReadFile(filepath.Join(dir, "tools", "build", "src", "user-config.jam"))
		require.NoError(t, err)
		assert.Equal(t, mpiStanza, string(data))
	})

	t.Run("no build tree", func(t *testing.T) {
		assert.Error(t, appendUserConfig(t.TempDir(), mpiStanza))
	})
}

func TestInstallJsoncppReplacesLink(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "include", "json"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "include", "json", "json.h"), []byte("//"), 0o644))
	libs := filepath.Join(src, "libs", "linux-gcc-4.8")
	require.NoError(t, os.MkdirAll(libs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(libs, "libjson_linux-gcc-4.8_libmt.so"), nil, 0o755))

	prefix := filepath.Join(t.TempDir(), "jsoncpp", "0.5.0")
	require.NoError(t, os.MkdirAll(filepath.Join(prefix, "lib"), 0o755))
	require.NoError(t, os.Symlink("./stale.so", filepath.Join(prefix, "lib", "libjson.so")))

	out, err := installJsoncpp(src, prefix, Platform{OS: "linux"})
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(prefix, "lib", "libjson.so"))
	assert.FileExists(t, filepath.Join(prefix, "include", "json", "json.h"))

	target, err := os.Readlink(filepath.Join(prefix, "lib", "libjson.so"))
	require.NoError(t, err)
	assert.Equal(t, "./libjson_linux-gcc-4.8_libmt.so", target)
	assert.NoFileExists(t, filepath.Join(prefix, "lib", "libjson.a"))
}

func TestPlatform(t *testing.T) {
	for _, tc := range []struct {
		os, toolset, shared, static string
		posix                       bool
	}{
		{"linux", "gcc", ".so", ".a", true},
		{"darwin", "darwin", ".dylib", ".a", true},
		{"windows", "gcc", ".dll", ".lib", false},
	} {
		p := Platform{OS: tc.os}
		assert.Equal(t, tc.toolset, p.Toolset(), tc.os)
		assert.Equal(t, tc.shared, p.SharedLibSuffix(), tc.os)
		assert.Equal(t, tc.static, p.StaticLibSuffix(), tc.os)
		assert.Equal(t, tc.posix, p.POSIXLike(), tc.os)
	}
}

func TestClnEnv(t *testing.T) {
	t.Setenv("PKG_CONFIG_PATH", "/usr/lib/pkgconfig")
	env := clnEnv("/opt/cln")
	assert.Equal(t, []string{
		"CLN_CFLAGS=-I/opt/cln/include",
		"CLN_LIBS=-L/opt/cln/lib -lcln",
		"PKG_CONFIG_PATH=/opt/cln/lib/pkgconfig:/usr/lib/pkgconfig",
	}, env)
	assert.Equal(t, "/a", prependPath("", "/a"))
}

func TestBuildLogCompressionFailureIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdf.log")
	log := &buildLog{path: path, library: "hdf", runID: "run-1"}
	_, err := log.Write([]byte("$ cd /src && make\n"))
	require.NoError(t, err)
	require.NoError(t, os.Mkdir(path+".xz", 0o755))

	require.NoError(t, log.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "# nativedeps run run-1, library hdf")
	assert.Contains(t, string(data), "make\n")
}

func TestBuildLogCompressesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "json.log")
	log := &buildLog{path: path, library: "json", runID: "run-2"}
	require.NoError(t, log.Close(), "an unwritten log is a no-op")
	assert.NoFileExists(t, path+".xz")

	_, err := log.Write([]byte("scons\n"))
	require.NoError(t, err)
	require.NoError(t, log.Close())
	assert.FileExists(t, path+".xz")
	assert.NoFileExists(t, path)
}
