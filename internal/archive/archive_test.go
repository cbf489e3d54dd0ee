package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nativedeps/internal/builderr"
)

type entry struct {
	name, body, link string
	flag             byte
	mode             int64
}

func writeTarGz(t *testing.T, entries []entry) string {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: e.flag, Mode: e.mode, Linkname: e.link, Size: int64(len(e.body))}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if e.body != "" {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	p := filepath.Join(t.TempDir(), "src.tar.gz")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"tar.bz2": TarBzip2, "tbz2": TarBzip2, "tgz": TarGzip, ".tar.gz": TarGzip} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("zip")
	assert.Error(t, err)

	f, err := FormatOf("lapack.tgz")
	require.NoError(t, err)
	assert.Equal(t, TarGzip, f)
	_, err = FormatOf("atlas.tar.xz")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExpandBzip2KeepsTopDir(t *testing.T) {
	dest := t.TempDir()
	top, err := Expand(context.Background(), filepath.Join("testdata", "hdf5-1.8.9.tar.bz2"), TarBzip2, dest)
	require.NoError(t, err)
	assert.Equal(t, "hdf5-1.8.9", top)

	info, err := os.Stat(filepath.Join(dest, "hdf5-1.8.9", "configure"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "configure keeps its exec bit")

	link, err := os.Readlink(filepath.Join(dest, "hdf5-1.8.9", "H5.c"))
	require.NoError(t, err)
	assert.Equal(t, "src/H5.c", link)

	dir, err := Locate(dest, top, "hdf?-*")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "hdf5-1.8.9"), dir)
}

func TestExpandGzipHardLinkAndNoCommonTop(t *testing.T) {
	p := writeTarGz(t, []entry{
		{name: "jsoncpp-src-0.5.0/", flag: tar.TypeDir, mode: 0o755},
		{name: "jsoncpp-src-0.5.0/SConstruct", body: "env = Environment()\n", flag: tar.TypeReg},
		{name: "jsoncpp-src-0.5.0/SConstruct.bak", link: "jsoncpp-src-0.5.0/SConstruct", flag: tar.TypeLink},
		{name: "README", body: "hi", flag: tar.TypeReg},
	})
	dest := t.TempDir()

	top, err := Expand(context.Background(), p, TarGzip, dest)
	require.NoError(t, err)
	assert.Equal(t, "", top)

	body, err := os.ReadFile(filepath.Join(dest, "jsoncpp-src-0.5.0", "SConstruct.bak"))
	require.NoError(t, err)
	assert.Equal(t, "env = Environment()\n", string(body))

	dir, err := Locate(dest, top, "jsoncpp-src-*")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "jsoncpp-src-0.5.0"), dir)
}

func TestExpandRejectsEscapingEntries(t *testing.T) {
	for _, name := range []string{"../evil", "pkg/../../evil", "/etc/evil"} {
		t.Run(name, func(t *testing.T) {
			p := writeTarGz(t, []entry{{name: name, body: "x", flag: tar.TypeReg}})
			parent := t.TempDir()
			dest := filepath.Join(parent, "out")

			_, err := Expand(context.Background(), p, TarGzip, dest)
			var ioErr *builderr.IOError
			require.ErrorAs(t, err, &ioErr)
			assert.NoFileExists(t, filepath.Join(parent, "evil"))
		})
	}
}

func TestExpandRejectsWritesThroughSymlinks(t *testing.T) {
	outside := t.TempDir()
	p := writeTarGz(t, []entry{
		{name: "pkg-1/", flag: tar.TypeDir, mode: 0o755},
		{name: "pkg-1/link", flag: tar.TypeSymlink, link: outside},
		{name: "pkg-1/link/planted", body: "x", flag: tar.TypeReg},
	})
	dest := t.TempDir()

	_, err := Expand(context.Background(), p, TarGzip, dest)
	var ioErr *builderr.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Contains(t, err.Error(), "symlink")
	assert.NoFileExists(t, filepath.Join(outside, "planted"))
}

func TestExpandCorruptArchive(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.tar.bz2")
	require.NoError(t, os.WriteFile(p, []byte("not bzip2 at all"), 0o644))

	_, err := Expand(context.Background(), p, TarBzip2, t.TempDir())
	var ioErr *builderr.IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestLocateFallsBackToGlob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "boost_1_49_0"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "boost_1_50_0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "boost_notes"), nil, 0o644))

	got, err := Locate(dir, "missing_top", "boost_*")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "boost_1_50_0"), got)
}

func TestLocateNoMatchIsStructural(t *testing.T) {
	_, err := Locate(t.TempDir(), "", "cln-*")
	var se *builderr.StructuralError
	assert.ErrorAs(t, err, &se)
}
