// Package archive expands tar+bzip2 and tar+gzip source archives and locates
// the extracted source directory.
package archive

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/pgzip"

	"nativedeps/internal/builderr"
	"nativedeps/internal/ui"
)

// Format is a supported archive encoding.
type Format int

const (
	TarBzip2 Format = iota + 1
	TarGzip
)

func (f Format) String() string {
	switch f {
	case TarBzip2:
		return "tar.bz2"
	case TarGzip:
		return "tar.gz"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat accepts tar.bz2, tbz2, tar.gz and tgz.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "tar.bz2", "tbz2", "tbz":
		return TarBzip2, nil
	case "tar.gz", "tgz":
		return TarGzip, nil
	}
	return 0, fmt.Errorf("unsupported archive format %q", s)
}

// Expand extracts archivePath into destDir without stripping any leading
// directory. It returns the top-level directory shared by every entry, or ""
// when the entries do not share one.
func Expand(ctx context.Context, archivePath string, format Format, destDir string) (string, error) {
	top, err := expand(ctx, archivePath, format, destDir)
	if err != nil && ctx.Err() == nil {
		return "", &builderr.IOError{Op: "extract", Path: archivePath, Err: err}
	}
	return top, err
}

func expand(ctx context.Context, archivePath string, format Format, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader
	switch format {
	case TarGzip:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	case TarBzip2:
		r = bzip2.NewReader(f)
	default:
		return "", fmt.Errorf("unsupported archive format %v", format)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	type dirTime struct {
		path  string
		atime time.Time
		mtime time.Time
	}
	var (
		dirs   []dirTime
		tops   = map[string]bool{}
		nested bool
	)

	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read tar header: %w", err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}

		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		if name == "." {
			continue
		}
		target, err := within(destDir, name)
		if err != nil {
			return "", err
		}

		first, rest, _ := strings.Cut(name, "/")
		tops[first] = true
		if rest != "" || hdr.Typeflag == tar.TypeDir {
			nested = true
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", err
		}

		mode := os.FileMode(hdr.Mode).Perm()
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0o700); err != nil {
				return "", err
			}
			dirs = append(dirs, dirTime{target, hdr.AccessTime, hdr.ModTime})
		case tar.TypeReg:
			if err := writeFile(target, tr, mode); err != nil {
				return "", err
			}
			_ = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
		case tar.TypeSymlink:
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return "", fmt.Errorf("symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
		case tar.TypeLink:
			src, err := within(destDir, path.Clean(strings.TrimPrefix(hdr.Linkname, "./")))
			if err != nil {
				return "", err
			}
			_ = os.Remove(target)
			if err := os.Link(src, target); err != nil {
				return "", fmt.Errorf("hard link %s -> %s: %w", target, src, err)
			}
		default:
			ui.Debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}

	// directories last, their mtimes change while children are written
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Chtimes(dirs[i].path, dirs[i].atime, dirs[i].mtime)
	}

	if len(tops) == 1 && nested {
		for top := range tops {
			return top, nil
		}
	}
	return "", nil
}

// within joins name onto dest and rejects results outside dest.
func within(dest, name string) (string, error) {
	if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	target := filepath.Join(dest, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("illegal path in archive: %s", name)
	}
	if err := noSymlinkParent(dest, name); err != nil {
		return "", err
	}
	return target, nil
}

// noSymlinkParent rejects names whose already extracted parent directories
// include a symlink, which could point anywhere.
func noSymlinkParent(dest, name string) error {
	parts := strings.Split(name, "/")
	cur := filepath.Clean(dest)
	for _, p := range parts[:len(parts)-1] {
		cur = filepath.Join(cur, p)
		info, err := os.Lstat(cur)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("illegal path in archive: %s passes through symlink %s", name, cur)
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	_ = os.Remove(target)
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(target, mode)
}

// Locate finds the source directory of a library inside dir. top, the
// directory reported by Expand, wins when it exists and matches glob;
// otherwise the glob is applied to dir. Several glob matches resolve to the
// lexically last one.
func Locate(dir, top, glob string) (string, error) {
	if top != "" {
		if ok, _ := filepath.Match(glob, top); ok {
			p := filepath.Join(dir, top)
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				return p, nil
			}
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return "", fmt.Errorf("bad source glob %q: %w", glob, err)
	}
	var found []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			found = append(found, m)
		}
	}
	if len(found) == 0 {
		return "", builderr.Structuralf("no source directory matching %s in %s", glob, dir)
	}
	sort.Strings(found)
	if len(found) > 1 {
		ui.Debugf("=> several directories match %s, using %s\n", glob, found[len(found)-1])
	}
	return found[len(found)-1], nil
}

// ErrUnknownFormat is returned by FormatOf for unrecognised names.
var ErrUnknownFormat = errors.New("unknown archive extension")

// FormatOf guesses the format from a file name.
func FormatOf(name string) (Format, error) {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.bz2", ".tbz2", ".tar.gz", ".tgz"} {
		if strings.HasSuffix(lower, ext) {
			return ParseFormat(ext)
		}
	}
	return 0, fmt.Errorf("%s: %w", name, ErrUnknownFormat)
}
