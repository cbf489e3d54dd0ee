// Package staging owns the on-disk layout under the staging root:
//
//	<root>/<archive>               downloaded archives (kept across runs)
//	<root>/<key>.log[.xz]          per-library build logs
//	<root>/<extracted source dir>  removed by Clean
//	<root>/atlasbuild              ATLAS out-of-tree build dir, removed by Clean
//	<root>/build/<lib>/<version>   install trees
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"nativedeps/internal/ui"
)

// BuildDirName is the one directory Clean never removes.
const BuildDirName = "build"

// Layout resolves paths under an absolute staging root.
type Layout struct {
	Root string
}

// New returns a Layout for root, made absolute so install prefixes handed
// to configure scripts stay valid whatever their working directory.
func New(root string) (Layout, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("staging root %s: %w", root, err)
	}
	return Layout{Root: abs}, nil
}

func (l Layout) Archive(name string) string { return filepath.Join(l.Root, name) }

func (l Layout) BuildRoot() string { return filepath.Join(l.Root, BuildDirName) }

// InstallDir is <root>/build/<lib>/<version>.
func (l Layout) InstallDir(lib, version string) string {
	return filepath.Join(l.BuildRoot(), lib, version)
}

func (l Layout) AtlasBuildDir() string { return filepath.Join(l.Root, "atlasbuild") }

func (l Layout) LogPath(key string) string { return filepath.Join(l.Root, key+".log") }

// Prepare creates the root and the build directory. Existing ones are fine.
func (l Layout) Prepare() error {
	if err := os.MkdirAll(l.Root, 0o755); err != nil {
		return err
	}
	return os.MkdirAll(l.BuildRoot(), 0o755)
}

// Clean removes every entry directly under the root that is not a regular
// file (after following symlinks), except the build directory. Cached
// archives and logs survive.
func (l Layout) Clean() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if e.Name() == BuildDirName {
			continue
		}
		path := filepath.Join(l.Root, e.Name())
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			continue
		}
		ui.Debugf("=> removing %s\n", path)
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", path, err)
		}
		removed = append(removed, path)
	}
	return removed, nil
}
