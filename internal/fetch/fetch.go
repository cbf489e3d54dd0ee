// Package fetch downloads source archives into the staging root.
//
// A download is skipped whenever its destination already exists. That check
// is by presence only unless Verify is set, in which case a BLAKE3 sidecar
// written after each completed download must also match.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"lukechampine.com/blake3"

	"nativedeps/internal/builderr"
	"nativedeps/internal/ui"
)

// Fetcher downloads URLs to local paths.
type Fetcher struct {
	Client *http.Client
	// Verify enables the checksum sidecar.
	Verify bool
	// Progress draws a progress bar on stderr.
	Progress bool

	locks sync.Map // dest -> *sync.Mutex
}

// New returns a Fetcher that shows progress only when stderr is a terminal.
func New(client *http.Client, verify bool) *Fetcher {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Fetcher{
		Client:   client,
		Verify:   verify,
		Progress: ui.IsTerminal(os.Stderr),
	}
}

// Fetch downloads url to dest unless dest is already present. fetched
// reports whether network I/O happened.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string) (fetched bool, err error) {
	if f.present(dest) {
		ui.Debugf("=> %s already present, skipping download\n", dest)
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return false, &builderr.IOError{Op: "download", Path: dest, Err: err}
	}

	mu, _ := f.locks.LoadOrStore(dest, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	lock := dest + ".lock"
	unlock, err := lockPath(lock)
	if err != nil {
		return false, &builderr.IOError{Op: "lock", Path: lock, Err: err}
	}
	defer unlock()

	// another goroutine or process may have finished while we waited
	if f.present(dest) {
		_ = os.Remove(lock)
		return false, nil
	}

	if err := f.download(ctx, url, dest); err != nil {
		_ = os.Remove(dest)
		if ctx.Err() != nil {
			return false, err
		}
		return false, &builderr.IOError{Op: "download", Path: url, Err: err}
	}
	_ = os.Remove(lock)
	return true, nil
}

func (f *Fetcher) present(dest string) bool {
	info, err := os.Stat(dest)
	if err != nil {
		return false
	}
	if !f.Verify {
		return true
	}
	if info.Mode().IsRegular() && sidecarMatches(dest) {
		return true
	}
	ui.Println(ui.Warn, fmt.Sprintf("%s has no matching checksum, downloading again", filepath.Base(dest)))
	if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
		ui.Debugf("=> remove %s: %v\n", dest, err)
	}
	return false
}

func (f *Fetcher) download(ctx context.Context, url, dest string) error {
	ui.Debugf("Downloading %s -> %s\n", url, dest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	var (
		w      io.Writer = out
		hasher hash.Hash
		bar    *progressbar.ProgressBar
	)
	if f.Verify {
		hasher = blake3.New(32, nil)
		w = io.MultiWriter(w, hasher)
	}
	if f.Progress {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(filepath.Base(dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		w = io.MultiWriter(w, bar)
	}

	_, err = io.Copy(w, resp.Body)
	if bar != nil {
		_ = bar.Finish()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write to destination file: %w", err)
	}

	if hasher != nil {
		return writeSidecar(dest, fmt.Sprintf("%x", hasher.Sum(nil)))
	}
	return nil
}
