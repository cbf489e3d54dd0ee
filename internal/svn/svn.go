// Package svn exports a directory tree from a Subversion server over plain
// WebDAV, without a working copy or the svn client.
package svn

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"nativedeps/internal/ui"
)

// MaxConcurrency bounds parallel file downloads.
const MaxConcurrency = 8

const userAgent = "nativedeps/svn (Go)"

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<propfind xmlns="DAV:">
  <prop>
    <resourcetype/>
    <getcontentlength/>
  </prop>
</propfind>`

// entry is a single resource discovered via PROPFIND.
type entry struct {
	Href         string
	IsCollection bool
}

type multistatus struct {
	XMLName   xml.Name   `xml:"multistatus"`
	Responses []response `xml:"response"`
}

type response struct {
	Href      string     `xml:"href"`
	PropStats []propStat `xml:"propstat"`
}

type propStat struct {
	Prop struct {
		ResourceType struct {
			Collection *struct{} `xml:"collection"`
		} `xml:"resourcetype"`
	} `xml:"prop"`
	Status string `xml:"status"`
}

type file struct {
	remote string
	local  string
}

// Export copies the tree at rawURL (HEAD revision) into dest.
func Export(ctx context.Context, client *http.Client, rawURL, dest string) error {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(strings.TrimPrefix(rawURL, "svn+"))
	if err != nil {
		return fmt.Errorf("invalid SVN URL: %w", err)
	}
	base := &url.URL{Scheme: u.Scheme, Host: u.Host, User: u.User}

	var files []file
	var walk func(dir, local string) error
	walk = func(dir, local string) error {
		if err := os.MkdirAll(local, 0o755); err != nil {
			return err
		}
		entries, err := propfind(ctx, client, base, dir)
		if err != nil {
			return err
		}
		self := strings.TrimSuffix(dir, "/")
		for _, e := range entries {
			p := hrefPath(e.Href)
			if strings.TrimSuffix(p, "/") == self {
				continue
			}
			name := path.Base(strings.TrimSuffix(p, "/"))
			if name == "" || name == "." || name == ".." || name == "/" {
				continue
			}
			if e.IsCollection {
				if err := walk(p, filepath.Join(local, name)); err != nil {
					return err
				}
				continue
			}
			files = append(files, file{remote: p, local: filepath.Join(local, name)})
		}
		return nil
	}

	if err := walk(u.Path, dest); err != nil {
		return fmt.Errorf("failed to walk SVN tree: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found in SVN path %s", u.Path)
	}
	ui.Debugf("SVN: Found %d files to download\n", len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrency)
	var downloaded atomic.Int64
	for _, f := range files {
		f := f
		g.Go(func() error {
			if err := get(gctx, client, base, f.remote, f.local); err != nil {
				return fmt.Errorf("%s: %w", f.remote, err)
			}
			if n := downloaded.Add(1); n%50 == 0 {
				ui.Debugf("SVN: Downloaded %d/%d files...\n", n, len(files))
			}
			return nil
		})
	}
	return g.Wait()
}

// at returns base with its path replaced by p.
func at(base *url.URL, p string) string {
	u := *base
	u.Path = p
	return u.String()
}

// hrefPath strips scheme and host from an href and unescapes it.
func hrefPath(href string) string {
	if u, err := url.Parse(href); err == nil {
		return u.Path
	}
	return href
}

func propfind(ctx context.Context, client *http.Client, base *url.URL, dir string) ([]entry, error) {
	target := at(base, dir)
	req, err := http.NewRequestWithContext(ctx, "PROPFIND", target, strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create PROPFIND request: %w", err)
	}
	req.Header.Set("Depth", "1")
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PROPFIND request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, fmt.Errorf("PROPFIND returned status %d for %s", resp.StatusCode, target)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to parse PROPFIND XML: %w", err)
	}

	entries := make([]entry, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		e := entry{Href: r.Href}
		for _, ps := range r.PropStats {
			if strings.Contains(ps.Status, "200") && ps.Prop.ResourceType.Collection != nil {
				e.IsCollection = true
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func get(ctx context.Context, client *http.Client, base *url.URL, remote, local string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, at(base, remote), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return err
	}
	out, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(local)
		return err
	}
	return out.Close()
}
