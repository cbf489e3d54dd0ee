// Package resolve finds the download URL and version of a source archive.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"nativedeps/internal/builderr"
	"nativedeps/internal/catalogue"
)

// Resolution is where to download a source from and which version it is.
type Resolution struct {
	URL string
	// Filename is the archive name as published, used for version derivation.
	// It is independent of the local archive name.
	Filename string
	// Version is empty when the version comes from the extracted directory.
	Version string
}

// Resolver turns a catalogue source into a Resolution.
type Resolver interface {
	Resolve(ctx context.Context, src catalogue.Source) (Resolution, error)
}

// ErrNoVersion is wrapped when a name does not fit a version rule.
var ErrNoVersion = errors.New("name does not match version rule")

// ArchiveName returns the last path segment of rawURL, skipping a trailing
// "download" segment as used by SourceForge. Query and fragment are dropped.
func ArchiveName(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	p = strings.TrimRight(p, "/")
	if path.Base(p) == "download" {
		p = path.Dir(p)
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// VersionFromName strips the rule's prefix and suffix from name and applies
// its separator normalization ("1_50_0" -> "1.50.0").
func VersionFromName(name string, rule catalogue.VersionRule) (string, error) {
	v, ok := strings.CutPrefix(name, rule.Prefix)
	if !ok {
		return "", fmt.Errorf("%q lacks prefix %q: %w", name, rule.Prefix, ErrNoVersion)
	}
	if v, ok = strings.CutSuffix(v, rule.Suffix); !ok {
		return "", fmt.Errorf("%q lacks suffix %q: %w", name, rule.Suffix, ErrNoVersion)
	}
	if rule.Separator != "" && rule.Separator != "." {
		v = strings.ReplaceAll(v, rule.Separator, ".")
	}
	if v == "" {
		return "", fmt.Errorf("%q has an empty version: %w", name, ErrNoVersion)
	}
	return v, nil
}

// Static resolves sources from a fixed table, falling back to the source's
// own URL. Tests use it to avoid the network.
type Static map[string]Resolution

func (s Static) Resolve(_ context.Context, src catalogue.Source) (Resolution, error) {
	if r, ok := s[src.Library+"/"+src.Name]; ok {
		return r, nil
	}
	if src.URL == "" {
		return Resolution{}, &builderr.ResolutionError{Library: src.Library, Err: fmt.Errorf("no static entry for %s", src.Name)}
	}
	res := Resolution{URL: src.URL, Filename: ArchiveName(src.URL)}
	if !src.Version.FromDir() {
		v, err := VersionFromName(res.Filename, src.Version)
		if err != nil {
			return Resolution{}, &builderr.ResolutionError{Library: src.Library, Page: src.URL, Err: err}
		}
		res.Version = v
	}
	return res, nil
}
