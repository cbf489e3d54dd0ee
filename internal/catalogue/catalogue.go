// Package catalogue describes which libraries exist, where their sources
// come from and how their versions are derived.
package catalogue

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"nativedeps/internal/archive"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

// Adapters the library package knows how to plan.
var Adapters = []string{"autotools", "boost", "atlas", "ginac", "jsoncpp"}

// Catalogue is an ordered list of libraries. Order is build order.
type Catalogue struct {
	Libraries []LibrarySpec `yaml:"libraries"`
}

// LibrarySpec is one selectable library (one subtree of the task graph).
type LibrarySpec struct {
	Key     string   `yaml:"key"`
	Aliases []string `yaml:"aliases"`
	Adapter string   `yaml:"adapter"`
	Sources []Source `yaml:"sources"`
}

// Source is one downloadable archive.
type Source struct {
	// Library is the owning LibrarySpec key, filled in on load.
	Library string `yaml:"-"`

	Name    string `yaml:"name"`
	Archive string `yaml:"archive"`
	Format  string `yaml:"format"`

	// Exactly one of URL and Resolve is set.
	URL     string `yaml:"url"`
	Resolve *Index `yaml:"resolve"`
	// NameFrom discovers the archive file name when URL is a fixed
	// "latest" link that does not carry it.
	NameFrom *Index `yaml:"name_from"`

	Version   VersionRule `yaml:"version"`
	Dir       string      `yaml:"dir"`
	Configure []string    `yaml:"configure"`
	Install   string      `yaml:"install"`
}

// Index is a page to scrape and the hops to follow from it.
type Index struct {
	Page string `yaml:"index"`
	Hops []Hop  `yaml:"hops"`
}

// Hop selects one link on a page.
type Hop struct {
	// Selector is a CSS selector, default "a[href]".
	Selector string `yaml:"selector"`
	// Attr is the attribute to read, default "href"; "text" reads the element text.
	Attr string `yaml:"attr"`
	// Match is applied to the attribute value (resolved to an absolute
	// URL for href and src).
	Match string `yaml:"match"`
	// Text optionally filters on the element text.
	Text string `yaml:"text"`
	// Pick is "first" (default) or "highest".
	Pick string `yaml:"pick"`
}

// VersionRule turns an archive or directory name into a version.
type VersionRule struct {
	Prefix    string `yaml:"prefix"`
	Suffix    string `yaml:"suffix"`
	Separator string `yaml:"separator"`
	// From is "archive" (default) or "dir".
	From string `yaml:"from"`
}

// FromDir reports whether the version comes from the extracted directory.
func (v VersionRule) FromDir() bool { return v.From == "dir" }

// Default returns the built-in catalogue.
func Default() (*Catalogue, error) {
	return Parse(bytes.NewReader(defaultCatalogue))
}

// Load reads a catalogue file.
func Load(path string) (*Catalogue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates a catalogue.
func Parse(r io.Reader) (*Catalogue, error) {
	var c Catalogue
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}
	for i := range c.Libraries {
		lib := &c.Libraries[i]
		for j := range lib.Sources {
			lib.Sources[j].Library = lib.Key
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that keys are unique and that every source is usable.
func (c *Catalogue) Validate() error {
	if len(c.Libraries) == 0 {
		return errors.New("catalogue lists no libraries")
	}
	var errs []error
	seen := map[string]string{}
	claim := func(name, owner string) {
		name = strings.ToLower(name)
		if name == "all" {
			errs = append(errs, fmt.Errorf("%s: %q is reserved", owner, name))
			return
		}
		if prev, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%s: key %q already used by %s", owner, name, prev))
			return
		}
		seen[name] = owner
	}

	for _, lib := range c.Libraries {
		if lib.Key == "" {
			errs = append(errs, errors.New("library without key"))
			continue
		}
		claim(lib.Key, lib.Key)
		for _, a := range lib.Aliases {
			claim(a, lib.Key)
		}
		if !knownAdapter(lib.Adapter) {
			errs = append(errs, fmt.Errorf("%s: unknown adapter %q", lib.Key, lib.Adapter))
		}
		if len(lib.Sources) == 0 {
			errs = append(errs, fmt.Errorf("%s: no sources", lib.Key))
		}
		for _, src := range lib.Sources {
			if err := src.validate(); err != nil {
				errs = append(errs, fmt.Errorf("%s/%s: %w", lib.Key, src.Name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s Source) validate() error {
	if s.Name == "" || s.Archive == "" {
		return errors.New("name and archive are required")
	}
	if _, err := s.ArchiveFormat(); err != nil {
		return err
	}
	if (s.URL == "") == (s.Resolve == nil) {
		return errors.New("exactly one of url and resolve must be set")
	}
	for _, idx := range []*Index{s.Resolve, s.NameFrom} {
		if idx == nil {
			continue
		}
		if idx.Page == "" || len(idx.Hops) == 0 {
			return errors.New("index needs a page and at least one hop")
		}
		for _, h := range idx.Hops {
			if _, err := regexp.Compile(h.Match); err != nil {
				return fmt.Errorf("hop match: %w", err)
			}
			if _, err := regexp.Compile(h.Text); err != nil {
				return fmt.Errorf("hop text: %w", err)
			}
			switch h.Pick {
			case "", "first", "highest":
			default:
				return fmt.Errorf("unknown pick %q", h.Pick)
			}
		}
	}
	switch s.Version.From {
	case "", "archive", "dir":
	default:
		return fmt.Errorf("unknown version source %q", s.Version.From)
	}
	if s.Version.FromDir() && s.Dir == "" {
		return errors.New("version from dir needs a dir glob")
	}
	return nil
}

// ArchiveFormat is the declared format, or the one implied by the archive
// name when none is declared.
func (s Source) ArchiveFormat() (archive.Format, error) {
	if s.Format == "" {
		return archive.FormatOf(s.Archive)
	}
	return archive.ParseFormat(s.Format)
}

func knownAdapter(name string) bool {
	for _, a := range Adapters {
		if a == name {
			return true
		}
	}
	return false
}

// Lookup finds a library by key or alias, case-insensitively.
func (c *Catalogue) Lookup(key string) (*LibrarySpec, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for i := range c.Libraries {
		lib := &c.Libraries[i]
		if lib.Matches(key) {
			return lib, true
		}
	}
	return nil, false
}

// Matches reports whether key names this library.
func (l *LibrarySpec) Matches(key string) bool {
	key = strings.ToLower(key)
	if strings.ToLower(l.Key) == key {
		return true
	}
	for _, a := range l.Aliases {
		if strings.ToLower(a) == key {
			return true
		}
	}
	return false
}

// Source returns the named source of the library.
func (l *LibrarySpec) Source(name string) (Source, bool) {
	for _, s := range l.Sources {
		if s.Name == name {
			return s, true
		}
	}
	return Source{}, false
}
