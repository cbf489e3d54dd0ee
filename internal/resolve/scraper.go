package resolve

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/mod/semver"

	"nativedeps/internal/builderr"
	"nativedeps/internal/catalogue"
	"nativedeps/internal/ui"
)

// Scraper resolves sources by reading their index pages.
type Scraper struct {
	Client *http.Client
}

// NewScraper returns a Scraper using client (http.DefaultClient when nil).
func NewScraper(client *http.Client) *Scraper {
	if client == nil {
		client = http.DefaultClient
	}
	return &Scraper{Client: client}
}

// Resolve follows src.Resolve from its index page, or uses src.URL and
// src.NameFrom for fixed "latest" links.
func (s *Scraper) Resolve(ctx context.Context, src catalogue.Source) (Resolution, error) {
	var res Resolution
	switch {
	case src.Resolve != nil:
		link, err := s.follow(ctx, src.Library, src.Resolve, src.Version)
		if err != nil {
			return Resolution{}, err
		}
		res = Resolution{URL: link, Filename: ArchiveName(link)}
	default:
		res = Resolution{URL: src.URL, Filename: ArchiveName(src.URL)}
		if src.NameFrom != nil {
			name, err := s.follow(ctx, src.Library, src.NameFrom, src.Version)
			if err != nil {
				return Resolution{}, err
			}
			res.Filename = ArchiveName(name)
		}
	}

	if src.Version.FromDir() {
		return res, nil
	}
	v, err := VersionFromName(res.Filename, src.Version)
	if err != nil {
		return Resolution{}, &builderr.ResolutionError{Library: src.Library, Page: res.URL, Err: err}
	}
	res.Version = v
	ui.Debugf("=> %s/%s resolved to %s (%s)\n", src.Library, src.Name, res.URL, v)
	return res, nil
}

// follow applies the hops of idx in turn; each hop's result is the next page.
// rule ranks candidates for hops that pick the highest version.
func (s *Scraper) follow(ctx context.Context, lib string, idx *catalogue.Index, rule catalogue.VersionRule) (string, error) {
	page := idx.Page
	var value string
	for i, hop := range idx.Hops {
		doc, base, err := s.fetch(ctx, page)
		if err != nil {
			return "", &builderr.ResolutionError{Library: lib, Page: page, Err: err}
		}
		value, err = applyHop(doc, base, hop, rule)
		if err != nil {
			return "", &builderr.ResolutionError{Library: lib, Page: page, Pattern: hop.Match, Err: err}
		}
		if i < len(idx.Hops)-1 {
			page = value
		}
	}
	return value, nil
}

func (s *Scraper) fetch(ctx context.Context, page string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("index page returned %s", resp.Status)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse index page: %w", err)
	}
	// relative links resolve against the final URL after redirects
	return doc, resp.Request.URL, nil
}

type candidate struct {
	value string
	key   string
}

func applyHop(doc *goquery.Document, base *url.URL, hop catalogue.Hop, rule catalogue.VersionRule) (string, error) {
	selector := hop.Selector
	if selector == "" {
		selector = "a[href]"
	}
	attr := hop.Attr
	if attr == "" {
		attr = "href"
	}
	match, err := regexp.Compile(hop.Match)
	if err != nil {
		return "", err
	}
	var text *regexp.Regexp
	if hop.Text != "" {
		if text, err = regexp.Compile(hop.Text); err != nil {
			return "", err
		}
	}

	var found []candidate
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		label := strings.TrimSpace(sel.Text())
		var value string
		if attr == "text" {
			value = label
		} else {
			v, ok := sel.Attr(attr)
			if !ok {
				return
			}
			value = strings.TrimSpace(v)
			if attr == "href" || attr == "src" {
				ref, err := url.Parse(value)
				if err != nil {
					return
				}
				value = base.ResolveReference(ref).String()
			}
		}
		if text != nil && !text.MatchString(label) {
			return
		}
		m := match.FindStringSubmatch(value)
		if m == nil {
			return
		}
		key := versionKey(value, rule)
		if len(m) > 1 {
			key = m[1]
		}
		found = append(found, candidate{value: value, key: key})
	})

	if len(found) == 0 {
		return "", fmt.Errorf("no %s matched", selector)
	}
	if hop.Pick == "highest" {
		sort.SliceStable(found, func(i, j int) bool {
			return semver.Compare(semverOf(found[i].key), semverOf(found[j].key)) > 0
		})
	}
	return found[0].value, nil
}

// versionKey is the version a candidate carries: its archive name under the
// source's version rule, or the bare archive name when the rule does not fit.
func versionKey(value string, rule catalogue.VersionRule) string {
	name := ArchiveName(value)
	if v, err := VersionFromName(name, rule); err == nil {
		return v
	}
	return name
}

var versionRe = regexp.MustCompile(`\d+(?:[._]\d+)*`)

// semverOf extracts the first dotted number run of s as a semver string.
// Unparseable strings become "" which semver sorts below every valid version.
func semverOf(s string) string {
	m := versionRe.FindString(s)
	if m == "" {
		return ""
	}
	parts := strings.FieldsFunc(m, func(r rune) bool { return r == '.' || r == '_' })
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for i, p := range parts {
		if t := strings.TrimLeft(p, "0"); t != "" {
			parts[i] = t
		} else {
			parts[i] = "0"
		}
	}
	v := "v" + strings.Join(parts, ".")
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
