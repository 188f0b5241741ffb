// Package site describes the remote catalog site: where its pages live, how
// to recognize the URL shapes the automation reacts to, and the selectors
// used to read and drive its DOM.
package site

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/listfill/internal/config"
)

var entryIDPattern = regexp.MustCompile(`anime/(\d+)`)

// Site is an immutable view of config.SiteConfig with URL builders and predicates.
type Site struct {
	base      *url.URL
	cfg       config.SiteConfig
	Selectors config.SelectorsConfig
}

// New builds a Site from configuration.
func New(cfg config.SiteConfig) (*Site, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	return &Site{base: base, cfg: cfg, Selectors: cfg.Selectors}, nil
}

// PageSize is the number of entries per catalog page.
func (s *Site) PageSize() int { return s.cfg.PageSize }

func (s *Site) resolve(pathAndQuery string) string {
	ref, err := url.Parse(pathAndQuery)
	if err != nil {
		return s.base.String() + pathAndQuery
	}
	return s.base.ResolveReference(ref).String()
}

// LoginURL is the login surface.
func (s *Site) LoginURL() string { return s.resolve(s.cfg.LoginPath) }

// ProtectedURL is the page used to probe session validity.
func (s *Site) ProtectedURL() string { return s.resolve(s.cfg.ProtectedPath) }

// CatalogURL returns the catalog page starting at offset.
func (s *Site) CatalogURL(offset int) string {
	u, err := url.Parse(s.resolve(s.cfg.CatalogPath))
	if err != nil {
		return s.resolve(s.cfg.CatalogPath)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(offset))
	u.RawQuery = q.Encode()
	return u.String()
}

// OffsetForPage maps a 1-based page index to its catalog offset.
func (s *Site) OffsetForPage(pageIndex int) int {
	if pageIndex < 1 {
		pageIndex = 1
	}
	return (pageIndex - 1) * s.cfg.PageSize
}

// AddURL returns the add-action dialog URL for an entry.
func (s *Site) AddURL(entryID int) string {
	u, err := url.Parse(s.resolve(s.cfg.AddPath))
	if err != nil {
		return s.resolve(s.cfg.AddPath)
	}
	q := u.Query()
	q.Set("selected_series_id", strconv.Itoa(entryID))
	q.Set("hideLayout", "1")
	q.Set("click_type", "anime_ranking")
	u.RawQuery = q.Encode()
	return u.String()
}

// IsLoginRedirect reports whether the browser landed on the login surface.
func (s *Site) IsLoginRedirect(finalURL string) bool {
	return strings.Contains(finalURL, s.cfg.LoginMarker)
}

// IsAlreadyAppliedRedirect reports whether the add URL bounced to the edit
// dialog, meaning the entry is already in the list.
func (s *Site) IsAlreadyAppliedRedirect(finalURL string) bool {
	return strings.Contains(finalURL, s.cfg.EditMarker)
}

// IsExpectedAddPath reports whether the browser is on the add dialog.
func (s *Site) IsExpectedAddPath(finalURL string) bool {
	return strings.Contains(finalURL, s.cfg.AddMarker)
}

// EntryID extracts the positive numeric id from a title link href.
func EntryID(href string) (int, bool) {
	m := entryIDPattern.FindStringSubmatch(href)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
