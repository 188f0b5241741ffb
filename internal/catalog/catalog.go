// Package catalog reads paginated catalog listings and classifies each entry
// by whether the account still needs to act on it.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/listfill/internal/browser"
	"github.com/xkilldash9x/listfill/internal/config"
	"github.com/xkilldash9x/listfill/internal/retry"
	"github.com/xkilldash9x/listfill/internal/site"
)

// Membership tells whether an entry is already in the account's list.
type Membership int

const (
	NotInList Membership = iota
	AlreadyInList
)

func (m Membership) String() string {
	if m == NotInList {
		return "not_in_list"
	}
	return "already_in_list"
}

// Entry is one catalog row.
type Entry struct {
	ID         int
	Title      string
	Membership Membership
	// Status is the normalized button label of an AlreadyInList entry.
	Status string
}

// Actionable reports whether the add action should run for the entry.
func (e Entry) Actionable() bool { return e.Membership == NotInList }

// Scanner fetches and parses catalog pages.
type Scanner struct {
	site *site.Site
	nav  browser.Navigator
	log  *zap.Logger
}

// NewScanner returns a Scanner navigating under policy.
func NewScanner(s *site.Site, nav browser.Navigator, policy retry.Policy, logger *zap.Logger) *Scanner {
	return &Scanner{site: s, nav: nav.WithPolicy(policy), log: logger.Named("catalog")}
}

// ScanPage loads the 1-based catalog page and returns its entries in page order.
func (s *Scanner) ScanPage(ctx context.Context, page browser.Page, pageIndex int) ([]Entry, error) {
	if pageIndex < 1 {
		return nil, fmt.Errorf("page index must be at least 1, got %d", pageIndex)
	}
	url := s.site.CatalogURL(s.site.OffsetForPage(pageIndex))
	log := s.log.With(zap.Int("page", pageIndex))
	log.Info("Scanning catalog page.", zap.String("url", url))

	if _, err := s.nav.Goto(ctx, page, url); err != nil {
		return nil, err
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading catalog page %d: %w", pageIndex, err)
	}
	entries, err := Parse(html, s.site.Selectors)
	if err != nil {
		return nil, fmt.Errorf("parsing catalog page %d: %w", pageIndex, err)
	}

	var done, todo []string
	for _, e := range entries {
		if e.Actionable() {
			todo = append(todo, fmt.Sprintf("%s (ID: %d)", e.Title, e.ID))
		} else {
			done = append(done, fmt.Sprintf("%s (ID: %d, Status: %s)", e.Title, e.ID, e.Status))
		}
	}
	if len(done) > 0 {
		log.Info("Already in list.", zap.Strings("entries", done))
	}
	log.Info("Entries to add.", zap.Int("count", len(todo)), zap.Strings("entries", todo))
	return entries, nil
}

// Parse extracts entries from a rendered catalog document. Rows lacking a
// title link, a status button or a positive id are skipped.
func Parse(html string, sel config.SelectorsConfig) ([]Entry, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	doc.Find(sel.CatalogRow).Each(func(_ int, row *goquery.Selection) {
		title := row.Find(sel.RowTitle).First()
		button := row.Find(sel.RowStatus).First()
		if title.Length() == 0 || button.Length() == 0 {
			return
		}
		href, _ := title.Attr("href")
		id, ok := site.EntryID(href)
		if !ok {
			return
		}

		membership, status := Classify(button.HasClass(sel.NotInListClass), button.Text(), sel.AddLabel)
		entries = append(entries, Entry{
			ID:         id,
			Title:      strings.TrimSpace(title.Text()),
			Membership: membership,
			Status:     status,
		})
	})
	return entries, nil
}

// Classify decides membership from the status button. An entry is NotInList
// only when the marker class is present and the label reads addLabel.
func Classify(hasMarker bool, label, addLabel string) (Membership, string) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	if hasMarker && normalized == strings.ToLower(addLabel) {
		return NotInList, ""
	}
	return AlreadyInList, normalized
}
