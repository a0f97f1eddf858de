package catalog

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"market-scanner/internal/version"
)

// ScraperOptions describe where the item list lives and how to read it.
type ScraperOptions struct {
	URL string
	// RowSelector matches one element per item.
	RowSelector string
	// IDAttr is the row attribute holding the numeric item id.
	IDAttr string
	// NameSelector finds the name inside a row; empty uses the row text.
	NameSelector string
	// CategorySelector finds the category inside a row; optional.
	CategorySelector string
	Timeout          time.Duration
	UserAgent        string
}

// Scraper downloads the marketable item list from an HTML page.
type Scraper struct {
	opts   ScraperOptions
	client *resty.Client
	logger zerolog.Logger
}

// NewScraper constructs a scraper.
func NewScraper(opts ScraperOptions, logger zerolog.Logger) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RowSelector == "" {
		opts.RowSelector = "tr[data-item-id]"
	}
	if opts.IDAttr == "" {
		opts.IDAttr = "data-item-id"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = version.UserAgent()
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "text/html")

	return &Scraper{
		opts:   opts,
		client: client,
		logger: logger.With().Str("component", "catalog_scraper").Logger(),
	}
}

// Fetch downloads and parses the item list.
func (s *Scraper) Fetch(ctx context.Context) ([]Item, error) {
	if s.opts.URL == "" {
		return nil, fmt.Errorf("catalog.url is required")
	}

	res, err := s.client.R().SetContext(ctx).Get(s.opts.URL)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog page: %w", err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("catalog page returned %d", res.StatusCode())
	}

	items, err := s.Parse(res.Body())
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("url", s.opts.URL).Int("items", len(items)).Msg("Catalog page scraped")
	return items, nil
}

// Parse extracts items from an HTML document. Rows without a numeric id or a
// name are skipped.
func (s *Scraper) Parse(body []byte) ([]Item, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("parse catalog html: %w", err)
	}

	var items []Item
	skipped := 0
	doc.Find(s.opts.RowSelector).Each(func(_ int, row *goquery.Selection) {
		id, err := strconv.ParseUint(strings.TrimSpace(row.AttrOr(s.opts.IDAttr, "")), 10, 32)
		if err != nil {
			skipped++
			return
		}

		nameSel := row
		if s.opts.NameSelector != "" {
			nameSel = row.Find(s.opts.NameSelector).First()
		}
		name := strings.Join(strings.Fields(nameSel.Text()), " ")
		if name == "" {
			skipped++
			return
		}

		it := Item{ID: uint32(id), Name: name}
		if s.opts.CategorySelector != "" {
			it.Category = strings.TrimSpace(row.Find(s.opts.CategorySelector).First().Text())
		}
		items = append(items, it)
	})

	if skipped > 0 {
		s.logger.Debug().Int("skipped", skipped).Msg("Skipped catalog rows")
	}
	return items, nil
}
