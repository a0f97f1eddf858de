package app

import (
	"context"
	"errors"

	"market-scanner/internal/catalog"
)

// CatalogSync refreshes the item list from the configured page and merges
// new items into the catalog file. It returns the number of items added.
func (a *App) CatalogSync(ctx context.Context) (int, error) {
	cfg := a.Config.Catalog
	if cfg.URL == "" {
		return 0, errors.New("catalog.url not configured")
	}

	current, err := catalog.LoadFile(cfg.File)
	if err != nil {
		return 0, err
	}

	scraper := catalog.NewScraper(catalog.ScraperOptions{
		URL:              cfg.URL,
		RowSelector:      cfg.RowSelector,
		IDAttr:           cfg.IDAttr,
		NameSelector:     cfg.NameSelector,
		CategorySelector: cfg.CategorySelector,
		Timeout:          cfg.Timeout,
		UserAgent:        cfg.UserAgent,
	}, a.Logger)

	items, err := scraper.Fetch(ctx)
	if err != nil {
		return 0, err
	}

	added := current.Merge(items)
	if err := current.Save(cfg.File); err != nil {
		return 0, err
	}
	a.Logger.Info().
		Int("fetched", len(items)).
		Int("added", added).
		Int("total", current.Len()).
		Str("file", cfg.File).
		Msg("catalog synced")
	return added, nil
}
