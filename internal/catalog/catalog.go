// Package catalog maps market item identifiers to display names.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"market-scanner/internal/market"
)

// MinSimilarity is the Jaro-Winkler score Canonical requires for a match.
const MinSimilarity = 0.9

// Item is one catalog entry.
type Item struct {
	ID       uint32 `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category,omitempty"`
}

type fileFormat struct {
	Items []Item `yaml:"items"`
}

// Catalog is safe for concurrent use.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[uint32]Item
	byName map[string]uint32
}

// New builds a catalog. Later duplicates of an id win.
func New(items []Item) *Catalog {
	c := &Catalog{byID: make(map[uint32]Item), byName: make(map[string]uint32)}
	c.Merge(items)
	return c
}

// LoadFile reads a YAML catalog. A missing file yields an empty catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return New(f.Items), nil
}

// Save writes the catalog sorted by id, replacing path atomically.
func (c *Catalog) Save(path string) error {
	data, err := yaml.Marshal(fileFormat{Items: c.Items()})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalog dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

// Merge adds or replaces items and returns how many ids were new.
func (c *Catalog) Merge(items []Item) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			continue
		}
		if old, ok := c.byID[it.ID]; ok {
			delete(c.byName, normalize(old.Name))
		} else {
			added++
		}
		c.byID[it.ID] = it
		c.byName[normalize(it.Name)] = it.ID
	}
	return added
}

// Items returns every entry ordered by id.
func (c *Catalog) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Item, 0, len(c.byID))
	for _, it := range c.byID {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len is the number of entries.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// ResolveItemName implements market.NameResolver.
func (c *Catalog) ResolveItemName(_ context.Context, id uint32) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.byID[id]
	return it.Name, ok, nil
}

// Lookup finds an item by exact, case-insensitive name.
func (c *Catalog) Lookup(name string) (Item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byName[normalize(name)]
	if !ok {
		return Item{}, false
	}
	return c.byID[id], true
}

// Canonical returns the catalog name closest to name and its similarity.
func (c *Catalog) Canonical(name string) (string, float64, bool) {
	if it, ok := c.Lookup(name); ok {
		return it.Name, 1, true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	target := normalize(name)
	var best string
	var bestScore float64
	for known, id := range c.byName {
		score := matchr.JaroWinkler(target, known, false)
		if score > bestScore {
			bestScore = score
			best = c.byID[id].Name
		}
	}
	if bestScore < MinSimilarity {
		return "", bestScore, false
	}
	return best, bestScore, true
}

func normalize(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

var _ market.NameResolver = (*Catalog)(nil)
