// Package market holds the client-side view of marketplace assets and
// the read-only balance lookups the purchase UI needs before a buy.
package market

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

const catalogFileName = "assets.json"

// assetIDPattern: marketplace asset ids are "RH-" plus digits.
var (
	assetIDPattern = regexp.MustCompile(`^RH-\d+$`)
	digitsPattern  = regexp.MustCompile(`(\d+)`)
)

// NormalizeAssetID maps user- and URL-sourced spellings onto the
// canonical "RH-<n>" form: bare digits get the prefix, anything with an
// embedded number is reduced to it.
func NormalizeAssetID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty asset id")
	}
	if assetIDPattern.MatchString(s) {
		return s, nil
	}
	if m := digitsPattern.FindString(s); m != "" {
		return "RH-" + m, nil
	}
	return "", fmt.Errorf("unrecognized asset id %q", raw)
}

// Asset is one listed marketplace asset.
type Asset struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Symbol    string          `json:"symbol"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	TokenMint string          `json:"token_mint,omitempty"`
}

// DefaultAssets seeds a fresh catalog so the UI has something to show
// before the first refresh from the marketplace.
func DefaultAssets() []Asset {
	return []Asset{
		{ID: "RH-1001", Name: "Downtown Office Tower Shares", Symbol: "DOTS", UnitPrice: decimal.NewFromFloat(25.00)},
		{ID: "RH-1002", Name: "Solar Farm Revenue Notes", Symbol: "SFRN", UnitPrice: decimal.NewFromFloat(10.50)},
		{ID: "RH-1003", Name: "Vintage Wine Collection Units", Symbol: "VWCU", UnitPrice: decimal.NewFromFloat(62.75)},
	}
}

// Catalog is the locally cached asset list. Prices here are display
// hints only; the settlement service is authoritative for trade terms.
type Catalog struct {
	mu     sync.Mutex
	path   string
	assets map[string]Asset
}

// NewCatalog loads assets.json from dir, seeding it from defaults when
// the file does not exist yet.
func NewCatalog(dir string, defaults []Asset) (*Catalog, error) {
	c := &Catalog{
		path:   filepath.Join(dir, catalogFileName),
		assets: map[string]Asset{},
	}

	b, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		for _, a := range defaults {
			id, err := NormalizeAssetID(a.ID)
			if err != nil {
				return nil, fmt.Errorf("default asset: %w", err)
			}
			a.ID = id
			c.assets[id] = a
		}
		if err := c.persistLocked(); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read asset catalog: %w", err)
	default:
		var stored []Asset
		if err := json.Unmarshal(b, &stored); err != nil {
			return nil, fmt.Errorf("unmarshal asset catalog: %w", err)
		}
		for _, a := range stored {
			id, err := NormalizeAssetID(a.ID)
			if err != nil {
				return nil, fmt.Errorf("stored asset: %w", err)
			}
			a.ID = id
			c.assets[id] = a
		}
	}
	return c, nil
}

// Get looks an asset up by any accepted id spelling.
func (c *Catalog) Get(rawID string) (Asset, bool) {
	id, err := NormalizeAssetID(rawID)
	if err != nil {
		return Asset{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assets[id]
	return a, ok
}

// List returns all assets, id-sorted order not guaranteed.
func (c *Catalog) List() []Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Asset, 0, len(c.assets))
	for _, a := range c.assets {
		out = append(out, a)
	}
	return out
}

// Put inserts or replaces an asset and persists the catalog.
func (c *Catalog) Put(a Asset) error {
	id, err := NormalizeAssetID(a.ID)
	if err != nil {
		return err
	}
	a.ID = id

	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets[id] = a
	return c.persistLocked()
}

func (c *Catalog) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("mkdir for asset catalog: %w", err)
	}
	out := make([]Asset, 0, len(c.assets))
	for _, a := range c.assets {
		out = append(out, a)
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal asset catalog: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), ".assets-*")
	if err != nil {
		return fmt.Errorf("create temp asset catalog: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write asset catalog: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod asset catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close asset catalog: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		return fmt.Errorf("replace asset catalog: %w", err)
	}
	return nil
}
