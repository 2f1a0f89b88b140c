package config

import (
	"fmt"
	"sync"
)

// Catalog is the runtime view of the configured practice languages. It is
// built from the Languages section of a [Config] and supports atomic
// replacement on hot reload.
type Catalog struct {
	mu      sync.RWMutex
	byCode  map[string]LanguageConfig
	ordered []LanguageConfig
	def     LanguageConfig
}

// NewCatalog builds a Catalog from the given language entries. The entry
// marked Default becomes the fallback; if none is marked, the first entry is
// used. At least one entry is required.
func NewCatalog(langs []LanguageConfig) (*Catalog, error) {
	if len(langs) == 0 {
		return nil, fmt.Errorf("config: language catalog requires at least one language")
	}

	c := &Catalog{
		byCode:  make(map[string]LanguageConfig, len(langs)),
		ordered: make([]LanguageConfig, len(langs)),
	}
	copy(c.ordered, langs)

	def := langs[0]
	for _, l := range langs {
		c.byCode[l.Code] = l
		if l.Default {
			def = l
		}
	}
	c.def = def
	return c, nil
}

// Resolve maps a requested language code to its catalog entry.
//
// An empty code resolves to the default language. A non-empty code that is
// not in the catalog is an error — it is never silently replaced by the
// default, so a client asking for an unsupported language finds out rather
// than practising the wrong one.
func (c *Catalog) Resolve(code string) (LanguageConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if code == "" {
		return c.def, nil
	}
	l, ok := c.byCode[code]
	if !ok {
		return LanguageConfig{}, fmt.Errorf("config: language %q is not configured", code)
	}
	return l, nil
}

// Default returns the fallback language entry.
func (c *Catalog) Default() LanguageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.def
}

// All returns the configured languages in declaration order.
func (c *Catalog) All() []LanguageConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LanguageConfig, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Replace swaps the catalog contents for a new language list. Used by the
// config watcher on hot reload. Sessions already running keep the language
// they resolved at creation; only new sessions see the update.
func (c *Catalog) Replace(langs []LanguageConfig) error {
	fresh, err := NewCatalog(langs)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byCode = fresh.byCode
	c.ordered = fresh.ordered
	c.def = fresh.def
	return nil
}
