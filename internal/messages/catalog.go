// Package messages resolves user-facing login messages by key and locale.
package messages

import (
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Keys looked up by the authenticator.
const (
	KeyBadCredentials   = "bad-credentials"
	KeyAccountDisabled  = "account-disabled"
	KeyAccountLocked    = "account-locked"
	KeyAccountExpired   = "account-expired"
	KeyStoreUnavailable = "store-unavailable"
)

//go:embed default.yaml
var defaultCatalog []byte

// Source looks up a message. Implementations must not fail: a missing
// translation resolves to the key itself.
type Source interface {
	Lookup(key string, tag language.Tag) string
}

// Catalog is an immutable, YAML-backed Source.
type Catalog struct {
	tags     []language.Tag
	entries  []map[string]string
	matcher  language.Matcher
	fallback int
}

// Default returns the embedded catalog with English as fallback.
func Default() *Catalog {
	c, err := Parse(defaultCatalog, language.English)
	if err != nil {
		panic(fmt.Sprintf("messages: embedded catalog: %v", err))
	}
	return c
}

// LoadFile reads a catalog from a YAML file.
func LoadFile(path string, fallback language.Tag) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, fallback)
}

// Parse builds a catalog from YAML of the form {locale: {key: text}}.
func Parse(data []byte, fallback language.Tag) (*Catalog, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	locales := make([]string, 0, len(raw))
	for loc := range raw {
		locales = append(locales, loc)
	}
	sort.Strings(locales)

	c := &Catalog{fallback: -1}
	for _, loc := range locales {
		tag, err := language.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("catalog locale %q: %w", loc, err)
		}
		if tag == fallback {
			c.fallback = len(c.tags)
		}
		c.tags = append(c.tags, tag)
		c.entries = append(c.entries, raw[loc])
	}
	if len(c.tags) == 0 {
		return c, nil
	}
	if c.fallback < 0 {
		c.fallback = 0
	}
	// The matcher treats its first tag as the default.
	ordered := make([]language.Tag, 0, len(c.tags))
	ordered = append(ordered, c.tags[c.fallback])
	for i, t := range c.tags {
		if i != c.fallback {
			ordered = append(ordered, t)
		}
	}
	c.matcher = language.NewMatcher(ordered)
	return c, nil
}

// Locales lists the catalog's locales in sorted order.
func (c *Catalog) Locales() []language.Tag {
	out := make([]language.Tag, len(c.tags))
	copy(out, c.tags)
	return out
}

func (c *Catalog) Lookup(key string, tag language.Tag) string {
	if c == nil || len(c.tags) == 0 {
		return key
	}
	idx := c.fallback
	if tag != language.Und {
		matched, _, conf := c.matcher.Match(tag)
		if conf != language.No {
			idx = c.indexOf(matched)
		}
	}
	if idx >= 0 {
		if msg, ok := c.entries[idx][key]; ok && msg != "" {
			return msg
		}
	}
	if msg, ok := c.entries[c.fallback][key]; ok && msg != "" {
		return msg
	}
	return key
}

func (c *Catalog) indexOf(tag language.Tag) int {
	for i, t := range c.tags {
		if t == tag {
			return i
		}
	}
	// Matched tags may carry extensions such as -u-rg; compare on base language.
	base, _ := tag.Base()
	for i, t := range c.tags {
		if b, _ := t.Base(); b == base {
			return i
		}
	}
	return c.fallback
}
