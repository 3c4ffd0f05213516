package dashboard

import (
	"embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

// Translator maps fixed English keys to display strings.
type Translator interface {
	Translate(key string) string
}

// Catalog is a Translator backed by a key/value table. Unknown keys translate to themselves.
type Catalog map[string]string

func (c Catalog) Translate(key string) string {
	if s, ok := c[key]; ok && s != "" {
		return s
	}
	return key
}

// ParseCatalog reads a flat YAML mapping of key: translation.
func ParseCatalog(data []byte) (Catalog, error) {
	c := Catalog{}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return c, nil
}

// LoadCatalog returns the built-in catalog for lang ("en", "es").
func LoadCatalog(lang string) (Catalog, error) {
	data, err := locales.ReadFile("locales/" + lang + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no catalog for language %q", lang)
	}
	return ParseCatalog(data)
}
