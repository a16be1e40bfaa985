package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Language is a voice reply language offered to guests.
type Language struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

// Category is a map quick filter: a canned search query.
type Category struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Icon  string `yaml:"icon" json:"icon"`
	Query string `yaml:"query" json:"query"`
}

// Catalog lists what the clients may offer. The first language is the
// default.
type Catalog struct {
	Languages  []Language `yaml:"languages" json:"languages"`
	Categories []Category `yaml:"categories" json:"categories"`
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Languages: []Language{
			{Code: "EN", Name: "English"},
			{Code: "KO", Name: "한국어"},
			{Code: "AR", Name: "العربية"},
			{Code: "BN", Name: "Bengali"},
			{Code: "HI", Name: "Hindi"},
			{Code: "UR", Name: "Urdu"},
			{Code: "RU", Name: "Russian"},
			{Code: "DE", Name: "German"},
			{Code: "FR", Name: "French"},
			{Code: "VI", Name: "Vietnamese"},
			{Code: "TH", Name: "Thai"},
			{Code: "JA", Name: "Japanese"},
			{Code: "ID", Name: "Indonesian"},
		},
		Categories: []Category{
			{ID: "hotels", Label: "Accommodations", Icon: "hotel", Query: "Luxury Hotels, Motels, Resorts, Camping spots in South Korea"},
			{ID: "halal", Label: "Halal & Prayer", Icon: "mosque", Query: "Halal restaurants, Muslim prayer mosque in South Korea"},
			{ID: "food", Label: "Dining & 24h", Icon: "restaurant", Query: "24 hours restaurants, Korean traditional food, best cafes in South Korea"},
			{ID: "medical", Label: "Health & Clinic", Icon: "local_hospital", Query: "Medical centers, clinics, emergency hospitals in South Korea"},
			{ID: "security", Label: "Police & Safety", Icon: "local_police", Query: "Police station, safety centers in South Korea"},
			{ID: "tourist", Label: "Tourist Spots", Icon: "map", Query: "Top tourist attractions, hidden gems, landmarks in South Korea"},
		},
	}
}

// LoadCatalog reads a YAML catalog. An empty path returns DefaultCatalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("config: parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that the catalog is usable.
func (c *Catalog) Validate() error {
	var errs []error
	if len(c.Languages) == 0 {
		errs = append(errs, errors.New("catalog: at least one language is required"))
	}
	codes := make(map[string]bool, len(c.Languages))
	for i, l := range c.Languages {
		if l.Code == "" || l.Name == "" {
			errs = append(errs, fmt.Errorf("catalog: languages[%d]: code and name are required", i))
		}
		key := strings.ToUpper(l.Code)
		if codes[key] {
			errs = append(errs, fmt.Errorf("catalog: duplicate language %q", l.Code))
		}
		codes[key] = true
	}
	ids := make(map[string]bool, len(c.Categories))
	for i, cat := range c.Categories {
		if cat.ID == "" || strings.TrimSpace(cat.Query) == "" {
			errs = append(errs, fmt.Errorf("catalog: categories[%d]: id and query are required", i))
		}
		if ids[cat.ID] {
			errs = append(errs, fmt.Errorf("catalog: duplicate category %q", cat.ID))
		}
		ids[cat.ID] = true
	}
	return errors.Join(errs...)
}

// LanguageName returns the display name for code, falling back to the
// default language for unknown codes.
func (c *Catalog) LanguageName(code string) string {
	for _, l := range c.Languages {
		if strings.EqualFold(l.Code, code) {
			return l.Name
		}
	}
	if len(c.Languages) > 0 {
		return c.Languages[0].Name
	}
	return "English"
}

// Category returns the category with id.
func (c *Catalog) Category(id string) (Category, bool) {
	for _, cat := range c.Categories {
		if cat.ID == id {
			return cat, true
		}
	}
	return Category{}, false
}
