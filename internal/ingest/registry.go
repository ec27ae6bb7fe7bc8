package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all data sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// FetchConfig defines HTTP fetching configuration for a source.
type FetchConfig struct {
	Engine         string  `yaml:"engine,omitempty"`          // "http" (default) or "colly"
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // Default: 30
	MaxRetries     int     `yaml:"max_retries,omitempty"`     // Default: 3
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // Requests per second, default: 1.0
	ProxyURL       string  `yaml:"proxy_url,omitempty"`
	AcceptLanguage string  `yaml:"accept_language,omitempty"` // e.g. "fr-FR,fr;q=0.9,en;q=0.5"
}

// SourceConfig defines a single data source for ingestion.
type SourceConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Strategy    string `yaml:"strategy"` // "html_listing", "opendatasoft", "link_heuristic", "wordpress_rest"
	BaseURL     string `yaml:"base_url"`
	ListingURL  string `yaml:"listing_url,omitempty"`
	Active      bool   `yaml:"active"`
	MaxPages    int    `yaml:"max_pages,omitempty"`
	MaxRecords  int    `yaml:"max_records,omitempty"`
	Description string `yaml:"description,omitempty"`

	Defaults SourceDefaults `yaml:"defaults,omitempty"`
	Fetch    FetchConfig    `yaml:"fetch,omitempty"`

	// html_listing
	Selectors  SelectorConfig   `yaml:"selectors,omitempty"`
	Pagination PaginationConfig `yaml:"pagination,omitempty"`
	Detail     DetailConfig     `yaml:"detail,omitempty"`

	// link_heuristic
	Links LinkConfig `yaml:"links,omitempty"`

	// opendatasoft
	Dataset DatasetConfig `yaml:"dataset,omitempty"`
}

// SourceDefaults fill RawRecord fields the source never states.
type SourceDefaults struct {
	Organization string   `yaml:"organization,omitempty"`
	GeoLabel     string   `yaml:"geo_label,omitempty"`
	Audience     []string `yaml:"audience,omitempty"`
}

type SelectorConfig struct {
	Container    string `yaml:"container,omitempty"` // CSS selector for the card wrapper
	Title        string `yaml:"title,omitempty"`
	Link         string `yaml:"link,omitempty"`
	LinkAttr     string `yaml:"link_attr,omitempty"` // default: href
	Summary      string `yaml:"summary,omitempty"`
	Publication  string `yaml:"publication,omitempty"`
	Deadline     string `yaml:"deadline,omitempty"`
	Organization string `yaml:"organization,omitempty"`
}

// PaginationConfig describes "{listing_url}/{page}/" style paging. PagePattern
// is a regexp with one group capturing page numbers in listing links; the
// crawl stops when no link points past the current page.
type PaginationConfig struct {
	PathTemplate string `yaml:"path_template,omitempty"` // e.g. "%s/%d/"
	PagePattern  string `yaml:"page_pattern,omitempty"`
}

type DetailConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Description string `yaml:"description,omitempty"`
	Application string `yaml:"application,omitempty"`
}

type LinkConfig struct {
	Include        []string `yaml:"include,omitempty"`
	Exclude        []string `yaml:"exclude,omitempty"`
	MinTitleLength int      `yaml:"min_title_length,omitempty"`
}

type DatasetConfig struct {
	Name     string `yaml:"name,omitempty"`
	PageSize int    `yaml:"page_size,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml and returns a Registry.
// Environment variables (${VAR}) are expanded before parsing.
func LoadRegistry() (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses a registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	seen := make(map[string]bool, len(reg.Sources))
	for _, src := range reg.Sources {
		if src.ID == "" {
			return nil, fmt.Errorf("parse registry: source without id")
		}
		if seen[src.ID] {
			return nil, fmt.Errorf("parse registry: duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
	}
	return &reg, nil
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (SourceConfig, error) {
	for _, src := range r.Sources {
		if src.ID == id {
			return src, nil
		}
	}
	return SourceConfig{}, fmt.Errorf("%w: %s", ErrUnknownSource, id)
}

// Active returns the sources enabled for scheduled runs, in file order.
func (r *Registry) Active() []SourceConfig {
	var out []SourceConfig
	for _, src := range r.Sources {
		if src.Active {
			out = append(out, src)
		}
	}
	return out
}

// Select resolves ids to configs. No ids means every active source.
func (r *Registry) Select(ids []string) ([]SourceConfig, error) {
	if len(ids) == 0 {
		return r.Active(), nil
	}
	out := make([]SourceConfig, 0, len(ids))
	for _, id := range ids {
		src, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// ListingPage returns the page the source's records are listed on.
func (c SourceConfig) ListingPage() string {
	if c.ListingURL != "" {
		return c.ListingURL
	}
	return c.BaseURL
}
