// Package sources holds the static registry of RSS feeds and the
// per-category importance keywords.
package sources

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/deusflow/dailynews/internal/news"
)

//go:embed sources.yaml
var defaultYAML []byte

// AllCategories selects every source when passed to Resolve.
const AllCategories = "all"

var (
	ErrInvalidRegistry = errors.New("invalid source registry")
	ErrUnknownCategory = errors.New("unknown category")
)

// file is the YAML layout: sources and keywords grouped by category.
type file struct {
	Sources  map[string][]news.Source `yaml:"sources"`
	Keywords map[string][]string      `yaml:"keywords"`
}

// Registry is an immutable set of sources and keywords.
type Registry struct {
	sources    []news.Source
	byCategory map[news.Category][]news.Source
	byName     map[string]news.Source
	keywords   map[news.Category][]string
	categories []news.Category
}

// Default returns the embedded registry.
func Default() (*Registry, error) {
	return Parse(defaultYAML)
}

// Load reads a registry from a YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML registry. Categories are kept in
// news.AllCategories order regardless of their order in the document.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegistry, err)
	}

	for name := range f.Sources {
		if _, ok := news.ParseCategory(name); !ok {
			return nil, fmt.Errorf("%w: unknown source category %q", ErrInvalidRegistry, name)
		}
	}
	for name := range f.Keywords {
		if _, ok := news.ParseCategory(name); !ok {
			return nil, fmt.Errorf("%w: unknown keyword category %q", ErrInvalidRegistry, name)
		}
	}

	r := &Registry{
		byCategory: make(map[news.Category][]news.Source),
		byName:     make(map[string]news.Source),
		keywords:   make(map[news.Category][]string),
	}

	for _, c := range news.AllCategories() {
		list := lookup(f.Sources, c)
		for i, s := range list {
			s.Name = strings.TrimSpace(s.Name)
			s.URL = strings.TrimSpace(s.URL)
			s.Category = c

			if s.Name == "" || s.URL == "" {
				return nil, fmt.Errorf("%w: source #%d of %s needs a name and a url", ErrInvalidRegistry, i+1, c)
			}
			if _, dup := r.byName[s.Name]; dup {
				return nil, fmt.Errorf("%w: duplicate source name %q", ErrInvalidRegistry, s.Name)
			}
			if s.Priority <= 0 {
				s.Priority = news.DefaultPriority
			}

			r.byName[s.Name] = s
			r.sources = append(r.sources, s)
			r.byCategory[c] = append(r.byCategory[c], s)
		}
		if len(list) > 0 {
			r.categories = append(r.categories, c)
		}

		if kw := lookup(f.Keywords, c); len(kw) > 0 {
			r.keywords[c] = kw
		}
	}

	if len(r.sources) == 0 {
		return nil, fmt.Errorf("%w: no sources", ErrInvalidRegistry)
	}
	return r, nil
}

// lookup finds the entry of c in a case-insensitively keyed map.
func lookup[T any](m map[string][]T, c news.Category) []T {
	for k, v := range m {
		if strings.EqualFold(strings.TrimSpace(k), string(c)) {
			return v
		}
	}
	return nil
}

// All returns every source in registry order.
func (r *Registry) All() []news.Source {
	return append([]news.Source(nil), r.sources...)
}

// ByPriority returns every source, highest priority first. Equal
// priorities keep registry order.
func (r *Registry) ByPriority() []news.Source {
	out := r.All()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// ByCategory returns the sources of c, empty for unknown categories.
func (r *Registry) ByCategory(c news.Category) []news.Source {
	return append([]news.Source{}, r.byCategory[c]...)
}

// Lookup finds a source by name.
func (r *Registry) Lookup(name string) (news.Source, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Keywords returns the importance keywords of c, empty for unknown
// categories or categories without keywords.
func (r *Registry) Keywords(c news.Category) []string {
	return append([]string{}, r.keywords[c]...)
}

// Categories lists the categories that have at least one source.
func (r *Registry) Categories() []news.Category {
	return append([]news.Category(nil), r.categories...)
}

// Len returns the number of sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// Resolve maps a category selector to sources: "all" or "" gives every
// source by priority, a known category its own sources.
func (r *Registry) Resolve(selector string) ([]news.Source, error) {
	if s := strings.TrimSpace(selector); s == "" || strings.EqualFold(s, AllCategories) {
		return r.ByPriority(), nil
	}
	c, ok := news.ParseCategory(selector)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, selector)
	}
	return r.ByCategory(c), nil
}
