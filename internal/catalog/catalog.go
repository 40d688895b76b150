// Package catalog provides the criteria users can compose into filters.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shinyes/sift/internal/criterion"
	"github.com/shinyes/sift/internal/models"
)

//go:embed criteria.yaml
var builtinYAML []byte

// EntriesFromTags fills a multiple choice criterion with the user's tags.
const EntriesFromTags = "tags"

type EntrySpec struct {
	Title string `yaml:"title"`
	Value string `yaml:"value"`
}

// Spec is the YAML form of a criterion definition.
type Spec struct {
	ID                string            `yaml:"id"`
	Name              string            `yaml:"name"`
	Text              string            `yaml:"text"`
	Kind              string            `yaml:"kind"`
	Predicate         string            `yaml:"predicate"`
	Hint              string            `yaml:"hint"`
	Entries           []EntrySpec       `yaml:"entries"`
	EntriesFrom       string            `yaml:"entries_from"`
	ValuesForNewTasks map[string]string `yaml:"values_for_new_tasks"`
	Universe          bool              `yaml:"universe"`
}

type document struct {
	Criteria []Spec `yaml:"criteria"`
}

var ErrInvalidCatalog = errors.New("invalid criteria catalog")

// Parse decodes and validates a catalog document.
func Parse(data []byte) ([]Spec, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := validate(doc.Criteria); err != nil {
		return nil, err
	}
	return doc.Criteria, nil
}

func validate(specs []Spec) error {
	seen := make(map[string]struct{}, len(specs))
	universes := 0
	for _, spec := range specs {
		if strings.TrimSpace(spec.ID) == "" {
			return fmt.Errorf("%w: criterion without id", ErrInvalidCatalog)
		}
		if strings.Contains(spec.ID, criterion.FieldSeparator) || strings.ContainsAny(spec.ID, "\r\n") {
			return fmt.Errorf("%w: criterion id %q contains a separator", ErrInvalidCatalog, spec.ID)
		}
		if _, ok := seen[spec.ID]; ok {
			return fmt.Errorf("%w: duplicate criterion %q", ErrInvalidCatalog, spec.ID)
		}
		seen[spec.ID] = struct{}{}
		kind, ok := criterion.ParseKind(spec.Kind)
		if !ok {
			return fmt.Errorf("%w: criterion %q: %w %q", ErrInvalidCatalog, spec.ID, criterion.ErrUnsupportedKind, spec.Kind)
		}
		if spec.EntriesFrom != "" && spec.EntriesFrom != EntriesFromTags {
			return fmt.Errorf("%w: criterion %q: unknown entries_from %q", ErrInvalidCatalog, spec.ID, spec.EntriesFrom)
		}
		if kind != criterion.KindMultipleChoice && (len(spec.Entries) > 0 || spec.EntriesFrom != "") {
			return fmt.Errorf("%w: criterion %q: entries on a %s criterion", ErrInvalidCatalog, spec.ID, kind)
		}
		if strings.Count(spec.Predicate, criterion.Placeholder) > 1 {
			return fmt.Errorf("%w: criterion %q: more than one placeholder", ErrInvalidCatalog, spec.ID)
		}
		if spec.Universe {
			if spec.Predicate != "" {
				return fmt.Errorf("%w: universe criterion %q has a predicate", ErrInvalidCatalog, spec.ID)
			}
			universes++
		} else if spec.Predicate == "" {
			return fmt.Errorf("%w: criterion %q has no predicate", ErrInvalidCatalog, spec.ID)
		}
	}
	if universes != 1 {
		return fmt.Errorf("%w: want exactly one universe criterion, got %d", ErrInvalidCatalog, universes)
	}
	return nil
}

func (s Spec) definition(tags []models.Tag) criterion.Definition {
	kind, _ := criterion.ParseKind(s.Kind)
	def := criterion.Definition{
		ID:                s.ID,
		Name:              s.Name,
		Text:              s.Text,
		Predicate:         strings.TrimSpace(s.Predicate),
		Kind:              kind,
		Hint:              s.Hint,
		ValuesForNewTasks: s.ValuesForNewTasks,
	}
	for _, entry := range s.Entries {
		def.Entries = append(def.Entries, criterion.Entry{Title: entry.Title, Value: entry.Value})
	}
	if s.EntriesFrom == EntriesFromTags {
		for _, tag := range tags {
			def.Entries = append(def.Entries, criterion.Entry{Title: tag.Name, Value: tag.Name})
		}
	}
	return def
}

// Catalog is an immutable set of definitions. It implements criterion.Catalog.
type Catalog struct {
	defs     []criterion.Definition
	byID     map[string]int
	universe int
}

var _ criterion.Catalog = (*Catalog)(nil)

func build(specs []Spec, tags []models.Tag) *Catalog {
	c := &Catalog{
		defs: make([]criterion.Definition, 0, len(specs)),
		byID: make(map[string]int, len(specs)),
	}
	for idx, spec := range specs {
		c.defs = append(c.defs, spec.definition(tags))
		c.byID[spec.ID] = idx
		if spec.Universe {
			c.universe = idx
		}
	}
	return c
}

func (c *Catalog) Resolve(id string) (criterion.Definition, error) {
	idx, ok := c.byID[id]
	if !ok {
		return criterion.Definition{}, fmt.Errorf("%w: %q", criterion.ErrUnknownCriterion, id)
	}
	return c.defs[idx], nil
}

func (c *Catalog) All() []criterion.Definition {
	out := make([]criterion.Definition, len(c.defs))
	copy(out, c.defs)
	return out
}

func (c *Catalog) Universe() criterion.Definition {
	return c.defs[c.universe]
}

type TagSource interface {
	ListTags(ctx context.Context, userID int64) ([]models.Tag, error)
}

// Provider builds per-user catalogs; tag-backed criteria list the user's tags.
type Provider struct {
	specs []Spec
	tags  TagSource
}

func NewProvider(tags TagSource) (*Provider, error) {
	specs, err := Parse(builtinYAML)
	if err != nil {
		return nil, err
	}
	return &Provider{specs: specs, tags: tags}, nil
}

func NewProviderFromSpecs(specs []Spec, tags TagSource) (*Provider, error) {
	if err := validate(specs); err != nil {
		return nil, err
	}
	return &Provider{specs: specs, tags: tags}, nil
}

func (p *Provider) ForUser(ctx context.Context, userID int64) (*Catalog, error) {
	var tags []models.Tag
	if p.tags != nil && p.needsTags() {
		var err error
		tags, err = p.tags.ListTags(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("list tags for catalog: %w", err)
		}
	}
	return build(p.specs, tags), nil
}

// Static is the catalog without user-specific entries. It resolves every id
// ForUser resolves.
func (p *Provider) Static() *Catalog {
	return build(p.specs, nil)
}

func (p *Provider) needsTags() bool {
	for _, spec := range p.specs {
		if spec.EntriesFrom == EntriesFromTags {
			return true
		}
	}
	return false
}
