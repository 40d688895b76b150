// Package criterion holds the filter composition engine: criterion instances,
// their persisted text encoding, the predicate fold and the per-step counter.
package criterion

import (
	"errors"
	"maps"
	"slices"
)

var (
	ErrUnknownCriterion    = errors.New("unknown criterion")
	ErrMalformedRecord     = errors.New("malformed criterion record")
	ErrUnresolvedSelection = errors.New("unresolved criterion selection")
	ErrUnsupportedKind     = errors.New("unsupported criterion kind")
)

type Kind int

const (
	KindBoolean Kind = iota + 1
	KindMultipleChoice
	KindFreeText
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindMultipleChoice:
		return "multiple_choice"
	case KindFreeText:
		return "free_text"
	default:
		return "unknown"
	}
}

func (k Kind) IsValid() bool {
	return k == KindBoolean || k == KindMultipleChoice || k == KindFreeText
}

// ParseKind is the inverse of Kind.String.
func ParseKind(raw string) (Kind, bool) {
	switch raw {
	case "boolean":
		return KindBoolean, true
	case "multiple_choice":
		return KindMultipleChoice, true
	case "free_text":
		return KindFreeText, true
	default:
		return 0, false
	}
}

// Placeholder is the token substituted in titles, predicates and new-task values.
const Placeholder = "?"

type Entry struct {
	Title string
	Value string
}

// Definition is a catalog entry. An empty Predicate marks the universe
// criterion, which adds no filtering of its own.
type Definition struct {
	ID                string
	Name              string
	Text              string
	Predicate         string
	Kind              Kind
	Entries           []Entry
	Hint              string
	ValuesForNewTasks map[string]string
}

func (d Definition) HasPredicate() bool {
	return d.Predicate != ""
}

func (d Definition) EntryValueIndex(value string) int {
	return slices.IndexFunc(d.Entries, func(e Entry) bool { return e.Value == value })
}

func (d Definition) Equal(o Definition) bool {
	return d.ID == o.ID &&
		d.Name == o.Name &&
		d.Text == o.Text &&
		d.Predicate == o.Predicate &&
		d.Kind == o.Kind &&
		slices.Equal(d.Entries, o.Entries) &&
		d.Hint == o.Hint &&
		maps.Equal(d.ValuesForNewTasks, o.ValuesForNewTasks)
}

func (d Definition) clone() Definition {
	c := d
	c.Entries = slices.Clone(d.Entries)
	c.ValuesForNewTasks = maps.Clone(d.ValuesForNewTasks)
	return c
}

// Catalog resolves definitions by id. Resolve must wrap ErrUnknownCriterion
// when the id is absent.
type Catalog interface {
	Resolve(id string) (Definition, error)
	All() []Definition
	Universe() Definition
}
