package criterion

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Operator codes are persisted; do not renumber.
type Operator int

const (
	OpUnion     Operator = 0
	OpSubtract  Operator = 1
	OpIntersect Operator = 2
	OpUniverse  Operator = 3
)

func (o Operator) IsValid() bool {
	return o >= OpUnion && o <= OpUniverse
}

func (o Operator) String() string {
	switch o {
	case OpUnion:
		return "union"
	case OpSubtract:
		return "subtract"
	case OpIntersect:
		return "intersect"
	case OpUniverse:
		return "universe"
	default:
		return "unknown"
	}
}

func ParseOperator(raw string) (Operator, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "union", "or":
		return OpUnion, true
	case "subtract", "not":
		return OpSubtract, true
	case "intersect", "and":
		return OpIntersect, true
	case "universe":
		return OpUniverse, true
	default:
		return 0, false
	}
}

// Instance is one application of a criterion inside a filter. Start, End and
// Max are match-count bookkeeping filled in by Tally/ApplyWindows.
type Instance struct {
	ID            string
	Definition    Definition
	Operator      Operator
	SelectedIndex int
	SelectedText  *string
	Start         int
	End           int
	Max           int
}

// NewInstance applies def with the intersect operator and no selection.
func NewInstance(def Definition) Instance {
	return Instance{
		ID:            uuid.NewString(),
		Definition:    def.clone(),
		Operator:      OpIntersect,
		SelectedIndex: -1,
	}
}

// UniverseAnchor is the synthetic first step of every filter.
func UniverseAnchor(cat Catalog) Instance {
	inst := NewInstance(cat.Universe())
	inst.Operator = OpUniverse
	return inst
}

// Normalize returns list, or the single universe anchor when list is empty.
func Normalize(list []Instance, cat Catalog) []Instance {
	if len(list) > 0 {
		return list
	}
	return []Instance{UniverseAnchor(cat)}
}

// Clone copies the instance keeping its id.
func (i Instance) Clone() Instance {
	c := i
	c.Definition = i.Definition.clone()
	if i.SelectedText != nil {
		text := *i.SelectedText
		c.SelectedText = &text
	}
	return c
}

func CloneList(list []Instance) []Instance {
	out := make([]Instance, len(list))
	for idx, inst := range list {
		out[idx] = inst.Clone()
	}
	return out
}

func (i Instance) Title() string {
	def := i.Definition
	switch def.Kind {
	case KindMultipleChoice:
		if i.SelectedIndex >= 0 && i.SelectedIndex < len(def.Entries) {
			return strings.ReplaceAll(def.Text, Placeholder, def.Entries[i.SelectedIndex].Title)
		}
		return def.Text
	case KindFreeText:
		if i.SelectedText == nil {
			return def.Text
		}
		return strings.ReplaceAll(def.Text, Placeholder, *i.SelectedText)
	case KindBoolean:
		return def.Name
	default:
		panic(fmt.Errorf("%w: %d (criterion %s)", ErrUnsupportedKind, def.Kind, def.ID))
	}
}

// Value is the string substituted into the predicate. ok is false for the
// universe step and for unset free text.
func (i Instance) Value() (string, bool) {
	if i.Operator == OpUniverse {
		return "", false
	}
	def := i.Definition
	switch def.Kind {
	case KindMultipleChoice:
		if i.SelectedIndex >= 0 && i.SelectedIndex < len(def.Entries) {
			return def.Entries[i.SelectedIndex].Value, true
		}
		return def.Text, true
	case KindFreeText:
		if i.SelectedText == nil {
			return "", false
		}
		return *i.SelectedText, true
	case KindBoolean:
		// The id stands in for a value boolean criteria never carry.
		return def.ID, true
	default:
		panic(fmt.Errorf("%w: %d (criterion %s)", ErrUnsupportedKind, def.Kind, def.ID))
	}
}

// SetSelectedText sets the free text selection; nil clears it.
func (i *Instance) SetSelectedText(text *string) {
	if text == nil {
		i.SelectedText = nil
		return
	}
	v := *text
	i.SelectedText = &v
}

func (i Instance) Equal(o Instance) bool {
	if (i.SelectedText == nil) != (o.SelectedText == nil) {
		return false
	}
	if i.SelectedText != nil && *i.SelectedText != *o.SelectedText {
		return false
	}
	return i.ID == o.ID &&
		i.Definition.Equal(o.Definition) &&
		i.Operator == o.Operator &&
		i.SelectedIndex == o.SelectedIndex &&
		i.Start == o.Start &&
		i.End == o.End &&
		i.Max == o.Max
}

func IndexOf(list []Instance, id string) int {
	for idx, inst := range list {
		if inst.ID == id {
			return idx
		}
	}
	return -1
}

// Move relocates the instance at from to position to, shifting the others.
func Move(list []Instance, from int, to int) ([]Instance, error) {
	if from < 0 || from >= len(list) || to < 0 || to >= len(list) {
		return list, fmt.Errorf("move %d -> %d out of range for %d criteria", from, to, len(list))
	}
	if from == to {
		return list, nil
	}
	moved := list[from]
	out := make([]Instance, 0, len(list))
	out = append(out, list[:from]...)
	out = append(out, list[from+1:]...)
	out = append(out[:to], append([]Instance{moved}, out[to:]...)...)
	return out, nil
}

// Remove drops the instance with the given id. An emptied list is
// normalized back to the universe anchor.
func Remove(list []Instance, id string, cat Catalog) ([]Instance, bool) {
	idx := IndexOf(list, id)
	if idx < 0 {
		return list, false
	}
	out := make([]Instance, 0, len(list)-1)
	out = append(out, list[:idx]...)
	out = append(out, list[idx+1:]...)
	return Normalize(out, cat), true
}
