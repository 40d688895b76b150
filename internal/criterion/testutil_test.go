package criterion

import (
	"fmt"
)

type testCatalog map[string]Definition

func (c testCatalog) Resolve(id string) (Definition, error) {
	def, ok := c[id]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownCriterion, id)
	}
	return def, nil
}

func (c testCatalog) All() []Definition {
	out := make([]Definition, 0, len(c))
	for _, def := range c {
		out = append(out, def)
	}
	return out
}

func (c testCatalog) Universe() Definition {
	return c["all"]
}

var toyCatalog = testCatalog{
	"all": {ID: "all", Name: "All", Text: "All", Kind: KindBoolean},
	"even": {
		ID:        "even",
		Name:      "Even",
		Text:      "Even",
		Kind:      KindBoolean,
		Predicate: "SELECT tasks.id FROM tasks WHERE tasks.id % 2 = 0",
	},
	"odd": {
		ID:        "odd",
		Name:      "Odd",
		Text:      "Odd",
		Kind:      KindBoolean,
		Predicate: "SELECT tasks.id FROM tasks WHERE tasks.id % 2 = 1",
	},
	"tag": {
		ID:        "tag",
		Name:      "Tag",
		Text:      "Tag is ?",
		Kind:      KindMultipleChoice,
		Entries:   []Entry{{Title: "Work", Value: "work"}, {Title: "Pipe|Dream", Value: "a|b"}},
		Predicate: "SELECT task_id FROM task_tags WHERE name = '?'",
		ValuesForNewTasks: map[string]string{
			"tag": "?",
		},
	},
	"title": {
		ID:        "title",
		Name:      "Title",
		Text:      "Title contains ?",
		Kind:      KindFreeText,
		Predicate: "SELECT tasks.id FROM tasks WHERE tasks.title LIKE '%?%'",
	},
}

func step(id string, op Operator) Instance {
	def, err := toyCatalog.Resolve(id)
	if err != nil {
		panic(err)
	}
	inst := NewInstance(def)
	inst.Operator = op
	return inst
}

func choice(id string, op Operator, index int) Instance {
	inst := step(id, op)
	inst.SelectedIndex = index
	return inst
}

func text(id string, op Operator, value string) Instance {
	inst := step(id, op)
	inst.SetSelectedText(&value)
	return inst
}

func anchor() Instance {
	return UniverseAnchor(toyCatalog)
}
