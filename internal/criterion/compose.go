package criterion

import (
	"strings"
)

const (
	// IDColumn is the task primary key every criterion sub-select yields.
	IDColumn = "tasks.id"
	// BasePredicate selects all active, visible tasks. NOW() is expanded at
	// query time.
	BasePredicate = "(tasks.completed <= 0 AND tasks.deleted <= 0 AND tasks.hide_until <= NOW())"
)

// Sanitize escapes a value for substitution inside a single-quoted SQL
// literal. Criterion predicates always quote free-form placeholders.
func Sanitize(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

// Compose folds list left to right into one boolean SQL expression.
func Compose(list []Instance) string {
	var sb strings.Builder
	for idx, inst := range list {
		appendStep(&sb, idx, inst)
	}
	return sb.String()
}

// Prefixes returns Compose(list[:k]) for k = 1..len(list).
func Prefixes(list []Instance) []string {
	out := make([]string, 0, len(list))
	var sb strings.Builder
	for idx, inst := range list {
		appendStep(&sb, idx, inst)
		out = append(out, sb.String())
	}
	return out
}

func appendStep(sb *strings.Builder, idx int, inst Instance) {
	sub := subExpression(inst)
	if idx == 0 {
		sb.WriteString(sub)
		return
	}
	acc := sb.String()
	sb.Reset()
	sb.WriteString("(")
	sb.WriteString(acc)
	sb.WriteString(") ")
	sb.WriteString(connective(inst.Operator))
	sb.WriteString(" ")
	sb.WriteString(sub)
}

func connective(op Operator) string {
	switch op {
	case OpUnion:
		return "OR"
	case OpSubtract:
		return "AND NOT"
	default:
		return "AND"
	}
}

func subExpression(inst Instance) string {
	if inst.Operator == OpUniverse || !inst.Definition.HasPredicate() {
		return BasePredicate
	}
	value, _ := inst.Value()
	sub := strings.ReplaceAll(inst.Definition.Predicate, Placeholder, Sanitize(value))
	return IDColumn + " IN (" + strings.TrimSpace(sub) + ")"
}

// NewTaskValues collects the field values a new task needs to satisfy the
// filter. Only intersect steps contribute.
func NewTaskValues(list []Instance) map[string]string {
	values := make(map[string]string)
	for _, inst := range list {
		if inst.Operator != OpIntersect || inst.Definition.ValuesForNewTasks == nil {
			continue
		}
		value, _ := inst.Value()
		for key, tmpl := range inst.Definition.ValuesForNewTasks {
			values[strings.ReplaceAll(key, Placeholder, value)] = strings.ReplaceAll(tmpl, Placeholder, value)
		}
	}
	return values
}
