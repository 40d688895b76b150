package service

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	"github.com/google/cel-go/common/types/ref"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/store"
)

// TaskSearch is a compiled CEL task search. The SQL prefilter narrows the
// candidate rows; Matches is always the final word.
type TaskSearch struct {
	program      cel.Program
	sqlPrefilter store.TaskSQLPrefilter
}

var allImportance = []models.Importance{
	models.ImportanceMust,
	models.ImportanceHigh,
	models.ImportanceMedium,
	models.ImportanceNone,
}

func CompileTaskSearch(raw string) (*TaskSearch, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("title", decls.String),
			decls.NewVar("notes", decls.String),
			decls.NewVar("importance", decls.Int),
			decls.NewVar("due_date", decls.Int),
			decls.NewVar("completed", decls.Bool),
			decls.NewVar("deleted", decls.Bool),
			decls.NewVar("recurring", decls.Bool),
			decls.NewVar("has_due_date", decls.Bool),
			decls.NewVar("tags", decls.NewListType(decls.String)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build CEL env: %w", err)
	}

	ast, issues := env.Compile(normalized)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSearch, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: expression must be boolean", ErrInvalidSearch)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build CEL program: %w", err)
	}

	return &TaskSearch{
		program:      program,
		sqlPrefilter: normalizePrefilter(derivePrefilter(ast.Expr())),
	}, nil
}

func (f *TaskSearch) Matches(task models.Task) (bool, error) {
	if f == nil {
		return true, nil
	}
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	out, _, err := f.program.Eval(map[string]any{
		"title":        task.Title,
		"notes":        task.Notes,
		"importance":   int64(task.Importance),
		"due_date":     task.DueDate,
		"completed":    task.IsCompleted(),
		"deleted":      task.IsDeleted(),
		"recurring":    task.Recurrence != "",
		"has_due_date": task.DueDate > 0,
		"tags":         tags,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate CEL search: %w", err)
	}
	return asBool(out)
}

func (f *TaskSearch) SQLPrefilter() store.TaskSQLPrefilter {
	if f == nil {
		return store.EmptyTaskPrefilter()
	}
	return f.sqlPrefilter
}

func asBool(v ref.Val) (bool, error) {
	switch val := v.Value().(type) {
	case bool:
		return val, nil
	default:
		return false, fmt.Errorf("search expression must return bool, got %T", val)
	}
}

func derivePrefilter(expr *exprpb.Expr) store.TaskSQLPrefilter {
	if expr == nil {
		return store.EmptyTaskPrefilter()
	}
	if c := expr.GetConstExpr(); c != nil {
		if v, ok := constBool(c); ok && !v {
			return store.TaskSQLPrefilter{Unsatisfiable: true}
		}
		return store.EmptyTaskPrefilter()
	}

	if call := expr.GetCallExpr(); call != nil {
		switch call.Function {
		case "_&&_":
			if len(call.Args) != 2 {
				return store.EmptyTaskPrefilter()
			}
			return mergePrefilterAnd(derivePrefilter(call.Args[0]), derivePrefilter(call.Args[1]))
		case "_||_":
			if len(call.Args) != 2 {
				return store.EmptyTaskPrefilter()
			}
			return mergePrefilterOr(derivePrefilter(call.Args[0]), derivePrefilter(call.Args[1]))
		case "!_":
			if len(call.Args) != 1 {
				return store.EmptyTaskPrefilter()
			}
			return deriveNegatedPrefilter(call.Args[0])
		case "contains":
			return deriveTitleContains(call)
		case "@in":
			return deriveTagIn(call, false)
		default:
			return deriveComparison(call, false)
		}
	}

	if ident := expr.GetIdentExpr(); ident != nil {
		return boolFieldPrefilter(ident.Name, true)
	}

	if comp := expr.GetComprehensionExpr(); comp != nil {
		if group, ok := extractTagExistsGroup(comp); ok {
			return store.TaskSQLPrefilter{TagGroups: []store.TagMatchGroup{group}}
		}
	}
	return store.EmptyTaskPrefilter()
}

func deriveNegatedPrefilter(expr *exprpb.Expr) store.TaskSQLPrefilter {
	if expr == nil {
		return store.EmptyTaskPrefilter()
	}
	if c := expr.GetConstExpr(); c != nil {
		if v, ok := constBool(c); ok && v {
			return store.TaskSQLPrefilter{Unsatisfiable: true}
		}
		return store.EmptyTaskPrefilter()
	}

	if call := expr.GetCallExpr(); call != nil {
		switch call.Function {
		case "!_":
			if len(call.Args) != 1 {
				return store.EmptyTaskPrefilter()
			}
			return derivePrefilter(call.Args[0])
		case "_&&_":
			if len(call.Args) != 2 {
				return store.EmptyTaskPrefilter()
			}
			return mergePrefilterOr(deriveNegatedPrefilter(call.Args[0]), deriveNegatedPrefilter(call.Args[1]))
		case "_||_":
			if len(call.Args) != 2 {
				return store.EmptyTaskPrefilter()
			}
			return mergePrefilterAnd(deriveNegatedPrefilter(call.Args[0]), deriveNegatedPrefilter(call.Args[1]))
		case "@in":
			return deriveTagIn(call, true)
		case "contains":
			// NOT LIKE is not a narrowing the store supports.
			return store.EmptyTaskPrefilter()
		default:
			return deriveComparison(call, true)
		}
	}

	if ident := expr.GetIdentExpr(); ident != nil {
		return boolFieldPrefilter(ident.Name, false)
	}

	if comp := expr.GetComprehensionExpr(); comp != nil {
		if group, ok := extractTagExistsGroup(comp); ok {
			return store.TaskSQLPrefilter{ExcludeTagGroups: []store.TagMatchGroup{group}}
		}
	}
	return store.EmptyTaskPrefilter()
}

func boolFieldPrefilter(name string, value bool) store.TaskSQLPrefilter {
	pf := store.EmptyTaskPrefilter()
	switch name {
	case "completed":
		pf.Completed = ptrBool(value)
	case "deleted":
		pf.Deleted = ptrBool(value)
	case "recurring":
		pf.Recurring = ptrBool(value)
	case "has_due_date":
		pf.HasDueDate = ptrBool(value)
	}
	return pf
}

// negatedOps maps a comparison to the one its negation is equivalent to.
var negatedOps = map[string]string{
	"_==_": "_!=_",
	"_!=_": "_==_",
	"_<_":  "_>=_",
	"_<=_": "_>_",
	"_>_":  "_<=_",
	"_>=_": "_<_",
}

// mirroredOps rewrites "const op ident" as "ident op' const".
var mirroredOps = map[string]string{
	"_==_": "_==_",
	"_!=_": "_!=_",
	"_<_":  "_>_",
	"_<=_": "_>=_",
	"_>_":  "_<_",
	"_>=_": "_<=_",
}

func deriveComparison(call *exprpb.Expr_Call, negate bool) store.TaskSQLPrefilter {
	op := call.Function
	if _, ok := mirroredOps[op]; !ok || len(call.Args) != 2 {
		return store.EmptyTaskPrefilter()
	}
	name, c, ok := identAndConst(call.Args[0], call.Args[1])
	if !ok {
		name, c, ok = identAndConst(call.Args[1], call.Args[0])
		op = mirroredOps[op]
	}
	if !ok {
		return store.EmptyTaskPrefilter()
	}
	if negate {
		op = negatedOps[op]
	}

	switch name {
	case "importance":
		n, ok := constInt64(c)
		if !ok {
			return store.EmptyTaskPrefilter()
		}
		matching := make([]models.Importance, 0, len(allImportance))
		for _, imp := range allImportance {
			if compareInt(int64(imp), op, n) {
				matching = append(matching, imp)
			}
		}
		if len(matching) == 0 {
			return store.TaskSQLPrefilter{Unsatisfiable: true}
		}
		return store.TaskSQLPrefilter{ImportanceIn: matching}
	case "completed", "deleted", "recurring", "has_due_date":
		v, ok := constBool(c)
		if !ok {
			return store.EmptyTaskPrefilter()
		}
		switch op {
		case "_==_":
			return boolFieldPrefilter(name, v)
		case "_!=_":
			return boolFieldPrefilter(name, !v)
		}
	}
	return store.EmptyTaskPrefilter()
}

func compareInt(left int64, op string, right int64) bool {
	switch op {
	case "_==_":
		return left == right
	case "_!=_":
		return left != right
	case "_<_":
		return left < right
	case "_<=_":
		return left <= right
	case "_>_":
		return left > right
	case "_>=_":
		return left >= right
	default:
		return true
	}
}

func deriveTitleContains(call *exprpb.Expr_Call) store.TaskSQLPrefilter {
	if call.Target == nil || !isIdent(call.Target, "title") || len(call.Args) != 1 {
		return store.EmptyTaskPrefilter()
	}
	s, ok := constString(call.Args[0].GetConstExpr())
	if !ok || s == "" {
		return store.EmptyTaskPrefilter()
	}
	return store.TaskSQLPrefilter{TitleLike: []string{s}}
}

// deriveTagIn handles `"x" in tags` and `importance in [..]`.
func deriveTagIn(call *exprpb.Expr_Call, negate bool) store.TaskSQLPrefilter {
	if len(call.Args) != 2 {
		return store.EmptyTaskPrefilter()
	}
	lhs, rhs := call.Args[0], call.Args[1]

	if isIdent(rhs, "tags") {
		s, ok := constString(lhs.GetConstExpr())
		if !ok {
			return store.EmptyTaskPrefilter()
		}
		group := store.TagMatchGroup{Options: []store.TagMatchOption{{Kind: store.TagMatchExact, Value: s}}}
		if negate {
			return store.TaskSQLPrefilter{ExcludeTagGroups: []store.TagMatchGroup{group}}
		}
		return store.TaskSQLPrefilter{TagGroups: []store.TagMatchGroup{group}}
	}

	if isIdent(lhs, "importance") {
		list := rhs.GetListExpr()
		if list == nil {
			return store.EmptyTaskPrefilter()
		}
		listed := make([]models.Importance, 0, len(list.Elements))
		for _, elem := range list.Elements {
			n, ok := constInt64(elem.GetConstExpr())
			if !ok {
				return store.EmptyTaskPrefilter()
			}
			listed = append(listed, models.Importance(n))
		}
		matching := make([]models.Importance, 0, len(allImportance))
		for _, imp := range allImportance {
			if slices.Contains(listed, imp) != negate {
				matching = append(matching, imp)
			}
		}
		if len(matching) == 0 {
			return store.TaskSQLPrefilter{Unsatisfiable: true}
		}
		return store.TaskSQLPrefilter{ImportanceIn: matching}
	}
	return store.EmptyTaskPrefilter()
}

func mergePrefilterAnd(a store.TaskSQLPrefilter, b store.TaskSQLPrefilter) store.TaskSQLPrefilter {
	if a.Unsatisfiable || b.Unsatisfiable {
		return store.TaskSQLPrefilter{Unsatisfiable: true}
	}

	out := store.EmptyTaskPrefilter()
	var conflict bool
	if out.ImportanceIn, conflict = mergeSetAnd(a.ImportanceIn, b.ImportanceIn); conflict {
		return store.TaskSQLPrefilter{Unsatisfiable: true}
	}
	for _, pair := range []struct {
		dst  **bool
		a, b *bool
	}{
		{&out.Completed, a.Completed, b.Completed},
		{&out.Deleted, a.Deleted, b.Deleted},
		{&out.Recurring, a.Recurring, b.Recurring},
		{&out.HasDueDate, a.HasDueDate, b.HasDueDate},
	} {
		if *pair.dst, conflict = mergeBoolPtrAnd(pair.a, pair.b); conflict {
			return store.TaskSQLPrefilter{Unsatisfiable: true}
		}
	}

	out.TitleLike = append(slices.Clone(a.TitleLike), b.TitleLike...)
	out.TagGroups = append(copyTagGroups(a.TagGroups), b.TagGroups...)
	out.ExcludeTagGroups = append(copyTagGroups(a.ExcludeTagGroups), b.ExcludeTagGroups...)
	return out
}

func mergePrefilterOr(a store.TaskSQLPrefilter, b store.TaskSQLPrefilter) store.TaskSQLPrefilter {
	if a.Unsatisfiable && b.Unsatisfiable {
		return store.TaskSQLPrefilter{Unsatisfiable: true}
	}
	if a.Unsatisfiable {
		return b
	}
	if b.Unsatisfiable {
		return a
	}

	out := store.EmptyTaskPrefilter()
	out.ImportanceIn = mergeSetOr(a.ImportanceIn, b.ImportanceIn)
	out.Completed = mergeBoolPtrOr(a.Completed, b.Completed)
	out.Deleted = mergeBoolPtrOr(a.Deleted, b.Deleted)
	out.Recurring = mergeBoolPtrOr(a.Recurring, b.Recurring)
	out.HasDueDate = mergeBoolPtrOr(a.HasDueDate, b.HasDueDate)
	out.TagGroups = mergeTagGroupsOr(a.TagGroups, b.TagGroups)
	out.ExcludeTagGroups = intersectTagGroups(a.ExcludeTagGroups, b.ExcludeTagGroups)
	// Either side may match on a title the other never mentions.
	out.TitleLike = nil
	return out
}

func normalizePrefilter(pf store.TaskSQLPrefilter) store.TaskSQLPrefilter {
	if pf.Unsatisfiable {
		return pf
	}
	pf.ImportanceIn = unique(pf.ImportanceIn)
	pf.TitleLike = unique(pf.TitleLike)
	pf.TagGroups = normalizeTagGroups(pf.TagGroups)
	pf.ExcludeTagGroups = normalizeTagGroups(pf.ExcludeTagGroups)
	return pf
}

func mergeSetAnd[T cmp.Ordered](a []T, b []T) ([]T, bool) {
	switch {
	case len(a) == 0:
		return slices.Clone(b), false
	case len(b) == 0:
		return slices.Clone(a), false
	default:
		out := make([]T, 0, len(a))
		for _, v := range a {
			if slices.Contains(b, v) {
				out = append(out, v)
			}
		}
		out = unique(out)
		if len(out) == 0 {
			return nil, true
		}
		return out, false
	}
}

func mergeSetOr[T cmp.Ordered](a []T, b []T) []T {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	return unique(append(slices.Clone(a), b...))
}

func unique[T cmp.Ordered](values []T) []T {
	if len(values) == 0 {
		return nil
	}
	out := slices.Clone(values)
	slices.Sort(out)
	return slices.Compact(out)
}

func mergeBoolPtrAnd(a *bool, b *bool) (*bool, bool) {
	switch {
	case a == nil:
		return copyBoolPtr(b), false
	case b == nil:
		return copyBoolPtr(a), false
	default:
		if *a != *b {
			return nil, true
		}
		return copyBoolPtr(a), false
	}
}

func mergeBoolPtrOr(a *bool, b *bool) *bool {
	if a == nil || b == nil || *a != *b {
		return nil
	}
	return copyBoolPtr(a)
}

func mergeTagGroupsOr(a []store.TagMatchGroup, b []store.TagMatchGroup) []store.TagMatchGroup {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	if common := intersectTagGroups(a, b); len(common) > 0 {
		return common
	}
	if len(a) == 1 && len(b) == 1 {
		options := append(slices.Clone(a[0].Options), b[0].Options...)
		return []store.TagMatchGroup{{Options: normalizeTagOptions(options)}}
	}
	return nil
}

func normalizeTagGroups(groups []store.TagMatchGroup) []store.TagMatchGroup {
	out := make([]store.TagMatchGroup, 0, len(groups))
	seen := map[string]struct{}{}
	for _, group := range groups {
		group.Options = normalizeTagOptions(group.Options)
		if len(group.Options) == 0 {
			continue
		}
		key := tagGroupKey(group)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, group)
	}
	return out
}

func normalizeTagOptions(options []store.TagMatchOption) []store.TagMatchOption {
	out := make([]store.TagMatchOption, 0, len(options))
	for _, option := range options {
		if !slices.Contains(out, option) {
			out = append(out, option)
		}
	}
	return out
}

func intersectTagGroups(a []store.TagMatchGroup, b []store.TagMatchGroup) []store.TagMatchGroup {
	keysB := make(map[string]struct{}, len(b))
	for _, group := range b {
		keysB[tagGroupKey(group)] = struct{}{}
	}
	out := make([]store.TagMatchGroup, 0)
	for _, group := range normalizeTagGroups(a) {
		if _, ok := keysB[tagGroupKey(group)]; ok {
			out = append(out, group)
		}
	}
	return out
}

func tagGroupKey(group store.TagMatchGroup) string {
	keys := make([]string, 0, len(group.Options))
	for _, option := range normalizeTagOptions(group.Options) {
		keys = append(keys, fmt.Sprintf("%d:%s", option.Kind, option.Value))
	}
	slices.Sort(keys)
	return strings.Join(keys, "|")
}

func copyBoolPtr(v *bool) *bool {
	if v == nil {
		return nil
	}
	b := *v
	return &b
}

func copyTagGroups(groups []store.TagMatchGroup) []store.TagMatchGroup {
	if len(groups) == 0 {
		return nil
	}
	out := make([]store.TagMatchGroup, len(groups))
	for i, group := range groups {
		out[i] = store.TagMatchGroup{Options: slices.Clone(group.Options)}
	}
	return out
}

func ptrBool(v bool) *bool {
	return &v
}

func identAndConst(left *exprpb.Expr, right *exprpb.Expr) (string, *exprpb.Constant, bool) {
	id := left.GetIdentExpr()
	if id == nil {
		return "", nil, false
	}
	c := right.GetConstExpr()
	if c == nil {
		return "", nil, false
	}
	return id.Name, c, true
}

func constString(c *exprpb.Constant) (string, bool) {
	if c == nil {
		return "", false
	}
	if v, ok := c.ConstantKind.(*exprpb.Constant_StringValue); ok {
		return v.StringValue, true
	}
	return "", false
}

func constBool(c *exprpb.Constant) (bool, bool) {
	if c == nil {
		return false, false
	}
	if v, ok := c.ConstantKind.(*exprpb.Constant_BoolValue); ok {
		return v.BoolValue, true
	}
	return false, false
}

func constInt64(c *exprpb.Constant) (int64, bool) {
	if c == nil {
		return 0, false
	}
	switch v := c.ConstantKind.(type) {
	case *exprpb.Constant_Int64Value:
		return v.Int64Value, true
	case *exprpb.Constant_Uint64Value:
		if v.Uint64Value > math.MaxInt64 {
			return 0, false
		}
		return int64(v.Uint64Value), true
	default:
		return 0, false
	}
}

// extractTagExistsGroup recognizes tags.exists(t, t == "a" || t.startsWith("b/")).
func extractTagExistsGroup(comp *exprpb.Expr_Comprehension) (store.TagMatchGroup, bool) {
	if !isIdent(comp.IterRange, "tags") {
		return store.TagMatchGroup{}, false
	}
	loop := comp.LoopStep.GetCallExpr()
	if loop == nil || loop.Function != "_||_" || len(loop.Args) != 2 {
		return store.TagMatchGroup{}, false
	}

	var predicate *exprpb.Expr
	switch {
	case isIdent(loop.Args[0], comp.AccuVar):
		predicate = loop.Args[1]
	case isIdent(loop.Args[1], comp.AccuVar):
		predicate = loop.Args[0]
	default:
		return store.TagMatchGroup{}, false
	}

	options, ok := extractTagPredicateOptions(predicate, comp.IterVar)
	if !ok || len(options) == 0 {
		return store.TagMatchGroup{}, false
	}
	return store.TagMatchGroup{Options: options}, true
}

func extractTagPredicateOptions(expr *exprpb.Expr, iterVar string) ([]store.TagMatchOption, bool) {
	call := expr.GetCallExpr()
	if call == nil {
		return nil, false
	}
	switch call.Function {
	case "_||_":
		if len(call.Args) != 2 {
			return nil, false
		}
		left, okLeft := extractTagPredicateOptions(call.Args[0], iterVar)
		right, okRight := extractTagPredicateOptions(call.Args[1], iterVar)
		if !okLeft || !okRight {
			return nil, false
		}
		return append(left, right...), true
	case "_==_":
		if len(call.Args) != 2 {
			return nil, false
		}
		for _, pair := range [][2]*exprpb.Expr{{call.Args[0], call.Args[1]}, {call.Args[1], call.Args[0]}} {
			if isIdent(pair[0], iterVar) {
				if s, ok := constString(pair[1].GetConstExpr()); ok {
					return []store.TagMatchOption{{Kind: store.TagMatchExact, Value: s}}, true
				}
			}
		}
		return nil, false
	case "startsWith":
		if call.Target != nil && isIdent(call.Target, iterVar) && len(call.Args) == 1 {
			if s, ok := constString(call.Args[0].GetConstExpr()); ok {
				return []store.TagMatchOption{{Kind: store.TagMatchPrefix, Value: s}}, true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func isIdent(expr *exprpb.Expr, name string) bool {
	id := expr.GetIdentExpr()
	return id != nil && id.Name == name
}
