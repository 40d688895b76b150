package store

import "github.com/shinyes/sift/internal/models"

type TagMatchKind int

const (
	TagMatchExact TagMatchKind = iota + 1
	TagMatchPrefix
)

type TagMatchOption struct {
	Kind  TagMatchKind
	Value string
}

type TagMatchGroup struct {
	Options []TagMatchOption
}

// TaskSQLPrefilter is the SQL-expressible part of a compiled task search.
type TaskSQLPrefilter struct {
	Unsatisfiable bool

	ImportanceIn []models.Importance
	Completed    *bool
	Deleted      *bool
	Recurring    *bool
	HasDueDate   *bool
	TitleLike    []string

	TagGroups        []TagMatchGroup
	ExcludeTagGroups []TagMatchGroup
}

func EmptyTaskPrefilter() TaskSQLPrefilter {
	return TaskSQLPrefilter{}
}
