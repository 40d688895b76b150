package service

import "errors"

var (
	ErrInvalidSearch      = errors.New("invalid search expression")
	ErrEmptyCriteria      = errors.New("criteria cannot be empty")
	ErrInvalidFilterTitle = errors.New("invalid filter title")
	ErrInvalidTaskTitle   = errors.New("invalid task title")
	ErrInvalidImportance  = errors.New("invalid importance")
	ErrInvalidPageToken   = errors.New("invalid page token")

	ErrDraftNotFound     = errors.New("draft not found")
	ErrCriterionNotFound = errors.New("criterion not found in draft")
	ErrAnchorLocked      = errors.New("the first criterion cannot be changed")
	ErrInvalidOperator   = errors.New("invalid operator")
	ErrInvalidSelection  = errors.New("invalid criterion selection")
	ErrInvalidMove       = errors.New("invalid criterion move")

	ErrBackupNotFound = errors.New("backup not found")
)
