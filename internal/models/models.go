package models

import (
	"strconv"
	"strings"
	"time"
)

type Importance int

const (
	ImportanceMust Importance = iota
	ImportanceHigh
	ImportanceMedium
	ImportanceNone
)

func (i Importance) IsValid() bool {
	return i >= ImportanceMust && i <= ImportanceNone
}

// Roles. HOST is the bootstrap account and ranks with ADMIN.
const (
	RoleHost  = "HOST"
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// IsSuperUserRole reports whether role may manage other accounts.
func IsSuperUserRole(role string) bool {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case RoleHost, RoleAdmin:
		return true
	default:
		return false
	}
}

type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
	CreateTime   time.Time
	UpdateTime   time.Time
}

type PersonalAccessToken struct {
	ID          int64
	UserID      int64
	TokenPrefix string
	TokenHash   string
	Description string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
	ExpiresAt   *time.Time
	RevokedAt   *time.Time
}

// Task timestamps are epoch millis; zero means unset, matching the
// predicates the criterion catalog is written against.
type Task struct {
	ID         int64
	UserID     int64
	Title      string
	Notes      string
	Importance Importance
	DueDate    int64
	HideUntil  int64
	Completed  int64
	Deleted    int64
	Recurrence string
	ParentID   int64
	Created    int64
	Modified   int64
	Tags       []string
}

func (t Task) IsCompleted() bool {
	return t.Completed > 0
}

func (t Task) IsDeleted() bool {
	return t.Deleted > 0
}

type Tag struct {
	ID     int64
	UserID int64
	Name   string
}

// Filter is a saved custom filter. Criteria is the encoded criterion list,
// Predicate the composed SQL and Values the JSON new-task values.
type Filter struct {
	ID         int64
	UserID     int64
	Title      string
	Color      int
	Criteria   string
	Predicate  string
	Values     string
	Position   int
	CreateTime time.Time
	UpdateTime time.Time
}

func (f Filter) Name() string {
	return "filters/" + Int64ToString(f.ID)
}

func (t Task) Name() string {
	return "tasks/" + Int64ToString(t.ID)
}

func (u User) Name() string {
	return "users/" + Int64ToString(u.ID)
}

func Int64ToString(v int64) string {
	return strconv.FormatInt(v, 10)
}
