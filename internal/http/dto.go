package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/shinyes/sift/internal/criterion"
	"github.com/shinyes/sift/internal/models"
	"github.com/shinyes/sift/internal/service"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// parseBody decodes the JSON body into req and runs its validate tags.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return errors.New("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			if first.Tag() == "required" {
				return fmt.Errorf("%s is required", lowerFirst(first.Field()))
			}
			return fmt.Errorf("invalid %s", lowerFirst(first.Field()))
		}
		return err
	}
	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

type getCurrentUserResponse struct {
	User apiUser `json:"user"`
}

type signInRequest struct {
	PasswordCredentials *signInPasswordCredentials `json:"passwordCredentials" validate:"required"`
}

type signInPasswordCredentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type signInResponse struct {
	User        apiUser `json:"user"`
	AccessToken string  `json:"accessToken"`
}

type createUserRequest struct {
	User         createUserBody `json:"user"`
	ValidateOnly bool           `json:"validateOnly"`
}

type createUserBody struct {
	Role        string `json:"role"`
	Username    string `json:"username" validate:"required"`
	DisplayName string `json:"displayName" validate:"max=64"`
	Password    string `json:"password" validate:"required"`
}

type apiUser struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	CreateTime  string `json:"createTime,omitempty"`
	UpdateTime  string `json:"updateTime,omitempty"`
}

type profileResponse struct {
	Version string `json:"version"`
}

type apiEntry struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type apiCriterion struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Text     string     `json:"text"`
	Kind     string     `json:"kind"`
	Entries  []apiEntry `json:"entries,omitempty"`
	Hint     string     `json:"hint,omitempty"`
	Universe bool       `json:"universe,omitempty"`
}

type listCriteriaResponse struct {
	Criteria []apiCriterion `json:"criteria"`
}

type apiInstance struct {
	ID            string  `json:"id"`
	CriterionID   string  `json:"criterionId"`
	Title         string  `json:"title"`
	Operator      string  `json:"operator"`
	SelectedIndex int     `json:"selectedIndex"`
	SelectedText  *string `json:"selectedText,omitempty"`
	Start         int     `json:"start"`
	End           int     `json:"end"`
	Max           int     `json:"max"`
}

type apiFilter struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Title      string            `json:"title"`
	Color      int               `json:"color"`
	Position   int               `json:"position"`
	Criteria   string            `json:"criteria"`
	Predicate  string            `json:"predicate"`
	Values     map[string]string `json:"values"`
	CreateTime string            `json:"createTime,omitempty"`
	UpdateTime string            `json:"updateTime,omitempty"`
}

type listFiltersResponse struct {
	Filters []apiFilter `json:"filters"`
}

type createFilterRequest struct {
	Title    string `json:"title" validate:"required,max=128"`
	Color    int    `json:"color" validate:"min=0"`
	Criteria string `json:"criteria" validate:"required"`
}

type updateFilterRequest struct {
	Title    *string `json:"title" validate:"omitnil,max=128"`
	Color    *int    `json:"color" validate:"omitnil,min=0"`
	Position *int    `json:"position" validate:"omitnil,min=0"`
	Criteria *string `json:"criteria"`
}

type previewRequest struct {
	Criteria string `json:"criteria"`
}

type previewResponse struct {
	Criteria  []apiInstance     `json:"criteria"`
	Predicate string            `json:"predicate"`
	Values    map[string]string `json:"values"`
	Max       int               `json:"max"`
}

type openDraftRequest struct {
	FilterID int64   `json:"filterId" validate:"min=0"`
	State    string  `json:"state"`
	Title    *string `json:"title" validate:"omitnil,max=128"`
	Color    *int    `json:"color" validate:"omitnil,min=0"`
}

type patchDraftRequest struct {
	Title *string `json:"title" validate:"omitnil,max=128"`
	Color *int    `json:"color" validate:"omitnil,min=0"`
}

type selectionBody struct {
	Index *int    `json:"index" validate:"omitnil,min=0"`
	Value *string `json:"value"`
	Text  *string `json:"text"`
}

func (b selectionBody) selection() service.Selection {
	return service.Selection{Index: b.Index, Value: b.Value, Text: b.Text}
}

type addCriterionRequest struct {
	CriterionID string `json:"criterionId" validate:"required"`
	Operator    string `json:"operator" validate:"omitempty,oneof=union subtract intersect or not and"`
	selectionBody
}

type updateCriterionRequest struct {
	Operator string `json:"operator" validate:"omitempty,oneof=union subtract intersect or not and"`
	selectionBody
}

type moveCriterionRequest struct {
	From int `json:"from" validate:"min=0"`
	To   int `json:"to" validate:"min=0"`
}

type apiDraft struct {
	ID         string            `json:"id"`
	FilterID   int64             `json:"filterId,omitempty"`
	Title      string            `json:"title"`
	Color      int               `json:"color"`
	State      string            `json:"state"`
	Predicate  string            `json:"predicate"`
	Values     map[string]string `json:"values"`
	Criteria   []apiInstance     `json:"criteria"`
	Counted    bool              `json:"counted"`
	Max        int               `json:"max"`
	Generation uint64            `json:"generation"`
	HasChanges bool              `json:"hasChanges"`
	Stale      bool              `json:"stale,omitempty"`
}

type apiTask struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Title      string   `json:"title"`
	Notes      string   `json:"notes,omitempty"`
	Importance int      `json:"importance"`
	DueDate    int64    `json:"dueDate,omitempty"`
	HideUntil  int64    `json:"hideUntil,omitempty"`
	Completed  bool     `json:"completed"`
	Deleted    bool     `json:"deleted,omitempty"`
	Recurrence string   `json:"recurrence,omitempty"`
	ParentID   int64    `json:"parentId,omitempty"`
	Created    int64    `json:"created"`
	Modified   int64    `json:"modified"`
	Tags       []string `json:"tags"`
}

type listTasksResponse struct {
	Tasks         []apiTask `json:"tasks"`
	NextPageToken string    `json:"nextPageToken,omitempty"`
}

type createTaskRequest struct {
	Title      string   `json:"title" validate:"required"`
	Notes      string   `json:"notes"`
	Importance *int     `json:"importance" validate:"omitnil,min=0,max=3"`
	DueDate    int64    `json:"dueDate" validate:"min=0"`
	HideUntil  int64    `json:"hideUntil" validate:"min=0"`
	Recurrence string   `json:"recurrence"`
	ParentID   int64    `json:"parentId" validate:"min=0"`
	Tags       []string `json:"tags" validate:"dive,max=100"`
}

func (r createTaskRequest) input() service.CreateTaskInput {
	input := service.CreateTaskInput{
		Title:      r.Title,
		Notes:      r.Notes,
		DueDate:    r.DueDate,
		HideUntil:  r.HideUntil,
		Recurrence: r.Recurrence,
		ParentID:   r.ParentID,
		Tags:       r.Tags,
	}
	if r.Importance != nil {
		imp := models.Importance(*r.Importance)
		input.Importance = &imp
	}
	return input
}

type updateTaskRequest struct {
	Title      *string   `json:"title"`
	Notes      *string   `json:"notes"`
	Importance *int      `json:"importance" validate:"omitnil,min=0,max=3"`
	DueDate    *int64    `json:"dueDate" validate:"omitnil,min=0"`
	HideUntil  *int64    `json:"hideUntil" validate:"omitnil,min=0"`
	Completed  *bool     `json:"completed"`
	Deleted    *bool     `json:"deleted"`
	Recurrence *string   `json:"recurrence"`
	Tags       *[]string `json:"tags"`
}

func (r updateTaskRequest) input() service.UpdateTaskInput {
	input := service.UpdateTaskInput{
		Title:      r.Title,
		Notes:      r.Notes,
		DueDate:    r.DueDate,
		HideUntil:  r.HideUntil,
		Completed:  r.Completed,
		Deleted:    r.Deleted,
		Recurrence: r.Recurrence,
		Tags:       r.Tags,
	}
	if r.Importance != nil {
		imp := models.Importance(*r.Importance)
		input.Importance = &imp
	}
	return input
}

type apiTag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type listTagsResponse struct {
	Tags []apiTag `json:"tags"`
}

type createTagRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type backupResponse struct {
	Key     string `json:"key"`
	Filters int    `json:"filters"`
}

type listBackupsResponse struct {
	Keys []string `json:"keys"`
}

type restoreRequest struct {
	Key string `json:"key"`
}

type restoreResponse struct {
	Key      string            `json:"key"`
	Imported int               `json:"imported"`
	Skipped  map[string]string `json:"skipped,omitempty"`
}

func toAPIUser(user models.User) apiUser {
	role := strings.ToUpper(strings.TrimSpace(user.Role))
	switch role {
	case models.RoleHost, models.RoleAdmin:
		role = models.RoleAdmin
	case models.RoleUser:
	default:
		role = "ROLE_UNSPECIFIED"
	}
	name := ""
	if user.ID > 0 {
		name = user.Name()
	}
	return apiUser{
		Name:        name,
		Role:        role,
		Username:    user.Username,
		DisplayName: user.DisplayName,
		CreateTime:  formatMaybeTime(user.CreateTime),
		UpdateTime:  formatMaybeTime(user.UpdateTime),
	}
}

func toAPICriterion(def criterion.Definition, universe bool) apiCriterion {
	out := apiCriterion{
		ID:       def.ID,
		Name:     def.Name,
		Text:     def.Text,
		Kind:     def.Kind.String(),
		Hint:     def.Hint,
		Universe: universe,
	}
	for _, entry := range def.Entries {
		out.Entries = append(out.Entries, apiEntry{Title: entry.Title, Value: entry.Value})
	}
	return out
}

func toAPIInstances(list []criterion.Instance) []apiInstance {
	out := make([]apiInstance, 0, len(list))
	for _, inst := range list {
		out = append(out, apiInstance{
			ID:            inst.ID,
			CriterionID:   inst.Definition.ID,
			Title:         inst.Title(),
			Operator:      inst.Operator.String(),
			SelectedIndex: inst.SelectedIndex,
			SelectedText:  inst.SelectedText,
			Start:         inst.Start,
			End:           inst.End,
			Max:           inst.Max,
		})
	}
	return out
}

func toAPIFilter(filter models.Filter, values map[string]string) apiFilter {
	if values == nil {
		values = map[string]string{}
	}
	return apiFilter{
		ID:         filter.ID,
		Name:       filter.Name(),
		Title:      filter.Title,
		Color:      filter.Color,
		Position:   filter.Position,
		Criteria:   filter.Criteria,
		Predicate:  filter.Predicate,
		Values:     values,
		CreateTime: formatMaybeTime(filter.CreateTime),
		UpdateTime: formatMaybeTime(filter.UpdateTime),
	}
}

func toAPIDraft(view service.DraftView) apiDraft {
	return apiDraft{
		ID:         view.ID,
		FilterID:   view.FilterID,
		Title:      view.Title,
		Color:      view.Color,
		State:      view.State,
		Predicate:  view.Predicate,
		Values:     view.Values,
		Criteria:   toAPIInstances(view.Criteria),
		Counted:    view.Counted,
		Max:        view.Max,
		Generation: view.Generation,
		HasChanges: view.HasChanges,
		Stale:      view.Stale,
	}
}

func toAPITask(task models.Task) apiTask {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	return apiTask{
		ID:         task.ID,
		Name:       task.Name(),
		Title:      task.Title,
		Notes:      task.Notes,
		Importance: int(task.Importance),
		DueDate:    task.DueDate,
		HideUntil:  task.HideUntil,
		Completed:  task.IsCompleted(),
		Deleted:    task.IsDeleted(),
		Recurrence: task.Recurrence,
		ParentID:   task.ParentID,
		Created:    task.Created,
		Modified:   task.Modified,
		Tags:       tags,
	}
}

func toAPITasks(tasks []models.Task, nextToken string) listTasksResponse {
	resp := listTasksResponse{
		Tasks:         make([]apiTask, 0, len(tasks)),
		NextPageToken: nextToken,
	}
	for _, task := range tasks {
		resp.Tasks = append(resp.Tasks, toAPITask(task))
	}
	return resp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatMaybeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}
