package datatypes

import (
	"strings"
	"time"
)

// Status is the closed set of task states a contact can set.
type Status string

const (
	StatusOpen   Status = "OPEN"
	StatusReOpen Status = "RE_OPEN"
	StatusHold   Status = "HOLD"
	StatusClosed Status = "CLOSED"
)

// AllStatuses lists the selectable statuses in presentation order.
var AllStatuses = []Status{StatusOpen, StatusReOpen, StatusHold, StatusClosed}

// ParseStatus matches free or postback input against the status set.
// Matching is case-insensitive and tolerates the spelled-out forms used
// in menus ("re-opened", "on-hold", "closed").
func ParseStatus(input string) (Status, bool) {
	s := strings.ToUpper(strings.TrimSpace(input))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "OPEN":
		return StatusOpen, true
	case "RE_OPEN", "RE_OPENED", "REOPENED":
		return StatusReOpen, true
	case "HOLD", "ON_HOLD":
		return StatusHold, true
	case "CLOSED", "CLOSE":
		return StatusClosed, true
	}
	return "", false
}

// TaskSummary is the slice of a task shown in conversational lists.
type TaskSummary struct {
	ID      int64  `json:"id"`
	Number  string `json:"number"`
	Title   string `json:"title"`
	Status  Status `json:"status"`
	DueDate string `json:"dueDate"` // YYYY-MM-DD
}

// TaskCreate is the durable task creation request assembled from a
// completed draft. Validate tags gate the terminal transition: an
// incomplete draft must never reach the tenant store.
type TaskCreate struct {
	Title        string       `validate:"required"`
	Body         string       `validate:"-"`
	AssigneeID   int64        `validate:"required,gt=0"`
	DepartmentID int64        `validate:"required,gt=0"`
	CategoryID   int64        `validate:"required,gt=0"`
	CreatedBy    int64        `validate:"required,gt=0"`
	DueDate      time.Time    `validate:"required"`
	Attachments  []Attachment `validate:"-"`
}

// TaskRecord is a persisted task as returned by the tenant store.
type TaskRecord struct {
	ID           int64
	Number       string
	Title        string
	Body         string
	AssigneeID   int64
	DepartmentID int64
	CategoryID   int64
	CreatedBy    int64
	Status       Status
	DueDate      time.Time
	CreatedAt    time.Time
}

// Summary converts a record to its list form.
func (t *TaskRecord) Summary() TaskSummary {
	return TaskSummary{
		ID:      t.ID,
		Number:  t.Number,
		Title:   t.Title,
		Status:  t.Status,
		DueDate: t.DueDate.Format("2006-01-02"),
	}
}

// Department and Category are tenant-scoped reference rows presented as
// choices during the Assign flow.
type Department struct {
	ID   int64
	Name string
}

type Category struct {
	ID           int64
	DepartmentID int64
	Name         string
}
