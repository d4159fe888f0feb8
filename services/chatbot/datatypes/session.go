package datatypes

// Flow names a multi-step conversational procedure.
type Flow string

const (
	FlowAssign Flow = "assign"
	FlowUpdate Flow = "update"
	// FlowView is stateless and never creates a session; it exists so
	// trigger dispatch can name it.
	FlowView Flow = "view"
)

// Step identifies where a session is inside its flow. Step values are
// disjoint across flows: a session's step always belongs to exactly one
// flow's step set.
type Step string

const (
	StepAwaitAssignee    Step = "awaitAssignee"
	StepAwaitDepartment  Step = "awaitDepartment"
	StepAwaitCategory    Step = "awaitCategory"
	StepAwaitTitle       Step = "awaitTitle"
	StepAwaitBody        Step = "awaitBody"
	StepAwaitAttachments Step = "awaitAttachments"
	StepAwaitDueDate     Step = "awaitDueDate"

	StepAwaitTaskSelection   Step = "awaitTaskSelection"
	StepAwaitStatusSelection Step = "awaitStatusSelection"
)

// stepFlows maps every step to its owning flow.
var stepFlows = map[Step]Flow{
	StepAwaitAssignee:    FlowAssign,
	StepAwaitDepartment:  FlowAssign,
	StepAwaitCategory:    FlowAssign,
	StepAwaitTitle:       FlowAssign,
	StepAwaitBody:        FlowAssign,
	StepAwaitAttachments: FlowAssign,
	StepAwaitDueDate:     FlowAssign,

	StepAwaitTaskSelection:   FlowUpdate,
	StepAwaitStatusSelection: FlowUpdate,
}

// Flow returns the flow a step belongs to, or "" for an unknown step.
func (s Step) Flow() Flow {
	return stepFlows[s]
}

// Option is a selectable item previously presented to the contact.
// Choice inputs are validated against the stored options, never against a
// fresh query, so a stale selection cannot reference rows the contact
// never saw.
type Option struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Attachment is a durable reference to a stored attachment file.
type Attachment struct {
	Link string `json:"link"`
}

// TaskDraft accumulates Assign-flow input across steps.
type TaskDraft struct {
	AssigneeID   int64        `json:"assigneeId,omitempty"`
	DepartmentID int64        `json:"departmentId,omitempty"`
	CategoryID   int64        `json:"categoryId,omitempty"`
	Title        string       `json:"title,omitempty"`
	Body         string       `json:"body,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	DueDate      string       `json:"dueDate,omitempty"` // YYYY-MM-DD

	// Presented option lists, kept for choice validation.
	Departments []Option `json:"departments,omitempty"`
	Categories  []Option `json:"categories,omitempty"`
}

// Session is the ephemeral, TTL-bound record of a contact's in-progress
// flow. A session exists iff a flow is mid-progress; its absence is the
// canonical idle state. Every write is a full rewrite with a fresh TTL.
type Session struct {
	Step  Step      `json:"step"`
	Draft TaskDraft `json:"draft"`

	// Update-flow state.
	Tasks          []TaskSummary `json:"tasks,omitempty"`
	SelectedTaskID int64         `json:"selectedTaskId,omitempty"`
}
