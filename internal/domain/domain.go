package domain

// Task statuses. The board allows moving between any two of them.
const (
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Task priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Task scopes.
const (
	TypePersonal   = "personal"
	TypeDepartment = "department"
	TypeCompany    = "company"
)

// History actions. The set is a storage contract shared with the reporting layer.
const (
	ActionCreated         = "created"
	ActionStatusChanged   = "status_changed"
	ActionPriorityChanged = "priority_changed"
	ActionTitleChanged    = "title_changed"
	ActionTimerStarted    = "timer_started"
	ActionTimerStopped    = "timer_stopped"
	ActionCommentAdded    = "comment_added"
	ActionAttachmentAdded = "attachment_added"
)

// Transfer kinds and statuses.
const (
	TransferKindDelegation = "delegation"
	TransferKindTransfer   = "transfer"

	TransferPending  = "pending"
	TransferAccepted = "accepted"
	TransferRejected = "rejected"
)

type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Department struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Membership records a user's active participation in a company, optionally
// narrowed to a department. It backs claim eligibility checks.
type Membership struct {
	CompanyID    string  `json:"company_id"`
	DepartmentID *string `json:"department_id,omitempty"`
	UserID       string  `json:"user_id"`
	Active       bool    `json:"active"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type Task struct {
	ID           string  `json:"id"`
	CompanyID    string  `json:"company_id"`
	DepartmentID *string `json:"department_id,omitempty"`
	Type         string  `json:"type" enum:"personal,department,company"`
	Title        string  `json:"title"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"todo,in_progress,done"`
	Priority     string  `json:"priority" enum:"high,medium,low"`
	CreatedBy    string  `json:"created_by"`
	AssigneeID   *string `json:"assignee_id,omitempty"`
	DueDate      *string `json:"due_date,omitempty" format:"date"`

	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	ActualHours    *float64 `json:"actual_hours,omitempty"`

	IsPublic   bool    `json:"is_public"`
	AcceptedBy *string `json:"accepted_by,omitempty"`
	AcceptedAt *string `json:"accepted_at,omitempty" format:"date-time"`

	IsTimerRunning    bool    `json:"is_timer_running"`
	CurrentTimerStart *string `json:"current_timer_start,omitempty" format:"date-time"`
	TotalTimeMinutes  int     `json:"total_time_minutes"`

	DelegatedBy        *string `json:"delegated_by,omitempty"`
	DelegateID         *string `json:"delegate_id,omitempty"`
	PreviousAssigneeID *string `json:"previous_assignee_id,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// TaskHistory is an immutable audit record of one change on a task.
type TaskHistory struct {
	ID           int64   `json:"id"`
	TaskID       string  `json:"task_id"`
	Action       string  `json:"action"`
	FieldChanged *string `json:"field_changed,omitempty"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
	ChangedBy    string  `json:"changed_by"`
	ChangedAt    string  `json:"changed_at" format:"date-time"`
}

// TaskTimeLog tracks one timer interval. EndedAt nil means the timer is open.
type TaskTimeLog struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	UserID          string  `json:"user_id"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	EndedAt         *string `json:"ended_at,omitempty" format:"date-time"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Description     string  `json:"description,omitempty"`
}

// TaskTransfer is a request to move responsibility for a task between two
// users. Once responded to, the record is terminal.
type TaskTransfer struct {
	ID             string  `json:"id"`
	TaskID         string  `json:"task_id"`
	FromUserID     string  `json:"from_user_id"`
	ToUserID       string  `json:"to_user_id"`
	TransferType   string  `json:"transfer_type" enum:"delegation,transfer"`
	Reason         string  `json:"reason,omitempty"`
	Status         string  `json:"status" enum:"pending,accepted,rejected"`
	RequestedBy    string  `json:"requested_by"`
	RequestedAt    string  `json:"requested_at" format:"date-time"`
	RespondedAt    *string `json:"responded_at,omitempty" format:"date-time"`
	ResponseReason *string `json:"response_reason,omitempty"`
}

type TaskComment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskAttachment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	FileName  string `json:"file_name"`
	FileURL   string `json:"file_url"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// ValidPriority reports whether p is a known priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ValidTaskType reports whether t is a known task scope.
func ValidTaskType(t string) bool {
	switch t {
	case TypePersonal, TypeDepartment, TypeCompany:
		return true
	}
	return false
}
