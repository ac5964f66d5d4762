package server

import (
	"taskdesk/internal/config"
	"taskdesk/internal/domain"
)

// Request payloads

type CreateCompanyRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateDepartmentRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CreateTaskRequest struct {
	ID             *string  `json:"id,omitempty"`
	DepartmentID   *string  `json:"department_id,omitempty"`
	Type           string   `json:"type,omitempty" enum:"personal,department,company"`
	Title          string   `json:"title"`
	Description    *string  `json:"description,omitempty"`
	Priority       string   `json:"priority,omitempty" enum:"high,medium,low"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	DueDate        *string  `json:"due_date,omitempty" format:"date"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	IsPublic       bool     `json:"is_public,omitempty"`
}

type UpdateTaskRequest struct {
	Title          *string  `json:"title,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Priority       *string  `json:"priority,omitempty" enum:"high,medium,low"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	DueDate        *string  `json:"due_date,omitempty" format:"date"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	ActualHours    *float64 `json:"actual_hours,omitempty"`
	IsPublic       *bool    `json:"is_public,omitempty"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" enum:"todo,in_progress,done"`
}

type TimerRequest struct {
	Description string `json:"description,omitempty"`
}

type CreateTransferRequest struct {
	ToUserID     string `json:"to_user_id"`
	TransferType string `json:"transfer_type" enum:"delegation,transfer"`
	Reason       string `json:"reason,omitempty"`
}

type RespondTransferRequest struct {
	Accept         bool   `json:"accept"`
	ResponseReason string `json:"response_reason,omitempty"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}

type CreateAttachmentRequest struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url,omitempty"`
}

type MembershipRequest struct {
	UserID       string  `json:"user_id"`
	DepartmentID *string `json:"department_id,omitempty"`
	Active       bool    `json:"active"`
}

type RoleChangeRequest struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

type DevLoginRequest struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type CompanyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DepartmentResponse struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
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

type HistoryResponse struct {
	ID           int64   `json:"id"`
	TaskID       string  `json:"task_id"`
	Action       string  `json:"action"`
	FieldChanged *string `json:"field_changed,omitempty"`
	OldValue     *string `json:"old_value,omitempty"`
	NewValue     *string `json:"new_value,omitempty"`
	ChangedBy    string  `json:"changed_by"`
	ChangedAt    string  `json:"changed_at" format:"date-time"`
}

type TimeLogResponse struct {
	ID              string  `json:"id"`
	TaskID          string  `json:"task_id"`
	UserID          string  `json:"user_id"`
	StartedAt       string  `json:"started_at" format:"date-time"`
	EndedAt         *string `json:"ended_at,omitempty" format:"date-time"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
	Description     string  `json:"description,omitempty"`
}

type TransferResponse struct {
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

type CommentResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AttachmentResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	FileName  string `json:"file_name"`
	FileURL   string `json:"file_url,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type MembershipResponse struct {
	CompanyID    string  `json:"company_id"`
	DepartmentID *string `json:"department_id,omitempty"`
	UserID       string  `json:"user_id"`
	Active       bool    `json:"active"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type CompanyConfigResponse struct {
	Company  companyConfigSection            `json:"company"`
	Defaults defaultsConfigSection           `json:"defaults"`
	Roles    map[string]roleConfigResponse   `json:"roles"`
	Catalog  map[string]permCatalogResponse  `json:"permissions"`
	Webhooks []config.WebhookConfig          `json:"webhooks,omitempty"`
}

type companyConfigSection struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type defaultsConfigSection struct {
	Priority string `json:"priority"`
	Type     string `json:"type"`
}

type roleConfigResponse struct {
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type permCatalogResponse struct {
	Description string `json:"description"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedHistory struct {
	Items      []HistoryResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// Conversion helpers

func companyResponse(c domain.Company) CompanyResponse {
	return CompanyResponse(c)
}

func departmentResponse(d domain.Department) DepartmentResponse {
	return DepartmentResponse(d)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func historyResponse(h domain.TaskHistory) HistoryResponse {
	return HistoryResponse(h)
}

func timeLogResponse(l domain.TaskTimeLog) TimeLogResponse {
	return TimeLogResponse(l)
}

func transferResponse(tr domain.TaskTransfer) TransferResponse {
	return TransferResponse(tr)
}

func commentResponse(c domain.TaskComment) CommentResponse {
	return CommentResponse(c)
}

func attachmentResponse(a domain.TaskAttachment) AttachmentResponse {
	return AttachmentResponse(a)
}

func membershipResponse(m domain.Membership) MembershipResponse {
	return MembershipResponse(m)
}

func configResponse(cfg *config.Config) CompanyConfigResponse {
	res := CompanyConfigResponse{
		Company: companyConfigSection{
			ID:   cfg.Company.ID,
			Name: cfg.Company.Name,
		},
		Defaults: defaultsConfigSection{
			Priority: cfg.Defaults.Priority,
			Type:     cfg.Defaults.Type,
		},
		Roles:    map[string]roleConfigResponse{},
		Catalog:  map[string]permCatalogResponse{},
		Webhooks: cfg.Webhooks,
	}
	for id, role := range cfg.RBAC.Roles {
		res.Roles[id] = roleConfigResponse{
			Description: role.Description,
			Permissions: nonNilSlice(role.Permissions),
		}
	}
	for id, perm := range cfg.Permissions.Catalog {
		res.Catalog[id] = permCatalogResponse{Description: perm.Description}
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapTransfers(items []domain.TaskTransfer) []TransferResponse {
	res := make([]TransferResponse, 0, len(items))
	for _, tr := range items {
		res = append(res, transferResponse(tr))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
