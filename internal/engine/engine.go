package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/history"
	"taskdesk/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	History history.Recorder
	Auth    auth.Service
	Config  *config.Config
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		History: history.Recorder{DB: db},
		Auth:    auth.Service{DB: db},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, taskID, actorID string, entry history.Entry) error {
	r := e.History
	if r.Now == nil {
		r.Now = e.Now
	}
	return r.Append(ctx, tx, taskID, actorID, entry)
}

func (e Engine) gate(ctx context.Context, tx *sql.Tx, companyID, actorID, perm string) error {
	ok, err := e.Auth.HasPermission(ctx, tx, companyID, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

// InitCompany creates a company with its default config and makes the
// founding user an owner with an active membership.
func (e Engine) InitCompany(ctx context.Context, companyID, name, actorID string) (domain.Company, error) {
	if companyID == "" {
		return domain.Company{}, ValidationError{Field: "company_id", Reason: "must not be empty"}
	}
	if actorID == "" {
		return domain.Company{}, ValidationError{Field: "actor_id", Reason: "must not be empty"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Company{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Company{ID: companyID, Name: name, Status: "active", CreatedAt: now}
	if err := e.Repo.InsertCompany(ctx, tx, c); err != nil {
		return domain.Company{}, fmt.Errorf("insert company: %w", err)
	}
	cfg := config.Default(companyID)
	if err := e.Repo.UpsertCompanyConfigTx(ctx, tx, companyID, cfg); err != nil {
		return domain.Company{}, fmt.Errorf("insert company config: %w", err)
	}
	if err := e.seedRBAC(ctx, tx, companyID, cfg); err != nil {
		return domain.Company{}, err
	}
	if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
		return domain.Company{}, err
	}
	if err := e.Repo.AssignRole(ctx, tx, companyID, actorID, "owner"); err != nil {
		return domain.Company{}, err
	}
	if err := e.Repo.UpsertMembership(ctx, tx, domain.Membership{
		CompanyID: companyID,
		UserID:    actorID,
		Active:    true,
		CreatedAt: now,
	}); err != nil {
		return domain.Company{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Company{}, err
	}
	return c, nil
}

func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, companyID string, cfg *config.Config) error {
	for perm, meta := range cfg.Permissions.Catalog {
		if err := e.Repo.InsertPermission(ctx, tx, perm, meta.Description); err != nil {
			return err
		}
	}
	for roleID, role := range cfg.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID             string
	CompanyID      string
	DepartmentID   string
	Type           string
	Title          string
	Description    string
	Priority       string
	AssigneeID     string
	DueDate        string
	EstimatedHours *float64
	IsPublic       bool
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if e.Config == nil {
		return domain.Task{}, errors.New("config not loaded")
	}
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.CompanyID == "" {
		return domain.Task{}, ValidationError{Field: "company_id", Reason: "must not be empty"}
	}
	if opts.Type == "" {
		opts.Type = e.Config.Defaults.Type
	}
	if opts.Type == "" {
		opts.Type = domain.TypePersonal
	}
	if !domain.ValidTaskType(opts.Type) {
		return domain.Task{}, ValidationError{Field: "type", Reason: fmt.Sprintf("unknown task type %q", opts.Type)}
	}
	if opts.Priority == "" {
		opts.Priority = e.Config.Defaults.Priority
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return domain.Task{}, ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", opts.Priority)}
	}
	if opts.Type == domain.TypeDepartment && opts.DepartmentID == "" {
		return domain.Task{}, ValidationError{Field: "department_id", Reason: "required for department tasks"}
	}
	if opts.IsPublic && opts.Type == domain.TypePersonal {
		return domain.Task{}, ValidationError{Field: "is_public", Reason: "personal tasks cannot be public"}
	}
	if opts.IsPublic && opts.AssigneeID != "" {
		return domain.Task{}, ValidationError{Field: "is_public", Reason: "public tasks start unassigned"}
	}
	if _, err := e.Repo.GetCompany(ctx, opts.CompanyID); err != nil {
		return domain.Task{}, err
	}
	if opts.DepartmentID != "" {
		d, err := e.Repo.GetDepartment(ctx, opts.DepartmentID)
		if err != nil {
			return domain.Task{}, err
		}
		if d.CompanyID != opts.CompanyID {
			return domain.Task{}, ValidationError{Field: "department_id", Reason: "department belongs to a different company"}
		}
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	assignee := opts.AssigneeID
	if opts.Type == domain.TypePersonal && assignee == "" {
		assignee = opts.ActorID
	}
	t := domain.Task{
		ID:             id,
		CompanyID:      opts.CompanyID,
		DepartmentID:   optionalString(opts.DepartmentID),
		Type:           opts.Type,
		Title:          opts.Title,
		Description:    opts.Description,
		Status:         domain.StatusTodo,
		Priority:       opts.Priority,
		CreatedBy:      opts.ActorID,
		AssigneeID:     optionalString(assignee),
		DueDate:        optionalString(opts.DueDate),
		EstimatedHours: opts.EstimatedHours,
		IsPublic:       opts.IsPublic,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, opts.ActorID, "task.create"); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.EnsureUser(ctx, tx, opts.ActorID, now); err != nil {
		return domain.Task{}, err
	}
	if assignee != "" && assignee != opts.ActorID {
		if err := e.Repo.EnsureUser(ctx, tx, assignee, now); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.record(ctx, tx, t.ID, opts.ActorID, history.Entry{Action: domain.ActionCreated, NewValue: &t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions encapsulates allowed edits. Nil pointers leave the field
// untouched; an empty string in AssigneeID clears the assignment.
type TaskUpdateOptions struct {
	ID             string
	Title          *string
	Description    *string
	Priority       *string
	AssigneeID     *string
	DueDate        *string
	EstimatedHours *float64
	ActualHours    *float64
	IsPublic       *bool
	ActorID        string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.Priority != nil && !domain.ValidPriority(*opts.Priority) {
		return domain.Task{}, ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", *opts.Priority)}
	}
	t, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, opts.ActorID, "task.update"); err != nil {
		return t, err
	}
	t, err = e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	if opts.Title != nil && *opts.Title != t.Title {
		old := t.Title
		t.Title = *opts.Title
		if err := e.record(ctx, tx, t.ID, opts.ActorID, history.Entry{
			Action:       domain.ActionTitleChanged,
			FieldChanged: strPtr("title"),
			OldValue:     &old,
			NewValue:     opts.Title,
		}); err != nil {
			return t, err
		}
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.Priority != nil && *opts.Priority != t.Priority {
		old := t.Priority
		t.Priority = *opts.Priority
		if err := e.record(ctx, tx, t.ID, opts.ActorID, history.Entry{
			Action:       domain.ActionPriorityChanged,
			FieldChanged: strPtr("priority"),
			OldValue:     &old,
			NewValue:     opts.Priority,
		}); err != nil {
			return t, err
		}
	}
	if opts.AssigneeID != nil {
		if *opts.AssigneeID == "" {
			t.AssigneeID = nil
		} else {
			if err := e.Repo.EnsureUser(ctx, tx, *opts.AssigneeID, now); err != nil {
				return t, err
			}
			t.AssigneeID = opts.AssigneeID
		}
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			t.DueDate = nil
		} else {
			t.DueDate = opts.DueDate
		}
	}
	if opts.EstimatedHours != nil {
		t.EstimatedHours = opts.EstimatedHours
	}
	if opts.ActualHours != nil {
		t.ActualHours = opts.ActualHours
	}
	if opts.IsPublic != nil && *opts.IsPublic != t.IsPublic {
		if *opts.IsPublic {
			if t.Type == domain.TypePersonal {
				return t, ValidationError{Field: "is_public", Reason: "personal tasks cannot be public"}
			}
			if t.AssigneeID != nil {
				return t, StateError{Current: "assigned", Reason: "assigned tasks cannot be opened for claims"}
			}
		}
		t.IsPublic = *opts.IsPublic
	}
	t.UpdatedAt = now
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// ChangeStatus moves a task to a new status. Any status can move to any
// other. Setting the current status again is a no-op and records nothing.
func (e Engine) ChangeStatus(ctx context.Context, taskID, newStatus, actorID string) (domain.Task, error) {
	if !domain.ValidStatus(newStatus) {
		return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status == newStatus {
		return t, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.status.change"); err != nil {
		return t, err
	}
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if t.Status == newStatus {
		return t, nil
	}
	old := t.Status
	t.Status = newStatus
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.record(ctx, tx, t.ID, actorID, history.Entry{
		Action:       domain.ActionStatusChanged,
		FieldChanged: strPtr("status"),
		OldValue:     &old,
		NewValue:     &newStatus,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// DeleteTask removes a task and all of its dependent records.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.delete"); err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string {
	return &s
}
