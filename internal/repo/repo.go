package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskdesk/internal/config"
	"taskdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type scanner interface {
	Scan(dest ...any) error
}

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO companies(id,name,status,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Name, c.Status, c.CreatedAt)
	return err
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	var c domain.Company
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,created_at FROM companies WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,created_at FROM companies ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SingleCompany returns the only company in the workspace, or an error when
// zero or several exist and the caller must pick one explicitly.
func (r Repo) SingleCompany(ctx context.Context) (domain.Company, error) {
	items, err := r.ListCompanies(ctx)
	if err != nil {
		return domain.Company{}, err
	}
	if len(items) == 0 {
		return domain.Company{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.Company{}, fmt.Errorf("multiple companies exist; specify --company")
	}
	return items[0], nil
}

func (r Repo) InsertDepartment(ctx context.Context, tx *sql.Tx, d domain.Department) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO departments(id,company_id,name,created_at) VALUES (?,?,?,?)`,
		d.ID, d.CompanyID, d.Name, d.CreatedAt)
	return err
}

func (r Repo) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	var d domain.Department
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,name,created_at FROM departments WHERE id=?`, id).
		Scan(&d.ID, &d.CompanyID, &d.Name, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDepartments(ctx context.Context, companyID string) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,company_id,name,created_at FROM departments WHERE company_id=? ORDER BY name ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.Name, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) UpsertCompanyConfig(ctx context.Context, companyID string, cfg *config.Config) error {
	return upsertCompanyConfig(ctx, r.DB, nil, companyID, cfg)
}

func (r Repo) UpsertCompanyConfigTx(ctx context.Context, tx *sql.Tx, companyID string, cfg *config.Config) error {
	return upsertCompanyConfig(ctx, nil, tx, companyID, cfg)
}

func upsertCompanyConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, companyID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Company.ID = companyID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO company_configs(company_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(company_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, companyID, string(payload), now, now)
	return err
}

func (r Repo) GetCompanyConfig(ctx context.Context, companyID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM company_configs WHERE company_id=?`, companyID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Company.ID == "" {
		cfg.Company.ID = companyID
	}
	return &cfg, cfg.Validate()
}

const taskColumns = `id,company_id,department_id,type,title,description,status,priority,created_by,assignee_id,due_date,estimated_hours,actual_hours,is_public,accepted_by,accepted_at,is_timer_running,current_timer_start,total_time_minutes,delegated_by,delegate_id,previous_assignee_id,created_at,updated_at`

func scanTask(sc scanner) (domain.Task, error) {
	var t domain.Task
	var departmentID, description, assigneeID, dueDate, acceptedBy, acceptedAt sql.NullString
	var currentTimerStart, delegatedBy, delegateID, previousAssignee sql.NullString
	var estimated, actual sql.NullFloat64
	var isPublic, timerRunning int
	err := sc.Scan(&t.ID, &t.CompanyID, &departmentID, &t.Type, &t.Title, &description, &t.Status, &t.Priority,
		&t.CreatedBy, &assigneeID, &dueDate, &estimated, &actual, &isPublic, &acceptedBy, &acceptedAt,
		&timerRunning, &currentTimerStart, &t.TotalTimeMinutes, &delegatedBy, &delegateID, &previousAssignee,
		&t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if departmentID.Valid {
		t.DepartmentID = &departmentID.String
	}
	if description.Valid {
		t.Description = description.String
	}
	if assigneeID.Valid {
		t.AssigneeID = &assigneeID.String
	}
	if dueDate.Valid {
		t.DueDate = &dueDate.String
	}
	if estimated.Valid {
		t.EstimatedHours = &estimated.Float64
	}
	if actual.Valid {
		t.ActualHours = &actual.Float64
	}
	t.IsPublic = isPublic != 0
	if acceptedBy.Valid {
		t.AcceptedBy = &acceptedBy.String
	}
	if acceptedAt.Valid {
		t.AcceptedAt = &acceptedAt.String
	}
	t.IsTimerRunning = timerRunning != 0
	if currentTimerStart.Valid {
		t.CurrentTimerStart = &currentTimerStart.String
	}
	if delegatedBy.Valid {
		t.DelegatedBy = &delegatedBy.String
	}
	if delegateID.Valid {
		t.DelegateID = &delegateID.String
	}
	if previousAssignee.Valid {
		t.PreviousAssigneeID = &previousAssignee.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CompanyID, nullableStringPtr(t.DepartmentID), t.Type, t.Title, nullable(t.Description),
		t.Status, t.Priority, t.CreatedBy, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate),
		nullableFloatPtr(t.EstimatedHours), nullableFloatPtr(t.ActualHours), boolInt(t.IsPublic),
		nullableStringPtr(t.AcceptedBy), nullableStringPtr(t.AcceptedAt), boolInt(t.IsTimerRunning),
		nullableStringPtr(t.CurrentTimerStart), t.TotalTimeMinutes, nullableStringPtr(t.DelegatedBy),
		nullableStringPtr(t.DelegateID), nullableStringPtr(t.PreviousAssigneeID), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, description=?, status=?, priority=?, assignee_id=?, due_date=?,
estimated_hours=?, actual_hours=?, is_public=?, accepted_by=?, accepted_at=?, is_timer_running=?, current_timer_start=?,
total_time_minutes=?, delegated_by=?, delegate_id=?, previous_assignee_id=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), t.Status, t.Priority, nullableStringPtr(t.AssigneeID), nullableStringPtr(t.DueDate),
		nullableFloatPtr(t.EstimatedHours), nullableFloatPtr(t.ActualHours), boolInt(t.IsPublic),
		nullableStringPtr(t.AcceptedBy), nullableStringPtr(t.AcceptedAt), boolInt(t.IsTimerRunning),
		nullableStringPtr(t.CurrentTimerStart), t.TotalTimeMinutes, nullableStringPtr(t.DelegatedBy),
		nullableStringPtr(t.DelegateID), nullableStringPtr(t.PreviousAssigneeID), t.UpdatedAt, t.ID)
	return err
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

// DeleteTask removes a task and its dependent rows in the caller's
// transaction. Dependent rows are cascade-deleted rather than orphaned.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	for _, table := range []string{"task_history", "task_time_logs", "task_transfers", "task_comments", "task_attachments"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE task_id=?`, id); err != nil {
			return err
		}
	}
	return nil
}

// TaskFilters narrows task listings. CompanyID is always required; the engine
// fills it from the tenant scope before querying.
type TaskFilters struct {
	CompanyID       string
	DepartmentID    string
	Type            string
	Status          string
	AssigneeID      string
	CreatedBy       string
	PublicOnly      bool
	UnassignedOnly  bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"company_id=?"}
	args := []any{f.CompanyID}
	if f.DepartmentID != "" {
		clauses = append(clauses, "department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "(assignee_id=? OR delegate_id=? OR created_by=?)")
		args = append(args, f.AssigneeID, f.AssigneeID, f.AssigneeID)
	}
	if f.CreatedBy != "" {
		clauses = append(clauses, "created_by=?")
		args = append(args, f.CreatedBy)
	}
	if f.PublicOnly {
		clauses = append(clauses, "is_public=1")
	}
	if f.UnassignedOnly {
		clauses = append(clauses, "assignee_id IS NULL AND accepted_by IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// AcceptPublicTask performs the claim as one conditional write. Eligibility
// (active membership in the task's scope) and the claim precondition live in
// the same WHERE clause, so there is no gap between check and mutation. The
// returned count is 0 when the claim did not apply.
func (r Repo) AcceptPublicTask(ctx context.Context, tx *sql.Tx, taskID, claimantID, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET
assignee_id=?, accepted_by=?, accepted_at=?, status=?, updated_at=?
WHERE id=?
  AND is_public=1
  AND assignee_id IS NULL
  AND accepted_by IS NULL
  AND type IN (?,?)
  AND EXISTS (
    SELECT 1 FROM memberships m
    WHERE m.user_id=? AND m.active=1
      AND ((tasks.type=? AND m.department_id=tasks.department_id)
        OR (tasks.type=? AND m.company_id=tasks.company_id))
  )`,
		claimantID, claimantID, now, domain.StatusInProgress, now,
		taskID,
		domain.TypeDepartment, domain.TypeCompany,
		claimantID, domain.TypeDepartment, domain.TypeCompany)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MarkTimerStarted flips the timer flag only when no timer is running,
// so two concurrent starts cannot both succeed.
func (r Repo) MarkTimerStarted(ctx context.Context, tx *sql.Tx, taskID, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET is_timer_running=1, current_timer_start=?, updated_at=? WHERE id=? AND is_timer_running=0`,
		now, now, taskID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) CountTasksByStatus(ctx context.Context, companyID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM tasks WHERE company_id=? GROUP BY status`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
