package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

// ListHistory returns a task's audit trail oldest first. Rows are written only
// by history.Recorder; this is the read side.
func (r Repo) ListHistory(ctx context.Context, taskID string) ([]domain.TaskHistory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,action,field_changed,old_value,new_value,changed_by,changed_at
FROM task_history WHERE task_id=? ORDER BY changed_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskHistory
	for rows.Next() {
		var h domain.TaskHistory
		var fieldChanged, oldValue, newValue sql.NullString
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Action, &fieldChanged, &oldValue, &newValue, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		if fieldChanged.Valid {
			h.FieldChanged = &fieldChanged.String
		}
		if oldValue.Valid {
			h.OldValue = &oldValue.String
		}
		if newValue.Valid {
			h.NewValue = &newValue.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// HistoryAfter returns history rows with IDs greater than the cursor in
// ascending order, for webhook delivery.
func (r Repo) HistoryAfter(ctx context.Context, limit int, cursor int64, companyID string) ([]domain.TaskHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT h.id,h.task_id,h.action,h.field_changed,h.old_value,h.new_value,h.changed_by,h.changed_at
FROM task_history h JOIN tasks t ON t.id=h.task_id
WHERE t.company_id=? AND h.id>? ORDER BY h.id ASC LIMIT ?`, companyID, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskHistory
	for rows.Next() {
		var h domain.TaskHistory
		var fieldChanged, oldValue, newValue sql.NullString
		if err := rows.Scan(&h.ID, &h.TaskID, &h.Action, &fieldChanged, &oldValue, &newValue, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		if fieldChanged.Valid {
			h.FieldChanged = &fieldChanged.String
		}
		if oldValue.Valid {
			h.OldValue = &oldValue.String
		}
		if newValue.Valid {
			h.NewValue = &newValue.String
		}
		res = append(res, h)
	}
	return res, rows.Err()
}

// LatestHistoryID returns the highest history row ID visible for a company,
// or 0 when none exist. Webhook dispatchers start their cursor here.
func (r Repo) LatestHistoryID(ctx context.Context, companyID string) (int64, error) {
	var id sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT max(h.id) FROM task_history h
JOIN tasks t ON t.id=h.task_id WHERE t.company_id=?`, companyID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// CountHistory returns the number of history rows for a task.
func (r Repo) CountHistory(ctx context.Context, taskID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM task_history WHERE task_id=?`, taskID).Scan(&n)
	return n, err
}
