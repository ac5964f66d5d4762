package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

func scanTimeLog(sc scanner) (domain.TaskTimeLog, error) {
	var l domain.TaskTimeLog
	var endedAt, description sql.NullString
	var duration sql.NullInt64
	err := sc.Scan(&l.ID, &l.TaskID, &l.UserID, &l.StartedAt, &endedAt, &duration, &description)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if endedAt.Valid {
		l.EndedAt = &endedAt.String
	}
	if duration.Valid {
		d := int(duration.Int64)
		l.DurationMinutes = &d
	}
	if description.Valid {
		l.Description = description.String
	}
	return l, nil
}

func (r Repo) InsertTimeLog(ctx context.Context, tx *sql.Tx, l domain.TaskTimeLog) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_time_logs(id,task_id,user_id,started_at,ended_at,duration_minutes,description) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.TaskID, l.UserID, l.StartedAt, nullableStringPtr(l.EndedAt), nullableIntPtr(l.DurationMinutes), nullable(l.Description))
	return err
}

// OpenTimeLogTx returns the most recent open log for (task, user).
func (r Repo) OpenTimeLogTx(ctx context.Context, tx *sql.Tx, taskID, userID string) (domain.TaskTimeLog, error) {
	return scanTimeLog(tx.QueryRowContext(ctx, `SELECT id,task_id,user_id,started_at,ended_at,duration_minutes,description
FROM task_time_logs WHERE task_id=? AND user_id=? AND ended_at IS NULL ORDER BY started_at DESC LIMIT 1`, taskID, userID))
}

func (r Repo) CloseTimeLog(ctx context.Context, tx *sql.Tx, id, endedAt string, durationMinutes int, description string) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_time_logs SET ended_at=?, duration_minutes=?, description=? WHERE id=? AND ended_at IS NULL`,
		endedAt, durationMinutes, nullable(description), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SumClosedMinutesTx totals duration over all closed logs for a task.
func (r Repo) SumClosedMinutesTx(ctx context.Context, tx *sql.Tx, taskID string) (int, error) {
	var total int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(duration_minutes),0) FROM task_time_logs WHERE task_id=? AND ended_at IS NOT NULL`, taskID).Scan(&total)
	return total, err
}

func (r Repo) ListTimeLogs(ctx context.Context, taskID string) ([]domain.TaskTimeLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,started_at,ended_at,duration_minutes,description
FROM task_time_logs WHERE task_id=? ORDER BY started_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskTimeLog
	for rows.Next() {
		l, err := scanTimeLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
