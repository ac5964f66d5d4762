package history

import (
	"context"
	"database/sql"
	"time"
)

// Recorder appends task history rows inside the caller's transaction. It is
// the only writer of task_history; mutating operations call it explicitly so
// the recorded actions are visible at the call sites.
type Recorder struct {
	DB  *sql.DB
	Now func() time.Time
}

// Entry describes one history row. Optional fields stay nil.
type Entry struct {
	Action       string
	FieldChanged *string
	OldValue     *string
	NewValue     *string
}

func (r Recorder) Append(ctx context.Context, tx *sql.Tx, taskID, changedBy string, e Entry) error {
	now := r.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO task_history(task_id,action,field_changed,old_value,new_value,changed_by,changed_at) VALUES (?,?,?,?,?,?,?)`,
		taskID, e.Action, nullableStringPtr(e.FieldChanged), nullableStringPtr(e.OldValue), nullableStringPtr(e.NewValue), changedBy, ts)
	return err
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
