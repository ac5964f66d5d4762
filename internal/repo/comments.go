package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

func (r Repo) InsertComment(ctx context.Context, tx *sql.Tx, c domain.TaskComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_comments(id,task_id,user_id,body,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.UserID, c.Body, c.CreatedAt)
	return err
}

func (r Repo) ListComments(ctx context.Context, taskID string) ([]domain.TaskComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,body,created_at FROM task_comments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskComment
	for rows.Next() {
		var c domain.TaskComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Body, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertAttachment(ctx context.Context, tx *sql.Tx, a domain.TaskAttachment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_attachments(id,task_id,user_id,file_name,file_url,created_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.TaskID, a.UserID, a.FileName, a.FileURL, a.CreatedAt)
	return err
}

func (r Repo) ListAttachments(ctx context.Context, taskID string) ([]domain.TaskAttachment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,file_name,file_url,created_at FROM task_attachments WHERE task_id=? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskAttachment
	for rows.Next() {
		var a domain.TaskAttachment
		if err := rows.Scan(&a.ID, &a.TaskID, &a.UserID, &a.FileName, &a.FileURL, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
