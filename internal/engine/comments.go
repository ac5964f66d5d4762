package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/history"
)

func (e Engine) AddComment(ctx context.Context, taskID, actorID, body string) (domain.TaskComment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.TaskComment{}, ValidationError{Field: "body", Reason: "must not be empty"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskComment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskComment{}, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.comment"); err != nil {
		return domain.TaskComment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.TaskComment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    actorID,
		Body:      body,
		CreatedAt: now,
	}
	if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
		return c, err
	}
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.record(ctx, tx, taskID, actorID, history.Entry{Action: domain.ActionCommentAdded}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

func (e Engine) AddAttachment(ctx context.Context, taskID, actorID, fileName, fileURL string) (domain.TaskAttachment, error) {
	if strings.TrimSpace(fileName) == "" {
		return domain.TaskAttachment{}, ValidationError{Field: "file_name", Reason: "must not be empty"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskAttachment{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskAttachment{}, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.comment"); err != nil {
		return domain.TaskAttachment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.TaskAttachment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    actorID,
		FileName:  fileName,
		FileURL:   fileURL,
		CreatedAt: now,
	}
	if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
		return a, err
	}
	if err := e.Repo.InsertAttachment(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.record(ctx, tx, taskID, actorID, history.Entry{
		Action:       domain.ActionAttachmentAdded,
		FieldChanged: strPtr("file_name"),
		NewValue:     &fileName,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}
