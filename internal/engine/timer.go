package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/history"
	"taskdesk/internal/repo"
)

// StartTimer opens a time log for the task. A task carries at most one
// running timer; a second start fails with ConflictError no matter who
// asks.
func (e Engine) StartTimer(ctx context.Context, taskID, actorID, description string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.timer"); err != nil {
		return t, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	n, err := e.Repo.MarkTimerStarted(ctx, tx, taskID, now)
	if err != nil {
		return t, err
	}
	if n == 0 {
		return t, ConflictError{Resource: "timer", Reason: fmt.Sprintf("timer already running on task %s", taskID)}
	}
	if err := e.Repo.EnsureUser(ctx, tx, actorID, now); err != nil {
		return t, err
	}
	if err := e.Repo.InsertTimeLog(ctx, tx, domain.TaskTimeLog{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		UserID:      actorID,
		StartedAt:   now,
		Description: description,
	}); err != nil {
		return t, err
	}
	if err := e.record(ctx, tx, taskID, actorID, history.Entry{Action: domain.ActionTimerStarted}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return e.Repo.GetTask(ctx, taskID)
}

// StopTimer closes the open time log, rounds the elapsed time to whole
// minutes (half up) and folds it into the task total.
func (e Engine) StopTimer(ctx context.Context, taskID, actorID, description string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.timer"); err != nil {
		return t, err
	}
	t, err = e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if !t.IsTimerRunning {
		return t, StateError{Current: "stopped", Reason: "no timer running"}
	}
	l, err := e.Repo.OpenTimeLogTx(ctx, tx, taskID, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return t, StateError{Current: "running", Reason: "timer was started by another user"}
		}
		return t, err
	}
	started, err := time.Parse(time.RFC3339, l.StartedAt)
	if err != nil {
		return t, fmt.Errorf("parse started_at: %w", err)
	}
	now := e.now().UTC()
	minutes := roundMinutes(now.Sub(started))
	nowStr := now.Format(time.RFC3339)
	if description == "" {
		description = l.Description
	}
	if err := e.Repo.CloseTimeLog(ctx, tx, l.ID, nowStr, minutes, description); err != nil {
		return t, err
	}
	total, err := e.Repo.SumClosedMinutesTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	t.IsTimerRunning = false
	t.CurrentTimerStart = nil
	t.TotalTimeMinutes = total
	t.UpdatedAt = nowStr
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	newVal := fmt.Sprintf("%d", minutes)
	if err := e.record(ctx, tx, taskID, actorID, history.Entry{
		Action:       domain.ActionTimerStopped,
		FieldChanged: strPtr("duration_minutes"),
		NewValue:     &newVal,
	}); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// roundMinutes converts a duration to whole minutes, rounding half up.
// 90s becomes 2, 89s becomes 1.
func roundMinutes(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int((d + 30*time.Second) / time.Minute)
}
