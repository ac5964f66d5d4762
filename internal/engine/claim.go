package engine

import (
	"context"
	"database/sql"
	"time"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/auth"
	"taskdesk/internal/history"
)

// AcceptPublicTask claims an open public task for the actor. Eligibility
// and the unclaimed precondition are folded into a single conditional
// UPDATE, so under concurrent claims exactly one caller wins; every
// loser gets an error naming why it lost.
func (e Engine) AcceptPublicTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return t, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return t, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.claim"); err != nil {
		return t, err
	}
	before, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	n, err := e.Repo.AcceptPublicTask(ctx, tx, taskID, actorID, now)
	if err != nil {
		return t, err
	}
	if n == 0 {
		return t, e.diagnoseClaimLoss(ctx, tx, before, actorID)
	}
	old := before.Status
	newStatus := domain.StatusInProgress
	if err := e.record(ctx, tx, taskID, actorID, history.Entry{
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
	return e.Repo.GetTask(ctx, taskID)
}

// diagnoseClaimLoss explains a claim the conditional UPDATE refused. The
// checks mirror the UPDATE's WHERE clause in order.
func (e Engine) diagnoseClaimLoss(ctx context.Context, tx *sql.Tx, t domain.Task, actorID string) error {
	if !t.IsPublic || t.Type == domain.TypePersonal {
		return StateError{Current: t.Status, Reason: "task is not open for claims"}
	}
	if t.AssigneeID != nil || t.AcceptedBy != nil {
		return ConflictError{Resource: "task", Reason: "task already claimed"}
	}
	scopeID := t.CompanyID
	if t.Type == domain.TypeDepartment {
		if t.DepartmentID == nil {
			return StateError{Current: t.Status, Reason: "department task has no department"}
		}
		scopeID = *t.DepartmentID
	}
	ok, err := e.Auth.IsActiveMember(ctx, tx, t.Type, scopeID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: "task.claim"}
	}
	// Preconditions held at read time but the UPDATE still refused:
	// another claimant committed between the read and the write.
	return ConflictError{Resource: "task", Reason: "task claimed concurrently"}
}
