package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskdesk/internal/domain"
	"taskdesk/internal/engine/auth"
)

// TransferCreateOptions are parameters for requesting a transfer or
// delegation.
type TransferCreateOptions struct {
	TaskID   string
	ToUserID string
	Kind     string
	Reason   string
	ActorID  string
}

// CreateTransfer opens a pending transfer request. The from side is
// derived from the task, never taken from the caller: the current
// assignee when one exists, otherwise the creator.
func (e Engine) CreateTransfer(ctx context.Context, opts TransferCreateOptions) (domain.TaskTransfer, error) {
	if opts.Kind != domain.TransferKindDelegation && opts.Kind != domain.TransferKindTransfer {
		return domain.TaskTransfer{}, ValidationError{Field: "transfer_type", Reason: fmt.Sprintf("unknown kind %q", opts.Kind)}
	}
	if opts.ToUserID == "" {
		return domain.TaskTransfer{}, ValidationError{Field: "to_user_id", Reason: "must not be empty"}
	}
	t, err := e.Repo.GetTask(ctx, opts.TaskID)
	if err != nil {
		return domain.TaskTransfer{}, err
	}
	fromUserID := t.CreatedBy
	if t.AssigneeID != nil {
		fromUserID = *t.AssigneeID
	}
	if opts.ToUserID == fromUserID {
		return domain.TaskTransfer{}, ValidationError{Field: "to_user_id", Reason: "task is already with this user"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskTransfer{}, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, opts.ActorID, "task.transfer"); err != nil {
		return domain.TaskTransfer{}, err
	}
	var pending int
	err = tx.QueryRowContext(ctx, `SELECT count(*) FROM task_transfers WHERE task_id=? AND status=?`,
		opts.TaskID, domain.TransferPending).Scan(&pending)
	if err != nil {
		return domain.TaskTransfer{}, err
	}
	if pending > 0 {
		return domain.TaskTransfer{}, ConflictError{Resource: "transfer", Reason: "a pending transfer already exists for this task"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	tr := domain.TaskTransfer{
		ID:           uuid.New().String(),
		TaskID:       opts.TaskID,
		FromUserID:   fromUserID,
		ToUserID:     opts.ToUserID,
		TransferType: opts.Kind,
		Reason:       opts.Reason,
		Status:       domain.TransferPending,
		RequestedBy:  opts.ActorID,
		RequestedAt:  now,
	}
	if err := e.Repo.EnsureUser(ctx, tx, opts.ToUserID, now); err != nil {
		return domain.TaskTransfer{}, err
	}
	if err := e.Repo.InsertTransfer(ctx, tx, tr); err != nil {
		return domain.TaskTransfer{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskTransfer{}, err
	}
	return tr, nil
}

// RespondToTransfer accepts or rejects a pending transfer. Only the
// recipient may respond, rejection requires a reason, and a resolved
// transfer never changes again.
func (e Engine) RespondToTransfer(ctx context.Context, transferID string, accept bool, responseReason, actorID string) (domain.TaskTransfer, error) {
	tr, err := e.Repo.GetTransfer(ctx, transferID)
	if err != nil {
		return tr, err
	}
	if tr.ToUserID != actorID {
		return tr, auth.ForbiddenError{Permission: "transfer.respond"}
	}
	if !accept && strings.TrimSpace(responseReason) == "" {
		return tr, ValidationError{Field: "response_reason", Reason: "required when rejecting"}
	}
	t, err := e.Repo.GetTask(ctx, tr.TaskID)
	if err != nil {
		return tr, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return tr, err
	}
	defer tx.Rollback()

	if err := e.gate(ctx, tx, t.CompanyID, actorID, "task.transfer"); err != nil {
		return tr, err
	}
	tr, err = e.Repo.GetTransferTx(ctx, tx, transferID)
	if err != nil {
		return tr, err
	}
	if tr.Status != domain.TransferPending {
		return tr, ConflictError{Resource: "transfer", Reason: "transfer already responded"}
	}
	newStatus := domain.TransferAccepted
	if !accept {
		newStatus = domain.TransferRejected
	}
	now := e.now().UTC().Format(time.RFC3339)
	n, err := e.Repo.ResolveTransfer(ctx, tx, transferID, newStatus, now, responseReason)
	if err != nil {
		return tr, err
	}
	if n == 0 {
		return tr, ConflictError{Resource: "transfer", Reason: "transfer resolved concurrently"}
	}
	if accept {
		t, err = e.Repo.GetTaskTx(ctx, tx, tr.TaskID)
		if err != nil {
			return tr, err
		}
		switch tr.TransferType {
		case domain.TransferKindTransfer:
			t.PreviousAssigneeID = t.AssigneeID
			to := tr.ToUserID
			t.AssigneeID = &to
			t.DelegatedBy = nil
			t.DelegateID = nil
		case domain.TransferKindDelegation:
			from := tr.FromUserID
			to := tr.ToUserID
			t.DelegatedBy = &from
			t.DelegateID = &to
		}
		t.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return tr, err
		}
	}
	if err := tx.Commit(); err != nil {
		return tr, err
	}
	tr.Status = newStatus
	tr.RespondedAt = &now
	if responseReason != "" {
		tr.ResponseReason = &responseReason
	}
	return tr, nil
}

// PendingTransfers lists open requests addressed to a user.
func (e Engine) PendingTransfers(ctx context.Context, userID string) ([]domain.TaskTransfer, error) {
	return e.Repo.ListPendingTransfersFor(ctx, userID)
}

// TransferHistory lists resolved and pending transfers involving a user
// within a company.
func (e Engine) TransferHistory(ctx context.Context, companyID, userID string) ([]domain.TaskTransfer, error) {
	return e.Repo.ListTransferHistory(ctx, companyID, userID)
}
