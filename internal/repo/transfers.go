package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

func scanTransfer(sc scanner) (domain.TaskTransfer, error) {
	var tr domain.TaskTransfer
	var reason, respondedAt, responseReason sql.NullString
	err := sc.Scan(&tr.ID, &tr.TaskID, &tr.FromUserID, &tr.ToUserID, &tr.TransferType, &reason,
		&tr.Status, &tr.RequestedBy, &tr.RequestedAt, &respondedAt, &responseReason)
	if err == sql.ErrNoRows {
		return tr, ErrNotFound
	}
	if err != nil {
		return tr, err
	}
	if reason.Valid {
		tr.Reason = reason.String
	}
	if respondedAt.Valid {
		tr.RespondedAt = &respondedAt.String
	}
	if responseReason.Valid {
		tr.ResponseReason = &responseReason.String
	}
	return tr, nil
}

const transferColumns = `id,task_id,from_user_id,to_user_id,transfer_type,reason,status,requested_by,requested_at,responded_at,response_reason`

func (r Repo) InsertTransfer(ctx context.Context, tx *sql.Tx, tr domain.TaskTransfer) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO task_transfers(`+transferColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		tr.ID, tr.TaskID, tr.FromUserID, tr.ToUserID, tr.TransferType, nullable(tr.Reason),
		tr.Status, tr.RequestedBy, tr.RequestedAt, nullableStringPtr(tr.RespondedAt), nullableStringPtr(tr.ResponseReason))
	return err
}

func (r Repo) GetTransfer(ctx context.Context, id string) (domain.TaskTransfer, error) {
	return scanTransfer(r.DB.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM task_transfers WHERE id=?`, id))
}

func (r Repo) GetTransferTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskTransfer, error) {
	return scanTransfer(tx.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM task_transfers WHERE id=?`, id))
}

// ResolveTransfer marks a pending transfer terminal. The pending-only guard in
// the WHERE clause makes a second concurrent response lose cleanly.
func (r Repo) ResolveTransfer(ctx context.Context, tx *sql.Tx, id, status, respondedAt, responseReason string) (int64, error) {
	res, err := tx.ExecContext(ctx, `UPDATE task_transfers SET status=?, responded_at=?, response_reason=? WHERE id=? AND status=?`,
		status, respondedAt, nullable(responseReason), id, domain.TransferPending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) ListPendingTransfersFor(ctx context.Context, userID string) ([]domain.TaskTransfer, error) {
	return r.listTransfers(ctx, `SELECT `+transferColumns+` FROM task_transfers WHERE to_user_id=? AND status=? ORDER BY requested_at DESC, id DESC`,
		userID, domain.TransferPending)
}

// ListTransferHistory returns every transfer where the user was either side,
// scoped to the company's tasks.
func (r Repo) ListTransferHistory(ctx context.Context, companyID, userID string) ([]domain.TaskTransfer, error) {
	return r.listTransfers(ctx, `SELECT tr.`+transferColumnsAliased("tr")+` FROM task_transfers tr
JOIN tasks t ON t.id=tr.task_id
WHERE t.company_id=? AND (tr.from_user_id=? OR tr.to_user_id=? OR tr.requested_by=?)
ORDER BY tr.requested_at DESC, tr.id DESC`, companyID, userID, userID, userID)
}

func transferColumnsAliased(alias string) string {
	return `id,` + alias + `.task_id,` + alias + `.from_user_id,` + alias + `.to_user_id,` + alias + `.transfer_type,` + alias + `.reason,` + alias + `.status,` + alias + `.requested_by,` + alias + `.requested_at,` + alias + `.responded_at,` + alias + `.response_reason`
}

func (r Repo) listTransfers(ctx context.Context, query string, args ...any) ([]domain.TaskTransfer, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskTransfer
	for rows.Next() {
		tr, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, tr)
	}
	return res, rows.Err()
}
