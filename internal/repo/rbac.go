package repo

import (
	"context"
	"database/sql"

	"taskdesk/internal/domain"
)

func (r Repo) EnsureUser(ctx context.Context, tx *sql.Tx, userID string, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO users(id, created_at) VALUES (?,?)`, userID, now)
	return err
}

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, desc)
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleID, permID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, permID)
	return err
}

func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, companyID, userID, roleID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO user_roles(company_id, user_id, role_id) VALUES (?,?,?)`, companyID, userID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, companyID, userID, roleID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE company_id=? AND user_id=? AND role_id=?`, companyID, userID, roleID)
	return err
}

// UpsertMembership replaces the membership row for (company, department,
// user). Department-less rows carry NULL, which SQLite unique indexes treat
// as distinct, so the old row is deleted explicitly instead of relying on
// ON CONFLICT.
func (r Repo) UpsertMembership(ctx context.Context, tx *sql.Tx, m domain.Membership) error {
	if m.DepartmentID == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE company_id=? AND department_id IS NULL AND user_id=?`,
			m.CompanyID, m.UserID); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM memberships WHERE company_id=? AND department_id=? AND user_id=?`,
			m.CompanyID, *m.DepartmentID, m.UserID); err != nil {
			return err
		}
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO memberships(company_id, department_id, user_id, active, created_at) VALUES (?,?,?,?,?)`,
		m.CompanyID, nullableStringPtr(m.DepartmentID), m.UserID, boolInt(m.Active), m.CreatedAt)
	return err
}

func (r Repo) ListMemberships(ctx context.Context, companyID string) ([]domain.Membership, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT company_id, department_id, user_id, active, created_at FROM memberships WHERE company_id=? ORDER BY user_id ASC`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membership
	for rows.Next() {
		var m domain.Membership
		var departmentID sql.NullString
		var active int
		if err := rows.Scan(&m.CompanyID, &departmentID, &m.UserID, &active, &m.CreatedAt); err != nil {
			return nil, err
		}
		if departmentID.Valid {
			m.DepartmentID = &departmentID.String
		}
		m.Active = active != 0
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UserRoles(ctx context.Context, companyID, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT role_id FROM user_roles WHERE company_id=? AND user_id=?`, companyID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
