package auth

import (
	"context"
	"database/sql"
	"fmt"

	"taskdesk/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) HasPermission(ctx context.Context, tx *sql.Tx, companyID, userID, perm string) (bool, error) {
	row := tx.QueryRowContext(ctx, `
SELECT 1 FROM user_roles ur
JOIN role_permissions rp ON rp.role_id=ur.role_id
WHERE ur.company_id=? AND ur.user_id=? AND rp.permission_id=? LIMIT 1`,
		companyID, userID, perm)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s Service) UserRoles(ctx context.Context, tx *sql.Tx, companyID, userID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT role_id FROM user_roles WHERE company_id=? AND user_id=?`, companyID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

func (s Service) UserPermissions(ctx context.Context, tx *sql.Tx, companyID, userID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
SELECT DISTINCT rp.permission_id
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id=ur.role_id
WHERE ur.company_id=? AND ur.user_id=?`, companyID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// IsActiveMember reports whether the user holds an active membership in the
// given scope. For departments the membership must name the department; for
// companies any active membership in the company counts.
func (s Service) IsActiveMember(ctx context.Context, tx *sql.Tx, scopeType, scopeID, userID string) (bool, error) {
	var row *sql.Row
	switch scopeType {
	case domain.TypeDepartment:
		row = tx.QueryRowContext(ctx, `SELECT 1 FROM memberships WHERE department_id=? AND user_id=? AND active=1 LIMIT 1`,
			scopeID, userID)
	case domain.TypeCompany:
		row = tx.QueryRowContext(ctx, `SELECT 1 FROM memberships WHERE company_id=? AND user_id=? AND active=1 LIMIT 1`,
			scopeID, userID)
	default:
		return false, fmt.Errorf("unknown scope type %q", scopeType)
	}
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
