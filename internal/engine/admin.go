package engine

import (
	"context"
	"strings"
	"time"

	"taskdesk/internal/domain"
)

// WhoAmI describes the roles and permissions a user holds in a company.
type WhoAmIResult struct {
	Roles       []string
	Permissions []string
}

func (e Engine) CreateDepartment(ctx context.Context, companyID, id, name string) (domain.Department, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Department{}, ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(name) == "" {
		return domain.Department{}, ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return domain.Department{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Department{}, err
	}
	defer tx.Rollback()
	d := domain.Department{
		ID:        id,
		CompanyID: companyID,
		Name:      name,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertDepartment(ctx, tx, d); err != nil {
		return domain.Department{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Department{}, err
	}
	return d, nil
}

func (e Engine) UpsertMembership(ctx context.Context, companyID string, departmentID *string, userID string, active bool) (domain.Membership, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Membership{}, ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return domain.Membership{}, err
	}
	if departmentID != nil {
		d, err := e.Repo.GetDepartment(ctx, *departmentID)
		if err != nil {
			return domain.Membership{}, err
		}
		if d.CompanyID != companyID {
			return domain.Membership{}, ValidationError{Field: "department_id", Reason: "department belongs to another company"}
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureUser(ctx, tx, userID, now); err != nil {
		return domain.Membership{}, err
	}
	m := domain.Membership{
		CompanyID:    companyID,
		DepartmentID: departmentID,
		UserID:       userID,
		Active:       active,
		CreatedAt:    now,
	}
	if err := e.Repo.UpsertMembership(ctx, tx, m); err != nil {
		return domain.Membership{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Membership{}, err
	}
	return m, nil
}

// GrantRole assigns roleID to targetID. The actor needs task.update, which
// only owner and manager roles carry by default.
func (e Engine) GrantRole(ctx context.Context, companyID, actorID, targetID, roleID string) error {
	if strings.TrimSpace(targetID) == "" {
		return ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if strings.TrimSpace(roleID) == "" {
		return ValidationError{Field: "role_id", Reason: "must not be empty"}
	}
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.gate(ctx, tx, companyID, actorID, "task.update"); err != nil {
		return err
	}
	if err := e.Repo.EnsureUser(ctx, tx, targetID, e.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, companyID, targetID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeUserRole(ctx context.Context, companyID, actorID, targetID, roleID string) error {
	if strings.TrimSpace(targetID) == "" {
		return ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.gate(ctx, tx, companyID, actorID, "task.update"); err != nil {
		return err
	}
	if err := e.Repo.RevokeRole(ctx, tx, companyID, targetID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) WhoAmI(ctx context.Context, companyID, userID string) (WhoAmIResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return WhoAmIResult{}, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.UserRoles(ctx, tx, companyID, userID)
	if err != nil {
		return WhoAmIResult{}, err
	}
	perms, err := e.Auth.UserPermissions(ctx, tx, companyID, userID)
	if err != nil {
		return WhoAmIResult{}, err
	}
	return WhoAmIResult{Roles: roles, Permissions: perms}, nil
}
