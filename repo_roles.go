package access

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Roles interface {
	repository.Repository[*RoleAssignment]

	// ListForUser returns every live (non-deleted) assignment held by a
	// user, across tenants, for check-roles and role selection.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*RoleAssignment, error)
	// TeamForOwner returns the live assignments scoped to one tenant.
	TeamForOwner(ctx context.Context, ownerID uuid.UUID) ([]*RoleAssignment, error)

	// FindTuple locates the assignment for (user, roleType, owner),
	// including soft-deleted rows so re-invites can reactivate in place.
	FindTuple(ctx context.Context, userID uuid.UUID, roleType RoleType, ownerID *uuid.UUID) (*RoleAssignment, error)
	FindTupleTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleType RoleType, ownerID *uuid.UUID) (*RoleAssignment, error)

	// ActiveOfType returns a live active assignment of the given type.
	ActiveOfType(ctx context.Context, userID uuid.UUID, roleType RoleType) (*RoleAssignment, error)
	// ActiveGrantForClient returns the active accountant assignment
	// binding userID to the ownerID tenant.
	ActiveGrantForClient(ctx context.Context, userID, ownerID uuid.UUID) (*RoleAssignment, error)

	// GetByInviteToken finds the live assignment an invitation token was
	// minted for.
	GetByInviteToken(ctx context.Context, token string) (*RoleAssignment, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status RoleStatus) (*RoleAssignment, error)
	// Reactivate clears the delete flag and resets a soft-deleted
	// assignment to invited with a fresh invite token.
	Reactivate(ctx context.Context, id uuid.UUID, inviteToken string, expiresAt time.Time) (*RoleAssignment, error)
	ReactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, inviteToken string, expiresAt time.Time) (*RoleAssignment, error)
	// Remove soft-deletes the assignment and records who removed it.
	Remove(ctx context.Context, id uuid.UUID, removedBy uuid.UUID) error
	StoreInviteToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	ClearInviteToken(ctx context.Context, id uuid.UUID) error
	TouchAccess(ctx context.Context, id uuid.UUID) error
}

type roles struct {
	repository.Repository[*RoleAssignment]
	db *bun.DB
}

var (
	_ Roles                                  = (*roles)(nil)
	_ repository.Repository[*RoleAssignment] = (*roles)(nil)
)

func NewRolesRepository(db *bun.DB) Roles {
	repo := repository.NewRepository[*RoleAssignment](db, repository.ModelHandlers[*RoleAssignment]{
		NewRecord: func() *RoleAssignment { return &RoleAssignment{} },
		GetID: func(r *RoleAssignment) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *RoleAssignment, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &roles{
		Repository: repo,
		db:         db,
	}
}

func (a *roles) ListForUser(ctx context.Context, userID uuid.UUID) ([]*RoleAssignment, error) {
	var records []*RoleAssignment
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (a *roles) TeamForOwner(ctx context.Context, ownerID uuid.UUID) ([]*RoleAssignment, error) {
	var records []*RoleAssignment
	err := a.db.NewSelect().
		Model(&records).
		Relation("User").
		Where("?TableAlias.business_owner_id = ?", ownerID).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (a *roles) FindTuple(ctx context.Context, userID uuid.UUID, roleType RoleType, ownerID *uuid.UUID) (*RoleAssignment, error) {
	return a.FindTupleTx(ctx, a.db, userID, roleType, ownerID)
}

func (a *roles) FindTupleTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleType RoleType, ownerID *uuid.UUID) (*RoleAssignment, error) {
	record := &RoleAssignment{}
	q := tx.NewSelect().
		Model(record).
		WhereAllWithDeleted().
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.role_type = ?", roleType)

	if ownerID != nil {
		q = q.Where("?TableAlias.business_owner_id = ?", *ownerID)
	} else {
		q = q.Where("?TableAlias.business_owner_id IS NULL")
	}

	if err := q.Limit(1).Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id":   userID.String(),
					"role_type": roleType,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *roles) ActiveOfType(ctx context.Context, userID uuid.UUID, roleType RoleType) (*RoleAssignment, error) {
	record := &RoleAssignment{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.role_type = ?", roleType).
		Where("?TableAlias.status = ?", RoleStatusActive).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func (a *roles) ActiveGrantForClient(ctx context.Context, userID, ownerID uuid.UUID) (*RoleAssignment, error) {
	record := &RoleAssignment{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Where("?TableAlias.role_type = ?", RoleAccountant).
		Where("?TableAlias.business_owner_id = ?", ownerID).
		Where("?TableAlias.status = ?", RoleStatusActive).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func (a *roles) GetByInviteToken(ctx context.Context, token string) (*RoleAssignment, error) {
	if token == "" {
		return nil, ErrNoEmptyString
	}

	record := &RoleAssignment{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.invite_token = ?", token).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound()
		}
		return nil, err
	}

	return record, nil
}

func (a *roles) UpdateStatus(ctx context.Context, id uuid.UUID, status RoleStatus) (*RoleAssignment, error) {
	now := time.Now()
	_, err := a.db.NewUpdate().
		Model((*RoleAssignment)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return a.GetByID(ctx, id.String())
}

func (a *roles) Reactivate(ctx context.Context, id uuid.UUID, inviteToken string, expiresAt time.Time) (*RoleAssignment, error) {
	return a.ReactivateTx(ctx, a.db, id, inviteToken, expiresAt)
}

func (a *roles) ReactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, inviteToken string, expiresAt time.Time) (*RoleAssignment, error) {
	now := time.Now()
	_, err := tx.NewUpdate().
		Model((*RoleAssignment)(nil)).
		ModelTableExpr(`"role_assignments" AS "role"`).
		Set("deleted_at = NULL").
		Set("removed_by = NULL").
		Set("status = ?", RoleStatusInvited).
		Set("invite_token = ?", inviteToken).
		Set("invite_expires_at = ?", expiresAt).
		Set("updated_at = ?", now).
		Where(`"role"."id" = ?`, id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	record := &RoleAssignment{}
	if err := tx.NewSelect().Model(record).Where("?TableAlias.id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (a *roles) Remove(ctx context.Context, id uuid.UUID, removedBy uuid.UUID) error {
	now := time.Now()
	_, err := a.db.NewUpdate().
		Model((*RoleAssignment)(nil)).
		Set("deleted_at = ?", now).
		Set("removed_by = ?", removedBy).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *roles) StoreInviteToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := a.db.NewUpdate().
		Model((*RoleAssignment)(nil)).
		Set("invite_token = ?", token).
		Set("invite_expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *roles) ClearInviteToken(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewUpdate().
		Model((*RoleAssignment)(nil)).
		Set("invite_token = NULL").
		Set("invite_expires_at = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// TouchAccess is a last-write-wins timestamp update; concurrent role
// resolutions are not coordinated and do not need to be.
func (a *roles) TouchAccess(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewUpdate().
		Model((*RoleAssignment)(nil)).
		Set("last_accessed_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
