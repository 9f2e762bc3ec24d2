package access

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ProjectGrants interface {
	repository.Repository[*ProjectGrant]

	// ActiveForRole returns the live active grants hanging off one
	// subcontractor assignment.
	ActiveForRole(ctx context.Context, roleID uuid.UUID) ([]*ProjectGrant, error)
	// ActiveForUser resolves grants through the role table so a
	// deactivated or removed assignment takes its grants with it.
	ActiveForUser(ctx context.Context, userID uuid.UUID) ([]*ProjectGrant, error)
	ForProject(ctx context.Context, projectID uuid.UUID) ([]*ProjectGrant, error)
	UpdateAccessLevel(ctx context.Context, id uuid.UUID, level AccessLevel) (*ProjectGrant, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeForRole(ctx context.Context, roleID uuid.UUID) error
}

type projectGrants struct {
	repository.Repository[*ProjectGrant]
	db *bun.DB
}

var _ ProjectGrants = (*projectGrants)(nil)

func NewProjectGrantsRepository(db *bun.DB) ProjectGrants {
	repo := repository.NewRepository[*ProjectGrant](db, repository.ModelHandlers[*ProjectGrant]{
		NewRecord: func() *ProjectGrant { return &ProjectGrant{} },
		GetID: func(g *ProjectGrant) uuid.UUID {
			if g == nil {
				return uuid.Nil
			}
			return g.ID
		},
		SetID: func(g *ProjectGrant, id uuid.UUID) {
			if g != nil {
				g.ID = id
			}
		},
	})

	return &projectGrants{
		Repository: repo,
		db:         db,
	}
}

func (a *projectGrants) ActiveForRole(ctx context.Context, roleID uuid.UUID) ([]*ProjectGrant, error) {
	var records []*ProjectGrant
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.role_id = ?", roleID).
		Where("?TableAlias.status = ?", RoleStatusActive).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (a *projectGrants) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]*ProjectGrant, error) {
	var records []*ProjectGrant
	err := a.db.NewSelect().
		Model(&records).
		Join(`JOIN role_assignments AS role ON role.id = ?TableAlias.role_id`).
		Where("role.user_id = ?", userID).
		Where("role.status = ?", RoleStatusActive).
		Where("role.deleted_at IS NULL").
		Where("?TableAlias.status = ?", RoleStatusActive).
		Order("grant.created_at ASC").
		Scan(ctx)
	return records, err
}

func (a *projectGrants) ForProject(ctx context.Context, projectID uuid.UUID) ([]*ProjectGrant, error) {
	var records []*ProjectGrant
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.project_id = ?", projectID).
		Order("created_at ASC").
		Scan(ctx)
	return records, err
}

func (a *projectGrants) UpdateAccessLevel(ctx context.Context, id uuid.UUID, level AccessLevel) (*ProjectGrant, error) {
	_, err := a.db.NewUpdate().
		Model((*ProjectGrant)(nil)).
		Set("access_level = ?", level).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return a.GetByID(ctx, id.String())
}

func (a *projectGrants) Revoke(ctx context.Context, id uuid.UUID) error {
	now := time.Now()
	_, err := a.db.NewUpdate().
		Model((*ProjectGrant)(nil)).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *projectGrants) RevokeForRole(ctx context.Context, roleID uuid.UUID) error {
	now := time.Now()
	_, err := a.db.NewUpdate().
		Model((*ProjectGrant)(nil)).
		Set("deleted_at = ?", now).
		Set("updated_at = ?", now).
		Where("role_id = ?", roleID).
		Exec(ctx)
	return err
}
