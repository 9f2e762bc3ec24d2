package access

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// LegacyRoleRecord is one row exported from a pre-unification role
// table. Each legacy table kept its own copy of the relationship, so
// the importer collapses them all into role_assignments.
type LegacyRoleRecord struct {
	Email           string
	FirstName       string
	LastName        string
	RoleType        RoleType
	AccessLevel     AccessLevel
	BusinessOwnerID *uuid.UUID
	Active          bool
	Projects        []ProjectGrantSpec
	CreatedAt       *time.Time
}

// MigrationReport summarizes one importer run.
type MigrationReport struct {
	Imported int
	Skipped  int
	Grants   int
}

// MigrateLegacyRoles imports exported legacy rows into the unified
// tables. Idempotent: a tuple that already exists is skipped, so the
// importer can be re-run after partial failures. Inactive legacy rows
// come over as deactivated rather than being dropped, preserving the
// audit trail.
func MigrateLegacyRoles(ctx context.Context, repo RepositoryManager, records []LegacyRoleRecord) (*MigrationReport, error) {
	report := &MigrationReport{}

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, rec := range records {
			if err := importLegacyRole(ctx, tx, repo, rec, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return report, richErr
		}
		return report, goerrors.Wrap(err, goerrors.CategoryInternal, "legacy role migration failed")
	}

	return report, nil
}

func importLegacyRole(ctx context.Context, tx bun.Tx, repo RepositoryManager, rec LegacyRoleRecord, report *MigrationReport) error {
	if !IsValidRoleType(string(rec.RoleType)) {
		return goerrors.New("unknown legacy role type", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"role_type": rec.RoleType, "email": rec.Email})
	}

	level, ok := ParseAccessLevel(string(rec.AccessLevel))
	if !ok {
		level = AccessViewer
	}

	user, err := repo.Users().GetOrCreateByEmailTx(ctx, tx, &User{
		Email:     rec.Email,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve legacy user")
	}

	existing, err := repo.Roles().FindTupleTx(ctx, tx, user.ID, rec.RoleType, rec.BusinessOwnerID)
	if err != nil && !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check existing assignment")
	}
	if existing != nil {
		report.Skipped++
		return nil
	}

	status := RoleStatusActive
	if !rec.Active {
		status = RoleStatusDeactivated
	}

	role := &RoleAssignment{
		ID:              uuid.New(),
		UserID:          user.ID,
		RoleType:        rec.RoleType,
		AccessLevel:     level,
		BusinessOwnerID: rec.BusinessOwnerID,
		Status:          status,
		CreatedAt:       rec.CreatedAt,
	}
	if role, err = repo.Roles().CreateTx(ctx, tx, role); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "failed to import legacy role")
	}
	report.Imported++

	if rec.RoleType != RoleSubcontractor || rec.BusinessOwnerID == nil {
		return nil
	}

	for _, spec := range rec.Projects {
		grantLevel := spec.AccessLevel
		if grantLevel == "" {
			grantLevel = level
		}
		grant := &ProjectGrant{
			ID:          uuid.New(),
			RoleID:      role.ID,
			ProjectID:   spec.ProjectID,
			OwnerID:     *rec.BusinessOwnerID,
			AccessLevel: grantLevel,
			Status:      RoleStatusActive,
		}
		if _, err := repo.ProjectGrants().CreateTx(ctx, tx, grant); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "failed to import project grant")
		}
		report.Grants++
	}

	return nil
}
