package access

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Roles() Roles
	ProjectGrants() ProjectGrants
}

type mngr struct {
	db     *bun.DB
	users  Users
	roles  Roles
	grants ProjectGrants
}

var _ ResolverStore = (*mngr)(nil)

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:     db,
		users:  NewUsersRepository(db),
		roles:  NewRolesRepository(db),
		grants: NewProjectGrantsRepository(db),
	}
}

func (m *mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.grants == nil {
		return errors.New("repository projectGrants should be initialized")
	}

	return nil
}

func (m *mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *mngr) Users() Users {
	return m.users
}

func (m *mngr) Roles() Roles {
	return m.roles
}

func (m *mngr) ProjectGrants() ProjectGrants {
	return m.grants
}

// ResolverStore adapter. The resolver only needs a narrow read slice
// of the store, so the manager maps it onto the concrete repositories.

func (m *mngr) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return m.users.GetByID(ctx, id.String())
}

func (m *mngr) GetRoleByID(ctx context.Context, id uuid.UUID) (*RoleAssignment, error) {
	return m.roles.GetByID(ctx, id.String())
}

func (m *mngr) ActiveRoleOfType(ctx context.Context, userID uuid.UUID, roleType RoleType) (*RoleAssignment, error) {
	return m.roles.ActiveOfType(ctx, userID, roleType)
}

func (m *mngr) ActiveAccountantGrant(ctx context.Context, userID, ownerID uuid.UUID) (*RoleAssignment, error) {
	return m.roles.ActiveGrantForClient(ctx, userID, ownerID)
}

func (m *mngr) ActiveProjectGrants(ctx context.Context, userID uuid.UUID) ([]*ProjectGrant, error) {
	return m.grants.ActiveForUser(ctx, userID)
}

func (m *mngr) TouchRoleAccess(ctx context.Context, roleID uuid.UUID) error {
	return m.roles.TouchAccess(ctx, roleID)
}
