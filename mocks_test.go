package access_test

import (
	"context"
	"database/sql"
	"sync"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	access "github.com/potionhq/potion-access"
	"github.com/stretchr/testify/mock"
	"github.com/uptrace/bun"
)

// MockUsers stubs the user repository. The embedded interface covers the
// generic repository surface; only the methods the code under test calls
// are backed by expectations.
type MockUsers struct {
	access.Users
	mock.Mock
}

func (m *MockUsers) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*access.User, error) {
	args := m.Called(ctx, id, criteria)
	user, _ := args.Get(0).(*access.User)
	return user, args.Error(1)
}

func (m *MockUsers) GetByEmail(ctx context.Context, email string) (*access.User, error) {
	args := m.Called(ctx, email)
	user, _ := args.Get(0).(*access.User)
	return user, args.Error(1)
}

func (m *MockUsers) GetBySetupToken(ctx context.Context, token string) (*access.User, error) {
	args := m.Called(ctx, token)
	user, _ := args.Get(0).(*access.User)
	return user, args.Error(1)
}

func (m *MockUsers) CreateTx(ctx context.Context, tx bun.IDB, record *access.User, criteria ...repository.InsertCriteria) (*access.User, error) {
	args := m.Called(ctx, tx, record, criteria)
	if user, ok := args.Get(0).(*access.User); ok && user != nil {
		return user, args.Error(1)
	}
	// stubbing nil echoes the record, like an INSERT ... RETURNING would
	return record, args.Error(1)
}

func (m *MockUsers) GetOrCreateByEmailTx(ctx context.Context, tx bun.IDB, record *access.User) (*access.User, error) {
	args := m.Called(ctx, tx, record)
	user, _ := args.Get(0).(*access.User)
	return user, args.Error(1)
}

func (m *MockUsers) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	args := m.Called(ctx, tx, id, passwordHash)
	return args.Error(0)
}

func (m *MockUsers) StoreSetupToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, id, token, expiresAt)
	return args.Error(0)
}

func (m *MockUsers) StoreSetupTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, tx, id, token, expiresAt)
	return args.Error(0)
}

func (m *MockUsers) StoreRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	args := m.Called(ctx, id, token)
	return args.Error(0)
}

func (m *MockUsers) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockUsers) TrackSuccessfulLogin(ctx context.Context, user *access.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// MockRoles stubs the role assignment repository.
type MockRoles struct {
	access.Roles
	mock.Mock
}

func (m *MockRoles) GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (*access.RoleAssignment, error) {
	args := m.Called(ctx, id, criteria)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockRoles) ListForUser(ctx context.Context, userID uuid.UUID) ([]*access.RoleAssignment, error) {
	args := m.Called(ctx, userID)
	roles, _ := args.Get(0).([]*access.RoleAssignment)
	return roles, args.Error(1)
}

func (m *MockRoles) TeamForOwner(ctx context.Context, ownerID uuid.UUID) ([]*access.RoleAssignment, error) {
	args := m.Called(ctx, ownerID)
	roles, _ := args.Get(0).([]*access.RoleAssignment)
	return roles, args.Error(1)
}

func (m *MockRoles) FindTupleTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, roleType access.RoleType, ownerID *uuid.UUID) (*access.RoleAssignment, error) {
	args := m.Called(ctx, tx, userID, roleType, ownerID)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockRoles) ActiveOfType(ctx context.Context, userID uuid.UUID, roleType access.RoleType) (*access.RoleAssignment, error) {
	args := m.Called(ctx, userID, roleType)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockRoles) GetByInviteToken(ctx context.Context, token string) (*access.RoleAssignment, error) {
	args := m.Called(ctx, token)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockRoles) CreateTx(ctx context.Context, tx bun.IDB, record *access.RoleAssignment, criteria ...repository.InsertCriteria) (*access.RoleAssignment, error) {
	args := m.Called(ctx, tx, record, criteria)
	if role, ok := args.Get(0).(*access.RoleAssignment); ok && role != nil {
		return role, args.Error(1)
	}
	return record, args.Error(1)
}

func (m *MockRoles) Update(ctx context.Context, record *access.RoleAssignment, criteria ...repository.UpdateCriteria) (*access.RoleAssignment, error) {
	args := m.Called(ctx, record, criteria)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockRoles) UpdateStatus(ctx context.Context, id uuid.UUID, status access.RoleStatus) (*access.RoleAssignment, error) {
	args := m.Called(ctx, id, status)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockRoles) ReactivateTx(ctx context.Context, tx bun.IDB, id uuid.UUID, inviteToken string, expiresAt time.Time) (*access.RoleAssignment, error) {
	args := m.Called(ctx, tx, id, inviteToken, expiresAt)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockRoles) Remove(ctx context.Context, id uuid.UUID, removedBy uuid.UUID) error {
	args := m.Called(ctx, id, removedBy)
	return args.Error(0)
}

func (m *MockRoles) StoreInviteToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	args := m.Called(ctx, id, token, expiresAt)
	return args.Error(0)
}

func (m *MockRoles) ClearInviteToken(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRoles) TouchAccess(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockProjectGrants stubs the project grant repository.
type MockProjectGrants struct {
	access.ProjectGrants
	mock.Mock
}

func (m *MockProjectGrants) ActiveForUser(ctx context.Context, userID uuid.UUID) ([]*access.ProjectGrant, error) {
	args := m.Called(ctx, userID)
	grants, _ := args.Get(0).([]*access.ProjectGrant)
	return grants, args.Error(1)
}

func (m *MockProjectGrants) ActiveForRole(ctx context.Context, roleID uuid.UUID) ([]*access.ProjectGrant, error) {
	args := m.Called(ctx, roleID)
	grants, _ := args.Get(0).([]*access.ProjectGrant)
	return grants, args.Error(1)
}

func (m *MockProjectGrants) CreateTx(ctx context.Context, tx bun.IDB, record *access.ProjectGrant, criteria ...repository.InsertCriteria) (*access.ProjectGrant, error) {
	args := m.Called(ctx, tx, record, criteria)
	if grant, ok := args.Get(0).(*access.ProjectGrant); ok && grant != nil {
		return grant, args.Error(1)
	}
	return record, args.Error(1)
}

func (m *MockProjectGrants) RevokeForRole(ctx context.Context, roleID uuid.UUID) error {
	args := m.Called(ctx, roleID)
	return args.Error(0)
}

// MockRepositoryManager bundles the repository stubs. RunInTx executes
// the callback directly so transactional code paths run against the
// mocks without a database.
type MockRepositoryManager struct {
	UsersRepo  *MockUsers
	RolesRepo  *MockRoles
	GrantsRepo *MockProjectGrants
}

func NewMockRepositoryManager() *MockRepositoryManager {
	return &MockRepositoryManager{
		UsersRepo:  &MockUsers{},
		RolesRepo:  &MockRoles{},
		GrantsRepo: &MockProjectGrants{},
	}
}

func (m *MockRepositoryManager) Validate() error { return nil }
func (m *MockRepositoryManager) MustValidate()   {}

func (m *MockRepositoryManager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (m *MockRepositoryManager) Users() access.Users                 { return m.UsersRepo }
func (m *MockRepositoryManager) Roles() access.Roles                 { return m.RolesRepo }
func (m *MockRepositoryManager) ProjectGrants() access.ProjectGrants { return m.GrantsRepo }

func (m *MockRepositoryManager) AssertExpectations(t mock.TestingT) {
	m.UsersRepo.AssertExpectations(t)
	m.RolesRepo.AssertExpectations(t)
	m.GrantsRepo.AssertExpectations(t)
}

// MockResolverStore stubs the narrow read slice the role resolver uses.
type MockResolverStore struct {
	mock.Mock
}

func (m *MockResolverStore) GetUserByID(ctx context.Context, id uuid.UUID) (*access.User, error) {
	args := m.Called(ctx, id)
	user, _ := args.Get(0).(*access.User)
	return user, args.Error(1)
}

func (m *MockResolverStore) GetRoleByID(ctx context.Context, id uuid.UUID) (*access.RoleAssignment, error) {
	args := m.Called(ctx, id)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockResolverStore) ActiveRoleOfType(ctx context.Context, userID uuid.UUID, roleType access.RoleType) (*access.RoleAssignment, error) {
	args := m.Called(ctx, userID, roleType)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockResolverStore) ActiveAccountantGrant(ctx context.Context, userID, ownerID uuid.UUID) (*access.RoleAssignment, error) {
	args := m.Called(ctx, userID, ownerID)
	role, _ := args.Get(0).(*access.RoleAssignment)
	return role, args.Error(1)
}

func (m *MockResolverStore) ActiveProjectGrants(ctx context.Context, userID uuid.UUID) ([]*access.ProjectGrant, error) {
	args := m.Called(ctx, userID)
	grants, _ := args.Get(0).([]*access.ProjectGrant)
	return grants, args.Error(1)
}

func (m *MockResolverStore) TouchRoleAccess(ctx context.Context, roleID uuid.UUID) error {
	args := m.Called(ctx, roleID)
	return args.Error(0)
}

// RecordingSink captures activity events for assertions.
type RecordingSink struct {
	mu     sync.Mutex
	Events []access.ActivityEvent
}

func (s *RecordingSink) Record(ctx context.Context, event access.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, event)
	return nil
}

func (s *RecordingSink) ByType(eventType access.ActivityEventType) []access.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []access.ActivityEvent
	for _, e := range s.Events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockMailer captures outgoing notifications.
type MockMailer struct {
	mu   sync.Mutex
	Sent []SentMail
	Fail error
}

type SentMail struct {
	To      string
	Subject string
	Body    string
}

func (m *MockMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Sent = append(m.Sent, SentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *MockMailer) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

func (m *MockMailer) LastSent() (SentMail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Sent) == 0 {
		return SentMail{}, false
	}
	return m.Sent[len(m.Sent)-1], true
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

var (
	_ access.Users             = (*MockUsers)(nil)
	_ access.Roles             = (*MockRoles)(nil)
	_ access.ProjectGrants     = (*MockProjectGrants)(nil)
	_ access.RepositoryManager = (*MockRepositoryManager)(nil)
	_ access.ResolverStore     = (*MockResolverStore)(nil)
	_ access.ActivitySink      = (*RecordingSink)(nil)
	_ access.Mailer            = (*MockMailer)(nil)
	_ access.Logger            = noopLogger{}
)
