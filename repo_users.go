package access

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var SetUserPasswordSQL = `UPDATE "users" AS "usr"
SET
	"password_hash" = ?,
	"setup_token" = NULL,
	"setup_token_expires_at" = NULL
WHERE
	"usr"."deleted_at" IS NULL
AND (
	"usr"."id" = ?
) RETURNING *;`

type Users interface {
	repository.Repository[*User]

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)
	GetBySetupToken(ctx context.Context, token string) (*User, error)

	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)
	GetOrCreateByEmail(ctx context.Context, record *User) (*User, error)
	GetOrCreateByEmailTx(ctx context.Context, tx bun.IDB, record *User) (*User, error)

	// SetPassword stores the hash and nulls the setup token in one
	// statement, enforcing single use.
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	StoreSetupToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	StoreSetupTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expiresAt time.Time) error
	StoreRefreshToken(ctx context.Context, id uuid.UUID, token string) error
	ClearRefreshToken(ctx context.Context, id uuid.UUID) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	normalized := normalizeEmail(email)
	if !isValidEmail(normalized) {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{"email": email})
	}

	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("LOWER(?TableAlias.email) = ?", normalized).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"email": email})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) GetBySetupToken(ctx context.Context, token string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.setup_token = ?", token).
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

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) GetOrCreateByEmail(ctx context.Context, record *User) (*User, error) {
	return a.GetOrCreateByEmailTx(ctx, a.db, record)
}

func (a *users) GetOrCreateByEmailTx(ctx context.Context, tx bun.IDB, record *User) (*User, error) {
	existing, err := a.GetByEmailTx(ctx, tx, record.Email)
	if err == nil {
		return existing, nil
	}
	if !repository.IsRecordNotFound(err) {
		return nil, err
	}
	return a.CreateTx(ctx, tx, record)
}

func (a *users) SetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.SetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) SetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, SetUserPasswordSQL, passwordHash, id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"id": id.String()})
	}

	return nil
}

func (a *users) StoreSetupToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	return a.StoreSetupTokenTx(ctx, a.db, id, token, expiresAt)
}

func (a *users) StoreSetupTokenTx(ctx context.Context, tx bun.IDB, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := tx.NewUpdate().
		Model((*User)(nil)).
		Set("setup_token = ?", token).
		Set("setup_token_expires_at = ?", expiresAt).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *users) StoreRefreshToken(ctx context.Context, id uuid.UUID, token string) error {
	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("refresh_token = ?", token).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *users) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	return a.StoreRefreshToken(ctx, id, "")
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("user is required")
	}
	now := time.Now()
	user.LoggedInAt = &now

	_, err := a.db.NewUpdate().
		Model((*User)(nil)).
		Set("loggedin_at = ?", now).
		Where("id = ?", user.ID).
		Exec(ctx)
	return err
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}
	record.Email = normalizeEmail(record.Email)
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.PasswordHash == "" {
		// invited users get a throwaway credential until setup completes
		record.PasswordHash = RandomPasswordHash()
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}
