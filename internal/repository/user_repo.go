package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"auth-template/internal/domain"
)

// UserRepository define el contrato de persistencia para identidades.
// Las lecturas devuelven pgx.ErrNoRows cuando no hay fila activa.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	CreateWithIdentity(ctx context.Context, user domain.User, identity domain.ExternalIdentity) error
	GetByID(ctx context.Context, id string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByProviderSubject(ctx context.Context, provider, subject string) (domain.User, error)
	ListIdentities(ctx context.Context, userID string) ([]domain.ExternalIdentity, error)
	LinkExternalIdentity(ctx context.Context, identity domain.ExternalIdentity) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string, expectedVersion int64) (int64, error)
	SetConfirmed(ctx context.Context, id string) error
	SetTwoFactor(ctx context.Context, id string, enabled bool) error
}

// PgUserRepository implementa UserRepository usando pgxpool.
type PgUserRepository struct {
	pool  *pgxpool.Pool
	reads readRetrier
}

func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool, reads: defaultReadRetrier()}
}

const userColumns = `id, email, display_name, password_hash, email_confirmed,
	two_factor_enabled, version, deleted_at, created_at, updated_at`

func (r *PgUserRepository) Create(ctx context.Context, user domain.User) error {
	return insertUser(ctx, r.pool, user)
}

// CreateWithIdentity crea el usuario y su vínculo externo en una sola transacción.
func (r *PgUserRepository) CreateWithIdentity(ctx context.Context, user domain.User, identity domain.ExternalIdentity) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, user); err != nil {
			return err
		}
		identity.UserID = user.ID
		return insertIdentity(ctx, tx, identity)
	})
}

func (r *PgUserRepository) GetByID(ctx context.Context, id string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, id)
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1 AND deleted_at IS NULL`
	return r.getOne(ctx, query, email)
}

func (r *PgUserRepository) GetByProviderSubject(ctx context.Context, provider, subject string) (domain.User, error) {
	const query = `
		SELECT u.id, u.email, u.display_name, u.password_hash, u.email_confirmed,
			u.two_factor_enabled, u.version, u.deleted_at, u.created_at, u.updated_at
		FROM external_identities ei
		JOIN users u ON u.id = ei.user_id
		WHERE ei.provider = $1 AND ei.subject = $2 AND u.deleted_at IS NULL
	`
	return r.getOne(ctx, query, provider, subject)
}

func (r *PgUserRepository) ListIdentities(ctx context.Context, userID string) ([]domain.ExternalIdentity, error) {
	const query = `
		SELECT provider, subject, user_id, email, created_at
		FROM external_identities
		WHERE user_id = $1
		ORDER BY created_at
	`
	return retryRead(ctx, r.reads, func() ([]domain.ExternalIdentity, error) {
		rows, err := r.pool.Query(ctx, query, userID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []domain.ExternalIdentity
		for rows.Next() {
			var ei domain.ExternalIdentity
			if err := rows.Scan(&ei.Provider, &ei.Subject, &ei.UserID, &ei.Email, &ei.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, ei)
		}
		return out, rows.Err()
	})
}

func (r *PgUserRepository) LinkExternalIdentity(ctx context.Context, identity domain.ExternalIdentity) error {
	return insertIdentity(ctx, r.pool, identity)
}

// UpdatePasswordHash aplica el cambio sólo si la versión coincide y devuelve la nueva versión.
// Sólo los cambios de contraseña incrementan version.
func (r *PgUserRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string, expectedVersion int64) (int64, error) {
	const query = `
		UPDATE users
		SET password_hash = $2, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $3 AND deleted_at IS NULL
		RETURNING version
	`
	var version int64
	err := r.pool.QueryRow(ctx, query, id, passwordHash, expectedVersion, time.Now().UTC()).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrStaleVersion
	}
	return version, err
}

func (r *PgUserRepository) SetConfirmed(ctx context.Context, id string) error {
	const query = `
		UPDATE users
		SET email_confirmed = TRUE, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL AND email_confirmed = FALSE
	`
	_, err := r.pool.Exec(ctx, query, id, time.Now().UTC())
	return err
}

func (r *PgUserRepository) SetTwoFactor(ctx context.Context, id string, enabled bool) error {
	const query = `
		UPDATE users
		SET two_factor_enabled = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL
	`
	tag, err := r.pool.Exec(ctx, query, id, enabled, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgUserRepository) getOne(ctx context.Context, query string, args ...any) (domain.User, error) {
	return retryRead(ctx, r.reads, func() (domain.User, error) {
		return scanUser(r.pool.QueryRow(ctx, query, args...))
	})
}

func insertUser(ctx context.Context, db dbtx, user domain.User) error {
	const query = `
		INSERT INTO users (id, email, display_name, password_hash, email_confirmed,
			two_factor_enabled, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $7)
	`
	_, err := db.Exec(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.PasswordHash,
		user.EmailConfirmed,
		user.TwoFactorEnabled,
		user.CreatedAt,
	)
	return translateWriteError(err)
}

func insertIdentity(ctx context.Context, db dbtx, identity domain.ExternalIdentity) error {
	const query = `
		INSERT INTO external_identities (provider, subject, user_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	createdAt := identity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := db.Exec(ctx, query,
		identity.Provider,
		identity.Subject,
		identity.UserID,
		identity.Email,
		createdAt,
	)
	return translateWriteError(err)
}

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.PasswordHash,
		&u.EmailConfirmed,
		&u.TwoFactorEnabled,
		&u.Version,
		&u.DeletedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}
