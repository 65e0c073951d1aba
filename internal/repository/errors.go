package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrDuplicateEmail    = errors.New("email already in use")
	ErrDuplicateIdentity = errors.New("external identity already linked")
	ErrStaleVersion      = errors.New("row version changed")
)

const uniqueViolation = "23505"

// Nombres de restricciones definidos en las migraciones.
const (
	constraintUsersEmail       = "users_email_active_idx"
	constraintIdentityPK       = "external_identities_pkey"
	constraintIdentityProvider = "external_identities_user_provider_key"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func translateWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintUsersEmail:
		return ErrDuplicateEmail
	case constraintIdentityPK, constraintIdentityProvider:
		return ErrDuplicateIdentity
	default:
		return err
	}
}

// readRetrier reintenta lecturas idempotentes ante fallos transitorios de conexión.
// Las escrituras nunca pasan por aquí.
type readRetrier struct {
	maxTries     uint
	initialDelay time.Duration
	maxElapsed   time.Duration
}

func defaultReadRetrier() readRetrier {
	return readRetrier{
		maxTries:     3,
		initialDelay: 50 * time.Millisecond,
		maxElapsed:   2 * time.Second,
	}
}

func retryRead[T any](ctx context.Context, r readRetrier, op func() (T, error)) (T, error) {
	if r.maxTries <= 1 {
		return op()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialDelay
	return backoff.Retry(ctx, func() (T, error) {
		res, err := op()
		if err != nil && !isTransient(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithMaxElapsedTime(r.maxElapsed),
	)
}

func isTransient(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Errores de clase 08 son fallos de conexión reportados por el servidor.
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	return true
}
