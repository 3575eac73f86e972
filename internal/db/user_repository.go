package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/udisondev/wowcore/internal/model"
)

// ErrUserNotFound is returned by UserRepository lookups that find no
// matching row.
var ErrUserNotFound = errors.New("db: user not found")

// UserRepository is the seam the Account service sits behind.
type UserRepository interface {
	ByUsername(ctx context.Context, username string) (*model.User, error)
	UpdateVerifier(ctx context.Context, username string, salt, verifier []byte) error
}

type postgresUserRepository struct {
	db *DB
}

// NewUserRepository returns a pgx-backed UserRepository.
func NewUserRepository(database *DB) UserRepository {
	return &postgresUserRepository{db: database}
}

func (r *postgresUserRepository) ByUsername(ctx context.Context, username string) (*model.User, error) {
	username = strings.ToUpper(username)
	var u model.User
	var pinMethod int
	err := r.db.pool.QueryRow(ctx,
		`SELECT id, username, salt, verifier, pin_method, pin_value, totp_seed,
		        banned, suspended, survey_requested, subscriber, verified
		 FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.Salt, &u.Verifier, &pinMethod, &u.PINValue, &u.TOTPSeed,
		&u.Flags.Banned, &u.Flags.Suspended, &u.Flags.SurveyRequested, &u.Flags.Subscriber, &u.Flags.Verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("db: querying user %q: %w", username, err)
	}
	u.PINMethod = model.PINMethod(pinMethod)
	return &u, nil
}

func (r *postgresUserRepository) UpdateVerifier(ctx context.Context, username string, salt, verifier []byte) error {
	username = strings.ToUpper(username)
	tag, err := r.db.pool.Exec(ctx,
		`UPDATE users SET salt = $1, verifier = $2 WHERE username = $3`,
		salt, verifier, username,
	)
	if err != nil {
		return fmt.Errorf("db: updating verifier for %q: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
