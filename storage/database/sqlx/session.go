package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core/auth"
)

type sessionRepository struct {
	db *sqlx.DB
}

var _ auth.SessionRepository = (*sessionRepository)(nil) // interface compliance check

func NewSessionRepository(db *sqlx.DB) *sessionRepository {
	return &sessionRepository{db: db}
}

func (repo sessionRepository) SaveSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	query := repo.db.Rebind(`
		INSERT INTO refresh_session (token_hash, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?)`)
	_, err := repo.db.ExecContext(ctx, query, tokenHash, userID, expiresAt.UTC(), time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, "inserting refresh session")
	}
	return nil
}

func (repo sessionRepository) GetSessionUserID(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	query := repo.db.Rebind(`
		SELECT user_id FROM refresh_session WHERE token_hash = ? AND expires_at > ?`)
	err := repo.db.GetContext(ctx, &userID, query, tokenHash, time.Now().UTC())
	if err == sql.ErrNoRows {
		return "", auth.ErrSessionNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "finding refresh session")
	}
	return userID, nil
}

func (repo sessionRepository) DeleteSession(ctx context.Context, tokenHash string) (bool, error) {
	query := repo.db.Rebind(`DELETE FROM refresh_session WHERE token_hash = ?`)
	res, err := repo.db.ExecContext(ctx, query, tokenHash)
	if err != nil {
		return false, errors.Wrap(err, "deleting refresh session")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting deleted sessions")
	}
	return n > 0, nil
}

func (repo sessionRepository) DeleteUserSessions(ctx context.Context, userID string) error {
	query := repo.db.Rebind(`DELETE FROM refresh_session WHERE user_id = ?`)
	if _, err := repo.db.ExecContext(ctx, query, userID); err != nil {
		return errors.Wrap(err, "deleting user refresh sessions")
	}
	return nil
}

func (repo sessionRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	query := repo.db.Rebind(`DELETE FROM refresh_session WHERE expires_at <= ?`)
	res, err := repo.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purging expired refresh sessions")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "counting purged sessions")
	}
	return int(n), nil
}
