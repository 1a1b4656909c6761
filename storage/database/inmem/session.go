package inmemdb

import (
	"context"
	"time"

	"github.com/darasahq/darasa/core/auth"
)

type sessionRepository struct {
	db *sessionTable
}

func NewSessionRepository(db *DB) auth.SessionRepository {
	return &sessionRepository{db: db.session}
}

func (repo *sessionRepository) SaveSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	repo.db.table[tokenHash] = sessionRow{userID: userID, expiresAt: expiresAt.UTC()}
	return nil
}

func (repo *sessionRepository) GetSessionUserID(_ context.Context, tokenHash string) (string, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	row, ok := repo.db.table[tokenHash]
	if !ok || row.expiresAt.Before(time.Now().UTC()) {
		return "", auth.ErrSessionNotFound
	}
	return row.userID, nil
}

func (repo *sessionRepository) DeleteSession(_ context.Context, tokenHash string) (bool, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.table[tokenHash]; !ok {
		return false, nil
	}
	delete(repo.db.table, tokenHash)
	return true, nil
}

func (repo *sessionRepository) DeleteUserSessions(_ context.Context, userID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for hash, row := range repo.db.table {
		if row.userID == userID {
			delete(repo.db.table, hash)
		}
	}
	return nil
}

func (repo *sessionRepository) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int
	for hash, row := range repo.db.table {
		if !row.expiresAt.After(now) {
			delete(repo.db.table, hash)
			n++
		}
	}
	return n, nil
}
