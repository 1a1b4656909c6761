package inmemdb

import (
	"sync"
	"time"

	"github.com/darasahq/darasa/core/user"
)

type (
	// DB is a map-backed database used in tests and local development.
	DB struct {
		user    *userTable
		session *sessionTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	sessionRow struct {
		userID    string
		expiresAt time.Time
	}

	sessionTable struct {
		sync.RWMutex
		table map[string]sessionRow // keyed by token hash
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		session: &sessionTable{table: make(map[string]sessionRow)},
	}
	return db, nil
}
