package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/darasahq/darasa/core"
	"github.com/darasahq/darasa/core/user"
)

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

// dbUser mirrors the "user" table.
type dbUser struct {
	ID                  string         `db:"id"`
	Name                sql.NullString `db:"name"`
	Username            sql.NullString `db:"username"`
	Email               sql.NullString `db:"email"`
	Role                string         `db:"role"`
	IsActive            bool           `db:"is_active"`
	PasswordHash        []byte         `db:"password_hash"`
	FailedLoginAttempts int            `db:"failed_login_attempts"`
	LockedUntil         sql.NullTime   `db:"locked_until"`
	LastLogin           sql.NullTime   `db:"last_login"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

const userColumns = `id, name, username, email, role, is_active, password_hash,
	failed_login_attempts, locked_until, last_login, created_at, updated_at`

func (repo userRepository) unpack(u dbUser) user.User {
	usr := user.User{
		ID:                  u.ID,
		Name:                u.Name.String,
		Username:            u.Username.String,
		Email:               u.Email.String,
		Role:                user.Role(u.Role),
		IsActive:            u.IsActive,
		PasswordHash:        u.PasswordHash,
		FailedLoginAttempts: u.FailedLoginAttempts,
		CreatedAt:           u.CreatedAt.UTC(),
		UpdatedAt:           u.UpdatedAt.UTC(),
	}
	if u.LockedUntil.Valid {
		t := u.LockedUntil.Time.UTC()
		usr.LockedUntil = &t
	}
	if u.LastLogin.Valid {
		usr.LastLogin = u.LastLogin.Time.UTC()
	}
	return usr
}

func (repo userRepository) unpackSlice(rows []dbUser) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, u := range rows {
		users = append(users, repo.unpack(u))
	}
	return users
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	query := `SELECT username, email FROM "user" WHERE (username = ? OR email = ?)`
	args := []interface{}{username, email}

	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		inQuery, inArgs, err := sqlx.In(` AND id NOT IN (?)`, ids)
		if err != nil {
			return errors.Wrap(err, "building exclusion clause")
		}
		query += inQuery
		args = append(args, inArgs...)
	}

	var row struct {
		Username sql.NullString `db:"username"`
		Email    sql.NullString `db:"email"`
	}
	err := repo.db.GetContext(ctx, &row, repo.db.Rebind(query+` LIMIT 1`), args...)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if row.Username.Valid && row.Username.String == username {
		return user.ErrUsernameExists
	}
	return user.ErrEmailExists
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	query := repo.db.Rebind(`
		INSERT INTO "user" (id, name, username, email, role, is_active, password_hash,
			failed_login_attempts, locked_until, last_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := repo.db.ExecContext(ctx, query,
		usr.ID,
		nullStr(usr.Name),
		nullStr(usr.Username),
		nullStr(usr.Email),
		string(usr.Role),
		usr.IsActive,
		usr.PasswordHash,
		usr.FailedLoginAttempts,
		usr.LockedUntil,
		nullTime(usr.LastLogin),
		usr.CreatedAt.UTC(),
		usr.UpdatedAt.UTC(),
	)
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var conds []string
	var args []interface{}

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			val := "%" + filter.Search + "%"
			conds = append(conds, `(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)`)
			args = append(args, val, val, val)
		}
		if len(filter.Roles) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.Roles)), ",")
			conds = append(conds, fmt.Sprintf(`role IN (%s)`, placeholders))
			for _, role := range filter.Roles {
				args = append(args, string(role))
			}
		}
		if filter.IsActive != nil {
			conds = append(conds, `is_active = ?`)
			args = append(args, *filter.IsActive)
		}
		if !filter.CreatedFrom.IsZero() {
			conds = append(conds, `created_at >= ?`)
			args = append(args, filter.CreatedFrom.UTC())
		}
		if !filter.CreatedTo.IsZero() {
			conds = append(conds, `created_at <= ?`)
			args = append(args, filter.CreatedTo.UTC())
		}
	}

	query := `SELECT ` + userColumns + ` FROM "user"`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	if len(ordering) > 0 {
		orderList := make([]string, 0, len(ordering))
		for _, ord := range ordering {
			orderList = append(orderList, ord.String())
		}
		query += ` ORDER BY ` + strings.Join(orderList, ", ")
	}

	var rows []dbUser
	if err := repo.db.SelectContext(ctx, &rows, repo.db.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unpackSlice(rows), nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	var row dbUser
	query := repo.db.Rebind(`SELECT ` + userColumns + ` FROM "user" WHERE id = ?`)
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by ID")
	}
	return repo.unpack(row), nil
}

func (repo userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	var row dbUser
	query := repo.db.Rebind(`SELECT ` + userColumns + ` FROM "user" WHERE username = ?`)
	if err := repo.db.GetContext(ctx, &row, query, username); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by username")
	}
	return repo.unpack(row), nil
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row dbUser
	query := repo.db.Rebind(`SELECT ` + userColumns + ` FROM "user" WHERE email = ?`)
	if err := repo.db.GetContext(ctx, &row, query, email); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by email")
	}
	return repo.unpack(row), nil
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	var row dbUser
	query := repo.db.Rebind(`SELECT ` + userColumns + ` FROM "user" WHERE username = ? OR email = ?`)
	if err := repo.db.GetContext(ctx, &row, query, username, username); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by username or email")
	}
	return repo.unpack(row), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	sets := []string{`updated_at = ?`}
	args := []interface{}{usr.UpdatedAt.UTC()}

	if usr.Name != "" {
		sets = append(sets, `name = ?`)
		args = append(args, usr.Name)
	}
	if usr.Username != "" {
		sets = append(sets, `username = ?`)
		args = append(args, usr.Username)
	}
	if usr.Email != "" {
		sets = append(sets, `email = ?`)
		args = append(args, usr.Email)
	}
	if usr.Role != "" {
		sets = append(sets, `role = ?`)
		args = append(args, string(usr.Role))
	}
	if usr.PasswordHash != nil {
		sets = append(sets, `password_hash = ?`)
		args = append(args, usr.PasswordHash)
	}
	if isActive != nil {
		sets = append(sets, `is_active = ?`)
		args = append(args, *isActive)
	}
	args = append(args, usr.ID)

	query := repo.db.Rebind(
		`UPDATE "user" SET ` + strings.Join(sets, ", ") + ` WHERE id = ? RETURNING ` + userColumns)
	var row dbUser
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "updating user")
	}
	return repo.unpack(row), nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM "user" WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	if _, err = repo.db.ExecContext(ctx, repo.db.Rebind(query), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}

// RegisterFailedLogin bumps the failed-login counter in a single statement;
// hitting maxAttempts trades the counter for a lockout window. A concurrent
// failure observes the incremented value, never the stale one.
func (repo userRepository) RegisterFailedLogin(ctx context.Context, id string, maxAttempts int, lockFor time.Duration) (user.User, error) {
	now := time.Now().UTC()
	query := repo.db.Rebind(`
		UPDATE "user" SET
			failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= ? THEN 0 ELSE failed_login_attempts + 1 END,
			locked_until          = CASE WHEN failed_login_attempts + 1 >= ? THEN ?::timestamptz ELSE locked_until END,
			updated_at            = ?
		WHERE id = ?
		RETURNING ` + userColumns)
	var row dbUser
	err := repo.db.GetContext(ctx, &row, query, maxAttempts, maxAttempts, now.Add(lockFor), now, id)
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "registering failed login")
	}
	return repo.unpack(row), nil
}

// ResetLoginThrottle clears the failed-login counter and lockout window.
// A zero lastLogin leaves the stored value untouched, so unlocking an
// account that never logged in does not fabricate a login stamp.
func (repo userRepository) ResetLoginThrottle(ctx context.Context, id string, lastLogin time.Time) (user.User, error) {
	query := repo.db.Rebind(`
		UPDATE "user" SET
			failed_login_attempts = 0,
			locked_until          = NULL,
			last_login            = COALESCE(?::timestamptz, last_login),
			updated_at            = ?
		WHERE id = ?
		RETURNING ` + userColumns)
	var row dbUser
	if err := repo.db.GetContext(ctx, &row, query, nullTime(lastLogin), time.Now().UTC(), id); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "resetting login throttle")
	}
	return repo.unpack(row), nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}
