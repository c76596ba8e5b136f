package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/notezilla/apiserver/types"
)

// UserRepository handles persistence for users.
type UserRepository struct {
	conn
}

func NewUserRepository(db *sql.DB, driver string) *UserRepository {
	return &UserRepository{conn: newConn(db, driver)}
}

const userColumns = `id, first_name, last_name, email, password_hash, role, api_calls, created_at`

func scanUser(row interface{ Scan(dest ...any) error }) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&user.APICalls,
		&user.CreatedAt,
	)
	return user, err
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// GetByEmail matches the address case-insensitively.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER(?)`
	user, err := scanUser(r.db.QueryRowContext(ctx, r.rebind(query), email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

// Create inserts the user and returns it with the generated id and creation
// time. A duplicate email yields ErrConflict.
func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	const query = `
		INSERT INTO users (first_name, last_name, email, password_hash, role)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id, api_calls`
	if err := r.db.QueryRowContext(
		ctx,
		r.rebind(query),
		user.FirstName,
		user.LastName,
		user.Email,
		user.PasswordHash,
		user.Role,
	).Scan(&user.ID, &user.APICalls); err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrConflict
		}
		return types.User{}, err
	}
	return r.GetByID(ctx, user.ID)
}

// List returns every user, newest first.
func (r *UserRepository) List(ctx context.Context) ([]types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// ConsumeAPICall increments the user's call counter only while it is below
// limit. It reports the new count and whether the increment happened.
func (r *UserRepository) ConsumeAPICall(ctx context.Context, id, limit int) (int, bool, error) {
	const query = `
		UPDATE users
		SET api_calls = api_calls + 1
		WHERE id = ? AND api_calls < ?
		RETURNING api_calls`
	var calls int
	err := r.db.QueryRowContext(ctx, r.rebind(query), id, limit).Scan(&calls)
	if err == nil {
		return calls, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, err
	}

	calls, err = r.GetAPICalls(ctx, id)
	if err != nil {
		return 0, false, err
	}
	return calls, false, nil
}

func (r *UserRepository) GetAPICalls(ctx context.Context, id int) (int, error) {
	const query = `SELECT api_calls FROM users WHERE id = ?`
	var calls int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(&calls); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return calls, nil
}
