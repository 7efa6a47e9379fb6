package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nestfind/nestfind/internal/domain/user"
)

const userColumns = `id, user_id, username, full_name, email, phone, password_hash, role, status, created_at, updated_at`

// UserRepository implements user.Repository.
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create returns store.ErrDuplicate when the username is taken.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users
		(user_id, username, full_name, email, phone, password_hash, role, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id
	`, u.UserID, u.Username, u.FullName, u.Email, u.Phone, u.PasswordHash, u.Role, u.Status, u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	return translate(err)
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE user_id=$1`, userID)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
}

func (r *UserRepository) one(ctx context.Context, query string, arg interface{}) (*user.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return u, err
}

func (r *UserRepository) List(ctx context.Context, filter user.Filter, limit, offset int) ([]*user.User, error) {
	w := &where{}
	if filter.Role != nil {
		w.add("role=?", *filter.Role)
	}
	if filter.Status != nil {
		w.add("status=?", *filter.Status)
	}
	if filter.Username != nil {
		w.add("username=?", *filter.Username)
	}
	query := `SELECT ` + userColumns + ` FROM users` + w.String() + ` ORDER BY id LIMIT ` + w.next()
	w.args = append(w.args, limit)
	query += ` OFFSET ` + w.next()
	w.args = append(w.args, offset)

	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []*user.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	if err := row.Scan(&u.ID, &u.UserID, &u.Username, &u.FullName, &u.Email, &u.Phone, &u.PasswordHash,
		&u.Role, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
