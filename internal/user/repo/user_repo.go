package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-messenger-go/pkg/database"
)

// UserRepo provides data access for the users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row. join_at and last_login_at are both set to
// the store's current time.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (*entity.Profile, error) {
	const q = `INSERT INTO users (username, password, first_name, last_name, phone, join_at, last_login_at)
		VALUES (:username, :password, :first_name, :last_name, :phone, NOW(), NOW())
		RETURNING username, first_name, last_name, phone, join_at, last_login_at`
	rows, err := r.db.NamedQueryContext(ctx, q, u)
	if err != nil {
		return nil, translateWriteError(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, translateWriteError(err)
		}
		return nil, apperror.Wrap(apperror.BadRequest, entity.ErrInvalidUser, "Invalid credentials to create User")
	}
	var p entity.Profile
	if err := rows.StructScan(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PasswordHash returns the stored hash for username.
func (r *UserRepo) PasswordHash(ctx context.Context, username string) (string, error) {
	const q = `SELECT password FROM users WHERE username = $1`
	var hash string
	if err := r.db.GetContext(ctx, &hash, q, username); err != nil {
		return "", notFound(err, username)
	}
	return hash, nil
}

// TouchLogin sets last_login_at to now.
func (r *UserRepo) TouchLogin(ctx context.Context, username string) (*entity.LoginStamp, error) {
	const q = `UPDATE users SET last_login_at = NOW() WHERE username = $1 RETURNING username, last_login_at`
	var s entity.LoginStamp
	if err := r.db.GetContext(ctx, &s, q, username); err != nil {
		return nil, notFound(err, username)
	}
	return &s, nil
}

// List returns basic info on all users.
func (r *UserRepo) List(ctx context.Context) ([]entity.Summary, error) {
	const q = `SELECT username, first_name, last_name FROM users ORDER BY username`
	users := []entity.Summary{}
	if err := r.db.SelectContext(ctx, &users, q); err != nil {
		return nil, err
	}
	return users, nil
}

// Get fetches the full profile for username.
func (r *UserRepo) Get(ctx context.Context, username string) (*entity.Profile, error) {
	const q = `SELECT username, first_name, last_name, phone, join_at, last_login_at FROM users WHERE username = $1`
	var p entity.Profile
	if err := r.db.GetContext(ctx, &p, q, username); err != nil {
		return nil, notFound(err, username)
	}
	return &p, nil
}

// correspondentRow is a message joined to the other party's profile.
type correspondentRow struct {
	ID        int64      `db:"id"`
	Body      string     `db:"body"`
	SentAt    time.Time  `db:"sent_at"`
	ReadAt    *time.Time `db:"read_at"`
	Username  string     `db:"username"`
	FirstName string     `db:"first_name"`
	LastName  string     `db:"last_name"`
	Phone     string     `db:"phone"`
}

func (c correspondentRow) correspondent() entity.Correspondent {
	return entity.Correspondent{Username: c.Username, FirstName: c.FirstName, LastName: c.LastName, Phone: c.Phone}
}

// ListSent returns messages sent by username, each with its recipient's profile.
func (r *UserRepo) ListSent(ctx context.Context, username string) ([]entity.SentMessage, error) {
	const q = `SELECT m.id, m.body, m.sent_at, m.read_at, u.username, u.first_name, u.last_name, u.phone
		FROM messages m JOIN users u ON u.username = m.to_username
		WHERE m.from_username = $1
		ORDER BY m.sent_at, m.id`
	var rows []correspondentRow
	if err := r.db.SelectContext(ctx, &rows, q, username); err != nil {
		return nil, err
	}
	out := make([]entity.SentMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.SentMessage{
			ID:     row.ID,
			ToUser: row.correspondent(),
			Body:   row.Body,
			SentAt: row.SentAt,
			ReadAt: row.ReadAt,
		})
	}
	return out, nil
}

// ListReceived returns messages sent to username, each with its sender's profile.
func (r *UserRepo) ListReceived(ctx context.Context, username string) ([]entity.ReceivedMessage, error) {
	const q = `SELECT m.id, m.body, m.sent_at, m.read_at, u.username, u.first_name, u.last_name, u.phone
		FROM messages m JOIN users u ON u.username = m.from_username
		WHERE m.to_username = $1
		ORDER BY m.sent_at, m.id`
	var rows []correspondentRow
	if err := r.db.SelectContext(ctx, &rows, q, username); err != nil {
		return nil, err
	}
	out := make([]entity.ReceivedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, entity.ReceivedMessage{
			ID:       row.ID,
			FromUser: row.correspondent(),
			Body:     row.Body,
			SentAt:   row.SentAt,
			ReadAt:   row.ReadAt,
		})
	}
	return out, nil
}

func notFound(err error, username string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.Wrap(apperror.NotFound, err, fmt.Sprintf("User: %s not found", username))
	}
	return err
}

func translateWriteError(err error) error {
	switch {
	case database.IsUniqueViolation(err):
		return apperror.Wrap(apperror.BadRequest, entity.ErrDuplicateUser, "username already exists")
	case database.IsRejectedRow(err):
		return apperror.Wrap(apperror.BadRequest, entity.ErrInvalidUser, "Invalid credentials to create User")
	}
	return err
}
