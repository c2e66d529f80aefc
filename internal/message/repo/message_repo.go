package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/message/entity"
	userentity "github.com/ovaphlow/pitchfork/service-messenger-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-messenger-go/pkg/database"
)

// MessageRepo provides data access for the messages table using sqlx.
type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo { return &MessageRepo{db: db} }

const messageColumns = `id, from_username, to_username, body, sent_at, read_at`

// Create inserts m with sent_at set by the store and read_at null.
func (r *MessageRepo) Create(ctx context.Context, m *entity.Message) (*entity.Message, error) {
	const q = `INSERT INTO messages (id, from_username, to_username, body, sent_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING ` + messageColumns
	var out entity.Message
	if err := r.db.GetContext(ctx, &out, q, m.ID, m.FromUsername, m.ToUsername, m.Body); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, apperror.Wrap(apperror.BadRequest, entity.ErrUnknownUser, "unknown recipient")
		}
		if database.IsRejectedRow(err) {
			return nil, apperror.Wrap(apperror.BadRequest, err, "invalid message")
		}
		return nil, err
	}
	return &out, nil
}

type detailRow struct {
	ID            int64      `db:"id"`
	Body          string     `db:"body"`
	SentAt        time.Time  `db:"sent_at"`
	ReadAt        *time.Time `db:"read_at"`
	FromUsername  string     `db:"from_username"`
	FromFirstName string     `db:"from_first_name"`
	FromLastName  string     `db:"from_last_name"`
	FromPhone     string     `db:"from_phone"`
	ToUsername    string     `db:"to_username"`
	ToFirstName   string     `db:"to_first_name"`
	ToLastName    string     `db:"to_last_name"`
	ToPhone       string     `db:"to_phone"`
}

// Get fetches a message with both correspondents' profiles.
func (r *MessageRepo) Get(ctx context.Context, id int64) (*entity.Detail, error) {
	const q = `SELECT m.id, m.body, m.sent_at, m.read_at,
			f.username AS from_username, f.first_name AS from_first_name, f.last_name AS from_last_name, f.phone AS from_phone,
			t.username AS to_username, t.first_name AS to_first_name, t.last_name AS to_last_name, t.phone AS to_phone
		FROM messages m
		JOIN users f ON f.username = m.from_username
		JOIN users t ON t.username = m.to_username
		WHERE m.id = $1`
	var row detailRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, notFound(err, id)
	}
	return &entity.Detail{
		ID:     row.ID,
		Body:   row.Body,
		SentAt: row.SentAt,
		ReadAt: row.ReadAt,
		FromUser: userentity.Correspondent{
			Username:  row.FromUsername,
			FirstName: row.FromFirstName,
			LastName:  row.FromLastName,
			Phone:     row.FromPhone,
		},
		ToUser: userentity.Correspondent{
			Username:  row.ToUsername,
			FirstName: row.ToFirstName,
			LastName:  row.ToLastName,
			Phone:     row.ToPhone,
		},
	}, nil
}

// MarkRead sets read_at once. The conditional update makes concurrent
// calls first-write-wins; later calls read back the first timestamp.
// marked is true only for the call that set read_at.
func (r *MessageRepo) MarkRead(ctx context.Context, id int64) (msg *entity.Message, marked bool, err error) {
	const q = `UPDATE messages SET read_at = GREATEST(NOW(), sent_at)
		WHERE id = $1 AND read_at IS NULL
		RETURNING ` + messageColumns
	var out entity.Message
	err = r.db.GetContext(ctx, &out, q, id)
	if err == nil {
		return &out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	const sel = `SELECT ` + messageColumns + ` FROM messages WHERE id = $1`
	if err := r.db.GetContext(ctx, &out, sel, id); err != nil {
		return nil, false, notFound(err, id)
	}
	return &out, false, nil
}

func notFound(err error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperror.Wrap(apperror.NotFound, err, fmt.Sprintf("Message: %d not found", id))
	}
	return err
}
