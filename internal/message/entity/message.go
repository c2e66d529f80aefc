package entity

import (
	"errors"
	"time"

	userentity "github.com/ovaphlow/pitchfork/service-messenger-go/internal/user/entity"
)

// ErrUnknownUser is the cause reported when a message references a user
// the store does not know.
var ErrUnknownUser = errors.New("unknown user")

// Message represents a row in the `messages` table. ReadAt is null until
// the recipient first reads it and never changes afterwards.
type Message struct {
	ID           int64      `db:"id" json:"id,string"`
	FromUsername string     `db:"from_username" json:"from_username"`
	ToUsername   string     `db:"to_username" json:"to_username"`
	Body         string     `db:"body" json:"body"`
	SentAt       time.Time  `db:"sent_at" json:"sent_at"`
	ReadAt       *time.Time `db:"read_at" json:"read_at"`
}

// Detail is a message with both correspondents' profiles attached.
type Detail struct {
	ID       int64                    `json:"id,string"`
	Body     string                   `json:"body"`
	SentAt   time.Time                `json:"sent_at"`
	ReadAt   *time.Time               `json:"read_at"`
	FromUser userentity.Correspondent `json:"from_user"`
	ToUser   userentity.Correspondent `json:"to_user"`
}

// CanView reports whether username is the sender or the recipient.
func (d *Detail) CanView(username string) bool {
	return username == d.FromUser.Username || username == d.ToUser.Username
}

// CanMarkRead reports whether username is the recipient. The sender may
// view a message but never mark it read.
func (d *Detail) CanMarkRead(username string) bool {
	return username == d.ToUser.Username
}
