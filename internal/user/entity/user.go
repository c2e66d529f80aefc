package entity

import "time"

// User represents a row in the `users` table. PasswordHash never leaves the
// service layer.
type User struct {
	Username     string     `db:"username"`
	PasswordHash string     `db:"password"`
	FirstName    string     `db:"first_name"`
	LastName     string     `db:"last_name"`
	Phone        string     `db:"phone"`
	JoinAt       time.Time  `db:"join_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
}

// Profile is the full public view of a user.
type Profile struct {
	Username    string     `db:"username" json:"username"`
	FirstName   string     `db:"first_name" json:"first_name"`
	LastName    string     `db:"last_name" json:"last_name"`
	Phone       string     `db:"phone" json:"phone"`
	JoinAt      time.Time  `db:"join_at" json:"join_at"`
	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at"`
}

// Summary is the directory listing projection (no phone, no timestamps).
type Summary struct {
	Username  string `db:"username" json:"username"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
}

// Correspondent is the profile attached to a message for the other party.
type Correspondent struct {
	Username  string `db:"username" json:"username"`
	FirstName string `db:"first_name" json:"first_name"`
	LastName  string `db:"last_name" json:"last_name"`
	Phone     string `db:"phone" json:"phone"`
}

// LoginStamp is returned after a successful login refresh.
type LoginStamp struct {
	Username    string    `db:"username" json:"username"`
	LastLoginAt time.Time `db:"last_login_at" json:"last_login_at"`
}

// SentMessage is a message from the user's outbox.
type SentMessage struct {
	ID     int64         `json:"id,string"`
	ToUser Correspondent `json:"to_user"`
	Body   string        `json:"body"`
	SentAt time.Time     `json:"sent_at"`
	ReadAt *time.Time    `json:"read_at"`
}

// ReceivedMessage is a message from the user's inbox.
type ReceivedMessage struct {
	ID       int64         `json:"id,string"`
	FromUser Correspondent `json:"from_user"`
	Body     string        `json:"body"`
	SentAt   time.Time     `json:"sent_at"`
	ReadAt   *time.Time    `json:"read_at"`
}

func (u *User) Profile() *Profile {
	return &Profile{
		Username:    u.Username,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Phone:       u.Phone,
		JoinAt:      u.JoinAt,
		LastLoginAt: u.LastLoginAt,
	}
}

func (u *User) Correspondent() Correspondent {
	return Correspondent{Username: u.Username, FirstName: u.FirstName, LastName: u.LastName, Phone: u.Phone}
}
