// Package memory is an in-process store backend with the same contracts as
// the postgres repos: uniqueness of usernames, referential integrity of
// messages and first-write-wins read stamps. Used for local runs
// (STORE=memory) and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	msgentity "github.com/ovaphlow/pitchfork/service-messenger-go/internal/message/entity"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/user/entity"
)

// Store holds the tables. Users and Messages expose the per-domain views.
type Store struct {
	mu       sync.RWMutex
	users    map[string]entity.User
	messages map[int64]msgentity.Message
	now      func() time.Time
}

func New() *Store {
	return &Store{
		users:    make(map[string]entity.User),
		messages: make(map[int64]msgentity.Message),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Users() *UserStore       { return &UserStore{s: s} }
func (s *Store) Messages() *MessageStore { return &MessageStore{s: s} }

// UserStore implements the user directory's store contract.
type UserStore struct{ s *Store }

func userNotFound(username string) error {
	return apperror.New(apperror.NotFound, "User: %s not found", username)
}

func (u *UserStore) Create(_ context.Context, in *entity.User) (*entity.Profile, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[in.Username]; ok {
		return nil, apperror.Wrap(apperror.BadRequest, entity.ErrDuplicateUser, "username already exists")
	}
	if in.Username == "" || in.PasswordHash == "" {
		return nil, apperror.Wrap(apperror.BadRequest, entity.ErrInvalidUser, "Invalid credentials to create User")
	}
	now := s.now()
	row := *in
	row.JoinAt = now
	row.LastLoginAt = &now
	s.users[row.Username] = row
	return row.Profile(), nil
}

func (u *UserStore) PasswordHash(_ context.Context, username string) (string, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	row, ok := u.s.users[username]
	if !ok {
		return "", userNotFound(username)
	}
	return row.PasswordHash, nil
}

func (u *UserStore) TouchLogin(_ context.Context, username string) (*entity.LoginStamp, error) {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.users[username]
	if !ok {
		return nil, userNotFound(username)
	}
	now := s.now()
	row.LastLoginAt = &now
	s.users[username] = row
	return &entity.LoginStamp{Username: username, LastLoginAt: now}, nil
}

func (u *UserStore) List(_ context.Context) ([]entity.Summary, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	out := make([]entity.Summary, 0, len(u.s.users))
	for _, row := range u.s.users {
		out = append(out, entity.Summary{Username: row.Username, FirstName: row.FirstName, LastName: row.LastName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (u *UserStore) Get(_ context.Context, username string) (*entity.Profile, error) {
	u.s.mu.RLock()
	defer u.s.mu.RUnlock()
	row, ok := u.s.users[username]
	if !ok {
		return nil, userNotFound(username)
	}
	return row.Profile(), nil
}

func (u *UserStore) ListSent(_ context.Context, username string) ([]entity.SentMessage, error) {
	s := u.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entity.SentMessage{}
	for _, m := range s.sortedMessages() {
		if m.FromUsername != username {
			continue
		}
		to := s.users[m.ToUsername]
		out = append(out, entity.SentMessage{
			ID:     m.ID,
			ToUser: to.Correspondent(),
			Body:   m.Body,
			SentAt: m.SentAt,
			ReadAt: copyTime(m.ReadAt),
		})
	}
	return out, nil
}

func (u *UserStore) ListReceived(_ context.Context, username string) ([]entity.ReceivedMessage, error) {
	s := u.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []entity.ReceivedMessage{}
	for _, m := range s.sortedMessages() {
		if m.ToUsername != username {
			continue
		}
		from := s.users[m.FromUsername]
		out = append(out, entity.ReceivedMessage{
			ID:       m.ID,
			FromUser: from.Correspondent(),
			Body:     m.Body,
			SentAt:   m.SentAt,
			ReadAt:   copyTime(m.ReadAt),
		})
	}
	return out, nil
}

// sortedMessages orders by sent_at then id, like the postgres listings.
// Callers hold the lock.
func (s *Store) sortedMessages() []msgentity.Message {
	out := make([]msgentity.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

// MessageStore implements the message exchange's store contract.
type MessageStore struct{ s *Store }

func messageNotFound(id int64) error {
	return apperror.New(apperror.NotFound, "Message: %d not found", id)
}

func (m *MessageStore) Create(_ context.Context, in *msgentity.Message) (*msgentity.Message, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[in.ID]; ok {
		return nil, fmt.Errorf("message id %d already used", in.ID)
	}
	if _, ok := s.users[in.FromUsername]; !ok {
		return nil, apperror.Wrap(apperror.BadRequest, msgentity.ErrUnknownUser, "unknown sender")
	}
	if _, ok := s.users[in.ToUsername]; !ok {
		return nil, apperror.Wrap(apperror.BadRequest, msgentity.ErrUnknownUser, "unknown recipient")
	}
	row := *in
	row.SentAt = s.now()
	row.ReadAt = nil
	s.messages[row.ID] = row
	return &row, nil
}

func (m *MessageStore) Get(_ context.Context, id int64) (*msgentity.Detail, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, messageNotFound(id)
	}
	from := s.users[row.FromUsername]
	to := s.users[row.ToUsername]
	return &msgentity.Detail{
		ID:       row.ID,
		Body:     row.Body,
		SentAt:   row.SentAt,
		ReadAt:   copyTime(row.ReadAt),
		FromUser: from.Correspondent(),
		ToUser:   to.Correspondent(),
	}, nil
}

func (m *MessageStore) MarkRead(_ context.Context, id int64) (*msgentity.Message, bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.messages[id]
	if !ok {
		return nil, false, messageNotFound(id)
	}
	marked := false
	if row.ReadAt == nil {
		readAt := s.now()
		if readAt.Before(row.SentAt) {
			readAt = row.SentAt
		}
		row.ReadAt = &readAt
		s.messages[id] = row
		marked = true
	}
	out := row
	out.ReadAt = copyTime(row.ReadAt)
	return &out, marked, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
