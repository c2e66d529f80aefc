package message

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/message/entity"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/notify"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/store/memory"
	userentity "github.com/ovaphlow/pitchfork/service-messenger-go/internal/user/entity"
)

type seqIDs struct{ n int64 }

func (s *seqIDs) NextID() int64 {
	s.n++
	return s.n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func newService(t *testing.T) (*MessageService, *recordingPublisher) {
	t.Helper()
	store := memory.New()
	for _, u := range []string{"alice", "bob", "eve"} {
		_, err := store.Users().Create(context.Background(), &userentity.User{
			Username:     u,
			PasswordHash: "x",
			FirstName:    u,
			LastName:     "Test",
			Phone:        "555",
		})
		require.NoError(t, err)
	}
	pub := &recordingPublisher{}
	return NewMessageService(store.Messages(), &seqIDs{}, pub, nil), pub
}

func send(t *testing.T, svc *MessageService) *entity.Message {
	t.Helper()
	m, err := svc.Create(context.Background(), "alice", SendInput{ToUsername: "bob", Body: "hi bob"})
	require.NoError(t, err)
	return m
}

func TestCreate(t *testing.T) {
	svc, pub := newService(t)

	m := send(t, svc)
	assert.Equal(t, int64(1), m.ID)
	assert.Equal(t, "alice", m.FromUsername)
	assert.Equal(t, "bob", m.ToUsername)
	assert.Nil(t, m.ReadAt)
	assert.False(t, m.SentAt.IsZero())

	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.EventMessageSent, pub.events[0].Type)
	assert.Equal(t, "bob", pub.events[0].Recipient)
}

func TestCreateUnknownRecipient(t *testing.T) {
	svc, pub := newService(t)

	_, err := svc.Create(context.Background(), "alice", SendInput{ToUsername: "zed", Body: "hi"})
	require.Error(t, err)
	assert.Equal(t, apperror.BadRequest, apperror.KindOf(err))
	assert.Empty(t, pub.events)
}

func TestCreateSurvivesPublishFailure(t *testing.T) {
	svc, pub := newService(t)
	pub.err = errors.New("broker down")

	_, err := svc.Create(context.Background(), "alice", SendInput{ToUsername: "bob", Body: "hi"})
	assert.NoError(t, err)
}

func TestGetVisibility(t *testing.T) {
	svc, _ := newService(t)
	m := send(t, svc)

	cases := []struct {
		caller string
		kind   apperror.Kind
		ok     bool
	}{
		{caller: "alice", ok: true},
		{caller: "bob", ok: true},
		{caller: "eve", kind: apperror.Forbidden},
	}
	for _, tc := range cases {
		t.Run(tc.caller, func(t *testing.T) {
			d, err := svc.Get(context.Background(), tc.caller, m.ID)
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, "hi bob", d.Body)
				assert.Equal(t, "alice", d.FromUser.Username)
				assert.Equal(t, "bob", d.ToUser.Username)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperror.KindOf(err))
		})
	}
}

func TestGetMissing(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Get(context.Background(), "alice", 42)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}

func TestMarkReadOnlyRecipient(t *testing.T) {
	svc, pub := newService(t)
	m := send(t, svc)

	for _, caller := range []string{"alice", "eve"} {
		_, err := svc.MarkRead(context.Background(), caller, m.ID)
		require.Error(t, err, caller)
		assert.Equal(t, apperror.Forbidden, apperror.KindOf(err), caller)
	}

	d, err := svc.Get(context.Background(), "bob", m.ID)
	require.NoError(t, err)
	assert.Nil(t, d.ReadAt)
	assert.Len(t, pub.events, 1)
}

func TestMarkReadIdempotent(t *testing.T) {
	svc, pub := newService(t)
	m := send(t, svc)

	first, err := svc.MarkRead(context.Background(), "bob", m.ID)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)
	assert.False(t, first.ReadAt.Before(first.SentAt))

	second, err := svc.MarkRead(context.Background(), "bob", m.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.ReadAt, *second.ReadAt)

	require.Len(t, pub.events, 2)
	assert.Equal(t, notify.EventMessageRead, pub.events[1].Type)
	assert.Equal(t, "alice", pub.events[1].Recipient)
}

func TestMarkReadMissing(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.MarkRead(context.Background(), "bob", 99)
	assert.True(t, errors.Is(err, apperror.ErrNotFound))
}
