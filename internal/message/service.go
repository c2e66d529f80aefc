package message

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/apperror"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/message/entity"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-messenger-go/internal/notify"
)

// Store is the persistence contract of the message exchange. Missing
// messages are reported as apperror NotFound.
type Store interface {
	Create(ctx context.Context, m *entity.Message) (*entity.Message, error)
	Get(ctx context.Context, id int64) (*entity.Detail, error)
	// MarkRead sets read_at if it is still null and returns the row;
	// marked is true only when this call set it.
	MarkRead(ctx context.Context, id int64) (msg *entity.Message, marked bool, err error)
}

type IDGenerator interface {
	NextID() int64
}

// MessageService is the message exchange: create, fetch and mark-read with
// the visibility rules between two correspondents.
type MessageService struct {
	store     Store
	ids       IDGenerator
	publisher notify.Publisher
	logger    *zap.SugaredLogger
}

func NewMessageService(store Store, ids IDGenerator, publisher notify.Publisher, logger *zap.SugaredLogger) *MessageService {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &MessageService{store: store, ids: ids, publisher: publisher, logger: logger}
}

// SendInput is the validated payload of a new message. The sender is never
// part of it; it always comes from the verified identity.
type SendInput struct {
	ToUsername string `json:"to_username" validate:"required,max=64"`
	Body       string `json:"body" validate:"required,max=10000"`
}

// Create stores a message from `from`. Whether the recipient exists is left
// to the store's referential integrity.
func (s *MessageService) Create(ctx context.Context, from string, in SendInput) (*entity.Message, error) {
	m, err := s.store.Create(ctx, &entity.Message{
		ID:           s.ids.NextID(),
		FromUsername: from,
		ToUsername:   in.ToUsername,
		Body:         in.Body,
	})
	if err != nil {
		metrics.RecordMessageOp(metrics.OpSend, metrics.OutcomeError)
		return nil, err
	}
	metrics.RecordMessageOp(metrics.OpSend, metrics.OutcomeOK)
	s.publish(ctx, notify.Event{
		Type:      notify.EventMessageSent,
		MessageID: m.ID,
		From:      m.FromUsername,
		To:        m.ToUsername,
		SentAt:    m.SentAt,
		Recipient: m.ToUsername,
	})
	return m, nil
}

// Get returns the message with both profiles if caller is its sender or
// recipient, Forbidden otherwise.
func (s *MessageService) Get(ctx context.Context, caller string, id int64) (*entity.Detail, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		metrics.RecordMessageOp(metrics.OpView, outcomeOf(err))
		return nil, err
	}
	if !d.CanView(caller) {
		metrics.RecordMessageOp(metrics.OpView, metrics.OutcomeForbidden)
		return nil, apperror.New(apperror.Forbidden, "Only the sender or recipient may view this message")
	}
	metrics.RecordMessageOp(metrics.OpView, metrics.OutcomeOK)
	return d, nil
}

// MarkRead stamps read_at if caller is the recipient. The first read wins;
// repeated calls return the first timestamp.
func (s *MessageService) MarkRead(ctx context.Context, caller string, id int64) (*entity.Message, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		metrics.RecordMessageOp(metrics.OpMarkRead, outcomeOf(err))
		return nil, err
	}
	if !d.CanMarkRead(caller) {
		metrics.RecordMessageOp(metrics.OpMarkRead, metrics.OutcomeForbidden)
		return nil, apperror.New(apperror.Forbidden, "Only recipient may mark this message as read")
	}
	m, marked, err := s.store.MarkRead(ctx, id)
	if err != nil {
		metrics.RecordMessageOp(metrics.OpMarkRead, outcomeOf(err))
		return nil, err
	}
	if !marked {
		metrics.RecordMessageOp(metrics.OpMarkRead, metrics.OutcomeRepeat)
		return m, nil
	}
	metrics.RecordMessageOp(metrics.OpMarkRead, metrics.OutcomeOK)
	s.publish(ctx, notify.Event{
		Type:      notify.EventMessageRead,
		MessageID: m.ID,
		From:      m.FromUsername,
		To:        m.ToUsername,
		SentAt:    m.SentAt,
		ReadAt:    m.ReadAt,
		Recipient: m.FromUsername,
	})
	return m, nil
}

func (s *MessageService) publish(ctx context.Context, e notify.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warnw("publish event failed", "type", e.Type, "message_id", e.MessageID, "err", err)
	}
}

func outcomeOf(err error) string {
	if errors.Is(err, apperror.ErrNotFound) {
		return metrics.OutcomeNotFound
	}
	return metrics.OutcomeError
}
