package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/groupchat/internal/hub"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/metrics"
	"github.com/matheus3301/groupchat/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrInvalid marks a request the server refuses to store.
	ErrInvalid = errors.New("invalid message")
	// ErrRateLimited is returned when a sender exceeds its token bucket.
	ErrRateLimited = errors.New("rate limited")
)

// Limits configures the per-sender token bucket.
type Limits struct {
	RatePerSecond float64
	Burst         int
}

// MessageService persists messages and fans them out to sockets.
type MessageService struct {
	db      *store.DB
	hub     *hub.Hub
	limits  *limiterPool
	metrics *metrics.Server
	logger  *zap.Logger
}

// NewMessageService creates the service and registers it as the hub's
// handler for inbound socket text.
func NewMessageService(db *store.DB, h *hub.Hub, limits Limits, m *metrics.Server, logger *zap.Logger) *MessageService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MessageService{
		db:      db,
		hub:     h,
		limits:  newLimiterPool(limits.RatePerSecond, limits.Burst),
		metrics: m,
		logger:  logger,
	}
	h.OnText(func(ctx context.Context, sender, text string) error {
		_, err := s.Create(ctx, sender, text, "")
		return err
	})
	return s
}

// Create stores a message and broadcasts it. A repeated (sender,
// clientMsgID) pair returns the stored copy without a second broadcast.
func (s *MessageService) Create(_ context.Context, sender, text, clientMsgID string) (message.Message, error) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return message.Message{}, fmt.Errorf("%w: sender is required", ErrInvalid)
	}
	text, err := message.NormalizeText(text)
	if err != nil {
		return message.Message{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !s.limits.Allow(sender) {
		s.logger.Warn("sender rate limited", zap.String("sender", sender))
		return message.Message{}, ErrRateLimited
	}

	row, created, err := s.db.InsertMessage(sender, text, clientMsgID)
	if err != nil {
		return message.Message{}, err
	}
	msg := row.Message()
	if !created {
		s.logger.Debug("duplicate send", zap.String("sender", sender), zap.String("client_msg_id", clientMsgID))
		return msg, nil
	}
	s.metrics.MessageCreated()
	s.logger.Info("message created", zap.Int64("id", row.ID), zap.String("sender", sender))
	s.hub.Broadcast(msg)
	return msg, nil
}

// History returns up to limit messages before beforeID, oldest first.
func (s *MessageService) History(_ context.Context, beforeID int64, limit int) ([]message.Message, error) {
	rows, err := s.db.ListMessages(beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]message.Message, len(rows))
	for i, r := range rows {
		out[i] = r.Message()
	}
	return out, nil
}
