package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/groupchat/internal/bus"
	"github.com/matheus3301/groupchat/internal/channel"
	"github.com/matheus3301/groupchat/internal/message"
	"go.uber.org/zap"
)

// TextSender is the transport half of a live channel.
type TextSender interface {
	Send(ctx context.Context, out channel.Outgoing) (*message.Message, error)
}

// SendAck is the payload of message.send_ack. Created is set when the
// transport returned the server copy.
type SendAck struct {
	ClientMsgID string
	LocalID     message.ID
	Created     *message.Message
}

// SendFailure is the payload of message.send_failed.
type SendFailure struct {
	ClientMsgID string
	LocalID     message.ID
	Attempts    int
	Err         error
}

// Sender drives one outbox entry through the transport and publishes the
// outcome.
type Sender struct {
	box    *Outbox
	sender TextSender
	bus    *bus.Bus
	logger *zap.Logger
}

func NewSender(box *Outbox, sender TextSender, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{box: box, sender: sender, bus: b, logger: logger}
}

// Send transmits the entry for clientMsgID. On success it returns the
// server copy when the transport provides one.
func (s *Sender) Send(ctx context.Context, clientMsgID string) (*message.Message, error) {
	entry, err := s.box.MarkSending(clientMsgID)
	if err != nil {
		return nil, err
	}

	created, err := s.sender.Send(ctx, channel.Outgoing{
		Text:        entry.Text,
		Sender:      entry.Sender,
		ClientMsgID: entry.ClientMsgID,
	})
	if err != nil {
		failed, _ := s.box.MarkFailed(clientMsgID, err)
		s.logger.Error("failed to send message",
			zap.Error(err),
			zap.String("client_msg_id", clientMsgID),
			zap.Int("attempt", failed.Attempts))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindSendFailed,
			Timestamp: time.Now(),
			Payload: SendFailure{
				ClientMsgID: clientMsgID,
				LocalID:     entry.LocalID,
				Attempts:    failed.Attempts,
				Err:         err,
			},
		})
		return nil, err
	}

	var serverID message.ID
	if created != nil {
		serverID = created.ID
	}
	if _, err := s.box.MarkSent(clientMsgID, serverID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", clientMsgID))
	}
	s.logger.Info("message sent",
		zap.String("client_msg_id", clientMsgID),
		zap.String("server_msg_id", serverID.String()))
	s.bus.Publish(bus.Event{
		Kind:      bus.KindSendAck,
		Timestamp: time.Now(),
		Payload:   SendAck{ClientMsgID: clientMsgID, LocalID: entry.LocalID, Created: created},
	})
	return created, nil
}
