package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/status"
	"go.uber.org/zap"
)

// wsConn is the subset of *websocket.Conn the push transport uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a websocket to url.
type Dialer func(ctx context.Context, url string) (wsConn, error)

func dialWebsocket(ctx context.Context, u string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, u, nil) //nolint:bodyclose // Dial closes the response body
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// frame is an inbound websocket payload: either a system notice or a bare
// message.
type frame struct {
	Type string `json:"type"`
	message.Message
}

const frameSystem = "system"

// Push keeps one websocket open per client identity. It does not reconnect;
// a dropped socket leaves the channel Disconnected until started again.
type Push struct {
	url    string
	dial   Dialer
	logger *zap.Logger

	mu     sync.Mutex
	conn   wsConn
	cancel context.CancelFunc
	done   chan struct{}
}

type PushOption func(*Push)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) PushOption {
	return func(p *Push) { p.dial = d }
}

// NewPush builds a push transport for clientID against the server at
// serverURL (http, https, ws or wss).
func NewPush(serverURL, clientID string, logger *zap.Logger, opts ...PushOption) (*Push, error) {
	u, err := SocketURL(serverURL, clientID)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Push{url: u, dial: dialWebsocket, logger: logger.With(zap.String("transport", "push"))}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SocketURL maps a server base URL to its websocket endpoint for clientID.
func SocketURL(serverURL, clientID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if clientID == "" {
		return "", errors.New("client id is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + clientID
	u.RawQuery = ""
	return u.String(), nil
}

func (p *Push) Mode() Mode { return ModePush }

// URL returns the websocket endpoint.
func (p *Push) URL() string { return p.url }

// Start dials the socket and begins reading frames.
func (p *Push) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	if p.done != nil {
		select {
		case <-p.done:
			p.cancel()
		default:
			p.mu.Unlock()
			return ErrAlreadyStarted
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.mu.Unlock()

	sink.SetState(status.Connecting)
	conn, err := p.dial(ctx, p.url)
	if err != nil {
		cancel()
		close(done)
		sink.SetState(status.Disconnected)
		p.logger.Warn("websocket dial failed", zap.String("url", p.url), zap.Error(err))
		return fmt.Errorf("dial %s: %w: %v", p.url, client.ErrTransportUnavailable, err)
	}

	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
	sink.SetState(status.Connected)
	p.logger.Info("websocket connected", zap.String("url", p.url))

	go p.readLoop(ctx, conn, sink, done)
	return nil
}

func (p *Push) readLoop(ctx context.Context, conn wsConn, sink Sink, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		sink.SetState(status.Disconnected)
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("websocket closed")
			} else {
				p.logger.Warn("websocket dropped", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			p.logger.Debug("ignoring binary frame", zap.Int("bytes", len(data)))
			continue
		}
		p.handleFrame(data, sink)
	}
}

func (p *Push) handleFrame(data []byte, sink Sink) {
	f, err := decodeFrame(data)
	if err != nil {
		p.logger.Warn("dropping frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if f.Type == frameSystem {
		p.logger.Info("system notice", zap.String("text", f.Text))
		sink.Notice(f.Text)
		return
	}
	sink.Deliver([]message.Message{f.Message})
}

func decodeFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("%w: %v", client.ErrDecode, err)
	}
	if f.Type == frameSystem {
		return f, nil
	}
	if f.Type != "" && f.Type != "message" {
		return frame{}, fmt.Errorf("%w: unknown frame type %q", client.ErrDecode, f.Type)
	}
	f.Status = message.StatusConfirmed
	if err := f.Message.Validate(); err != nil {
		return frame{}, fmt.Errorf("%w: %v", client.ErrDecode, err)
	}
	return f, nil
}

// Stop closes the socket and waits for the reader to exit.
func (p *Push) Stop() {
	p.mu.Lock()
	cancel, done, conn := p.cancel, p.done, p.conn
	p.cancel, p.done, p.conn = nil, nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	cancel()
	<-done
}

// Send writes out.Text as a raw text frame. Nothing is awaited; the server's
// copy arrives later as a live delivery.
func (p *Push) Send(ctx context.Context, out Outgoing) (*message.Message, error) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		p.logger.Warn("send while disconnected", zap.String("client_msg_id", out.ClientMsgID))
		return nil, ErrNotConnected
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(out.Text)); err != nil {
		p.logger.Warn("websocket write failed", zap.Error(err))
		return nil, fmt.Errorf("write frame: %w: %v", client.ErrTransportUnavailable, err)
	}
	return nil, nil
}
