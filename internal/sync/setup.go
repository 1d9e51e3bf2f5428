package sync

import (
	"fmt"

	"github.com/matheus3301/groupchat/internal/bus"
	"github.com/matheus3301/groupchat/internal/channel"
	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/config"
	"github.com/matheus3301/groupchat/internal/metrics"
	"go.uber.org/zap"
)

// Deps are the optional collaborators of NewFromConfig.
type Deps struct {
	Bus     *bus.Bus
	Metrics *metrics.Sync
	Logger  *zap.Logger
	// Client overrides the HTTP client built from cfg.Server.URL.
	Client *client.Client
}

// NewFromConfig builds an engine for clientID over the transport cfg names.
func NewFromConfig(cfg *config.Config, clientID string, deps Deps) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	api := deps.Client
	if api == nil {
		api = client.New(cfg.Server.URL, client.WithLogger(logger))
	}

	mode, err := channel.ParseMode(cfg.Transport.Mode)
	if err != nil {
		return nil, err
	}
	var ch channel.Channel
	switch mode {
	case channel.ModePush:
		push, err := channel.NewPush(api.BaseURL(), clientID, logger)
		if err != nil {
			return nil, fmt.Errorf("push channel: %w", err)
		}
		logger.Debug("push transport", zap.String("url", push.URL()))
		ch = push
	case channel.ModePoll:
		ch = channel.NewPoll(api, cfg.Transport.PollInterval.Duration, cfg.Transport.PollLimit, logger)
	}

	return New(Options{
		ClientID:     clientID,
		Channel:      ch,
		History:      api,
		InitialLimit: cfg.History.InitialLimit,
		PageSize:     cfg.History.PageSize,
		Bus:          deps.Bus,
		Metrics:      deps.Metrics,
		Logger:       logger,
	})
}
