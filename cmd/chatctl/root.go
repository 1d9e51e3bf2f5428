package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/config"
	"github.com/matheus3301/groupchat/internal/logging"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	configPath string
	server     string
	clientID   string
	json       bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Command-line client for the group conversation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (default ~/.groupchat/config.toml)")
	flags.StringVar(&opts.server, "server", "", "server base URL (overrides config)")
	flags.StringVar(&opts.clientID, "client-id", "", "participant id (overrides config)")
	flags.BoolVar(&opts.json, "json", false, "output in JSON format")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		newHistoryCmd(opts),
		newSendCmd(opts),
		newTailCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *options) path() string {
	if o.configPath != "" {
		return o.configPath
	}
	return session.ConfigPath()
}

// load resolves the config with the --server override applied.
func (o *options) load() (*config.Config, error) {
	cfg, err := config.Resolve(o.path())
	if err != nil {
		return nil, err
	}
	if o.server != "" {
		cfg.Server.URL = o.server
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (o *options) logger(cfg *config.Config, clientID string) (*zap.Logger, error) {
	if !o.verbose {
		return zap.NewNop(), nil
	}
	return logging.New(logging.Options{
		Level:     cfg.Log.Level,
		Component: "chatctl",
		ClientID:  clientID,
		Console:   true,
	})
}

func (o *options) client(cfg *config.Config, logger *zap.Logger) *client.Client {
	return client.New(cfg.Server.URL, client.WithLogger(logger))
}

// printMessages writes msgs as lines or, with --json, as one JSON array.
func printMessages(w io.Writer, msgs []message.Message, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if msgs == nil {
			msgs = []message.Message{}
		}
		return enc.Encode(msgs)
	}
	for _, m := range msgs {
		printMessage(w, m)
	}
	return nil
}

func printMessage(w io.Writer, m message.Message) {
	stamp := "--:--:--"
	if m.Timestamp > 0 {
		stamp = time.UnixMilli(m.Timestamp).Format("15:04:05")
	}
	_, _ = fmt.Fprintf(w, "%s  #%-6s %s: %s\n", stamp, m.ID, m.Sender, m.Text)
}
