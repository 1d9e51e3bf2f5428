package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/matheus3301/groupchat/internal/bus"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/session"
	intsync "github.com/matheus3301/groupchat/internal/sync"
	"github.com/spf13/cobra"
)

func newTailCmd(opts *options) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the conversation until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Transport.Mode = mode
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			clientID, err := session.ResolveClientID(opts.clientID, cfg)
			if err != nil {
				return err
			}
			logger, err := opts.logger(cfg, clientID)
			if err != nil {
				return err
			}

			engine, err := intsync.NewFromConfig(cfg, clientID, intsync.Deps{Logger: logger})
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return tail(ctx, engine, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "transport: push or poll (overrides config)")
	return cmd
}

// tail prints every confirmed message once, in timeline order, until ctx
// is done.
func tail(ctx context.Context, engine *intsync.Engine, w io.Writer) error {
	events, unsubscribe := engine.Bus().Subscribe("", 64)
	defer unsubscribe()

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer engine.Stop()

	printed := make(map[message.ID]bool)
	flush := func() {
		for _, m := range engine.Messages() {
			if m.Local() || printed[m.ID] {
				continue
			}
			printed[m.ID] = true
			printMessage(w, m)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-events:
			switch evt.Kind {
			case bus.KindTimelineChanged:
				flush()
			case bus.KindConnNotice:
				_, _ = fmt.Fprintf(w, "* %v\n", evt.Payload)
			case bus.KindSyncError:
				if rep, ok := evt.Payload.(intsync.ErrorReport); ok {
					_, _ = fmt.Fprintf(w, "! %s: %v\n", rep.Op, rep.Err)
				}
			}
		}
	}
}
