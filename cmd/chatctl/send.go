package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/matheus3301/groupchat/internal/session"
	"github.com/spf13/cobra"
)

func newSendCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Post one message and print the stored copy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := message.NormalizeText(strings.Join(args, " "))
			if err != nil {
				return err
			}
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			sender, err := session.ResolveClientID(opts.clientID, cfg)
			if err != nil {
				return err
			}
			logger, err := opts.logger(cfg, sender)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			created, err := opts.client(cfg, logger).Send(ctx, client.SendRequest{
				Text:        text,
				Sender:      sender,
				ClientMsgID: uuid.NewString(),
			})
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), []message.Message{*created}, opts.json)
		},
	}
}
