package main

import (
	"context"
	"time"

	"github.com/matheus3301/groupchat/internal/client"
	"github.com/matheus3301/groupchat/internal/message"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *options) *cobra.Command {
	var (
		limit  int
		before string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a page of history, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := opts.logger(cfg, "")
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = cfg.History.PageSize
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			msgs, err := opts.client(cfg, logger).History(ctx, client.HistoryQuery{
				Limit:    limit,
				BeforeID: message.ID(before),
			})
			if err != nil {
				return err
			}
			return printMessages(cmd.OutOrStdout(), msgs, opts.json)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "messages to fetch (default history.page_size)")
	cmd.Flags().StringVar(&before, "before", "", "only messages older than this id")
	return cmd
}
