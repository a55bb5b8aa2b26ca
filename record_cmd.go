package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/voicebooth/internal/console"
)

var recordCmd = &cobra.Command{
	Use:     "record",
	Short:   "Record one take per prompt",
	Long:    paragraph(fmt.Sprintf("\n%s one take per prompt. Press enter to start and stop a take, redo any take and play takes back before you quit.", keyword("Record"))),
	Example: paragraph("voicebooth record\nvoicebooth record --prompts prompts.txt --backend mock"),
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		f, lm, err := openFlow()
		if err != nil {
			return err
		}
		defer closeFlow(f, lm)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			select {
			case <-lm.ShuttingDown():
				cancel()
			case <-ctx.Done():
			}
		}()

		c := console.New(f, os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
		events, unsubscribe := f.Subscribe(32)
		defer unsubscribe()
		go c.Watch(events)

		return c.Run(ctx, os.Stdin)
	},
}
