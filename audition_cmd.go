package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/voicebooth/internal/flow"
	"github.com/dgnsrekt/voicebooth/internal/notify"
)

var auditionCmd = &cobra.Command{
	Use:     "audition [CLIP...]",
	Short:   "Play catalog clips",
	Long:    paragraph(fmt.Sprintf("\n%s sample clips from the catalog directory, one after another. Without arguments the catalog is listed.", keyword("Play"))),
	Example: paragraph("voicebooth audition\nvoicebooth audition default narrator"),
	RunE: func(_ *cobra.Command, args []string) error {
		f, lm, err := openFlow()
		if err != nil {
			return err
		}
		defer closeFlow(f, lm)

		if len(args) == 0 {
			for _, e := range f.Catalog().Entries() {
				size := "built-in"
				if !e.Builtin {
					size = humanize.Bytes(uint64(e.Size))
				}
				fmt.Printf("%-20s %-30s %s\n", keyword(e.ID), e.Title, size)
			}
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		events, unsubscribe := f.Subscribe(16)
		defer unsubscribe()

		for _, id := range args {
			if err := f.Toggle(ctx, id); err != nil {
				return err
			}
			fmt.Println("Playing", keyword(id))
			if !waitForEnd(events, lm.ShuttingDown(), id) {
				return nil
			}
		}
		return nil
	},
}

// waitForEnd blocks until clipID stops playing. It returns false when the
// program is shutting down.
func waitForEnd(events <-chan notify.Event, shutdown <-chan struct{}, clipID string) bool {
	for {
		select {
		case <-shutdown:
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if ev.ClipID != clipID {
				continue
			}
			if ev.Kind == notify.KindPlaybackCompleted || ev.Kind == notify.KindPlaybackStopped {
				fmt.Println(flow.FormatElapsed(ev.Elapsed), ev.Detail)
				return true
			}
		}
	}
}
