package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show the audio backend and device state",
	Args:  cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		f, lm, err := openFlow()
		if err != nil {
			return err
		}
		defer closeFlow(f, lm)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		backend := f.Backend()
		input := "present"
		has, err := backend.Capture.HasInputDevice(ctx)
		switch {
		case err != nil:
			input = "error: " + err.Error()
		case !has:
			input = "none"
		}

		stats := f.Device().Stats()
		rows := [][2]string{
			{"backend", backend.Name},
			{"input device", input},
			{"route", stats.Route.String()},
			{"settle delay", f.Device().SettleDelay().String()},
			{"catalog", f.Catalog().Dir()},
			{"clips", fmt.Sprint(len(f.Catalog().Entries()))},
		}
		for _, r := range rows {
			fmt.Printf("%-14s %s\n", keyword(r[0]), r[1])
		}
		return nil
	},
}
