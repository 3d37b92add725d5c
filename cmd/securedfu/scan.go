package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moffa90/go-securedfu/ble"
	"github.com/moffa90/go-securedfu/dfu"
	"github.com/moffa90/go-securedfu/internal/style"
)

func newScanCommand() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List advertising devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			transport, err := ble.Open()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), duration)
			defer cancel()

			ads, err := transport.Scan(ctx)
			if err != nil {
				return err
			}
			for _, ad := range uniqueAdvertisements(ads) {
				fmt.Fprintln(cmd.OutOrStdout(), style.Field(ad.Device.Address(), ad.LocalName))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "How long to scan")
	return cmd
}

// uniqueAdvertisements drains ads and keeps the first named advertisement
// of every address.
func uniqueAdvertisements(ads <-chan dfu.Advertisement) []dfu.Advertisement {
	seen := make(map[string]bool)
	var out []dfu.Advertisement
	for ad := range ads {
		if ad.LocalName == "" || seen[ad.Device.Address()] {
			continue
		}
		seen[ad.Device.Address()] = true
		out = append(out, ad)
	}
	return out
}
