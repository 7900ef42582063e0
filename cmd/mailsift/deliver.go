package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailsift/mailsift/pkg/deliver"
	"github.com/mailsift/mailsift/pkg/launcher"
	"github.com/mailsift/mailsift/pkg/normalize"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/spf13/cobra"
)

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "Push finished artifacts to the document service",
	Long: `Deliver walks every item's best artifact and uploads the original
message with its extracted metadata to the document management
service.

The pass is idempotent: a local receipt ledger short-circuits reruns
and the service is consulted by checksum before each upload, so an
interrupted pass can simply be started again. Run it from one machine
at a time.

Exit codes: 0 everything delivered, 2 some items failed and remain for
the next pass.`,
	RunE: runDeliver,
}

func init() {
	rootCmd.AddCommand(deliverCmd)
}

func runDeliver(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Delivery.URL == "" {
		return fmt.Errorf("%w: delivery.url is not set", launcher.ErrConfig)
	}

	st, err := store.New(cfg.Store.Root)
	if err != nil {
		return err
	}
	ledger, err := deliver.OpenLedger(st.DeliveryDBPath())
	if err != nil {
		return err
	}
	defer ledger.Close()

	d := deliver.FromConfig(st, cfg.Delivery, ledger)
	if cfg.KnownMappingsPath != "" {
		mappings, err := normalize.LoadMappings(cfg.KnownMappingsPath)
		if err != nil {
			return err
		}
		d = d.WithNormalizer(normalize.New().WithMappings(mappings))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Delivering to %s...\n", cfg.Delivery.URL)
	sum, err := d.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("✓ %d delivered, %d updated, %d skipped, %d failed\n",
		sum.Delivered, sum.Updated, sum.Skipped, sum.Failed)
	if sum.Failed > 0 {
		exitCode = 2
	}
	return nil
}
