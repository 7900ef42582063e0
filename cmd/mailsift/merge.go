package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mailsift/mailsift/pkg/deliver"
	"github.com/mailsift/mailsift/pkg/launcher"
	"github.com/mailsift/mailsift/pkg/merge"
	"github.com/mailsift/mailsift/pkg/normalize"
	"github.com/spf13/cobra"
)

var mergeCmd = &cobra.Command{
	Use:   "merge-correspondents",
	Short: "Fold duplicate correspondents in the document service",
	Long: `Merge-correspondents finds correspondents whose names normalize to the
same key ("ALZA.CZ a.s.", "Alza.cz", "alza") and folds each group into
one primary: documents move to the primary, the duplicates are deleted
and the primary is renamed to the group's canonical display name.

Without --execute the command only prints the plan.`,
	RunE: runMerge,
}

func init() {
	mergeCmd.Flags().Bool("execute", false, "Apply the plan instead of printing it")

	rootCmd.AddCommand(mergeCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	execute, _ := cmd.Flags().GetBool("execute")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Delivery.URL == "" {
		return fmt.Errorf("%w: delivery.url is not set", launcher.ErrConfig)
	}

	client := deliver.NewClient(cfg.Delivery.URL, cfg.Delivery.Token)
	if cfg.Delivery.RatePerSecond > 0 {
		client = client.WithRateLimit(cfg.Delivery.RatePerSecond, cfg.Delivery.Burst)
	}
	merger := merge.New(client)
	if cfg.KnownMappingsPath != "" {
		mappings, err := normalize.LoadMappings(cfg.KnownMappingsPath)
		if err != nil {
			return err
		}
		merger = merger.WithNormalizer(normalize.New().WithMappings(mappings))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	groups, err := merger.Plan(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No duplicate correspondents found")
		return nil
	}

	for _, g := range groups {
		fmt.Printf("%s: keep #%d as %q, absorb %d duplicates (%d documents)\n",
			g.Key, g.Primary.ID, g.TargetName, len(g.Duplicates), g.Documents())
		for _, dup := range g.Duplicates {
			fmt.Printf("    #%d %q (%d documents)\n", dup.ID, dup.Name, dup.DocumentCount)
		}
	}

	if !execute {
		fmt.Printf("\n%d groups planned. Rerun with --execute to merge.\n", len(groups))
		return nil
	}

	report, err := merger.Execute(ctx, groups)
	if err != nil {
		return err
	}
	fmt.Printf("\n✓ %d of %d groups merged: %d documents moved, %d primaries renamed\n",
		report.Merged, report.Groups, report.DocumentsMoved, report.Renamed)
	if report.Errors > 0 {
		fmt.Printf("%d groups hit errors and were left in place, see the log\n", report.Errors)
		exitCode = 2
	}
	return nil
}
