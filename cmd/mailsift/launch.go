package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/mailsift/mailsift/pkg/launcher"
	"github.com/spf13/cobra"
)

var launchCmd = &cobra.Command{
	Use:   "launch PHASE MACHINE_TAG",
	Short: "Run one phase's instance fleet on this machine",
	Long: `Launch runs the configured instances for one phase of the pipeline.

PHASE is 1 (rule-based classification), 2 (local model tiers) or
3 (external model under the daily budget). MACHINE_TAG selects this
machine's range and instance count from the config file; an instance
count of 0 asks the resource monitor for a recommendation.

The first interrupt lets every instance finish its current item before
exiting; a second interrupt abandons in-flight items, whose claims fall
to the stale-lock reaper.

Exit codes: 0 the range drained clean, 1 configuration error, 2 some
items failed into the next phase's stream, 3 the run was stopped or
aborted early.

Examples:
  # Phase 1 with the assignment configured for machine "mac-studio"
  mailsift launch 1 mac-studio

  # Phase 2 on the same machine after phase 1 drains everywhere
  mailsift launch 2 mac-studio`,
	Args: cobra.ExactArgs(2),
	RunE: runLaunch,
}

func init() {
	rootCmd.AddCommand(launchCmd)
}

func runLaunch(cmd *cobra.Command, args []string) error {
	phase, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%w: phase must be a number, got %q", launcher.ErrConfig, args[0])
	}
	machineTag := args[1]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	l, err := launcher.New(cfg)
	if err != nil {
		return err
	}

	res, err := l.Launch(context.Background(), phase, machineTag)
	if err != nil {
		if errors.Is(err, launcher.ErrConfig) {
			return err
		}
		return &abortError{err}
	}

	s := res.Summary
	fmt.Printf("Phase %d on %s: %d processed, %d failed, %d deferred, %d skipped\n",
		res.Phase, machineTag, s.Processed, s.Failed, s.Deferred, s.Skipped)
	if res.Drained {
		fmt.Printf("✓ Phase %d failure stream fully consumed\n", res.Phase-1)
	}
	if s.Stopped {
		fmt.Println("Run stopped before draining its range")
	}
	exitCode = res.ExitCode()
	return nil
}
