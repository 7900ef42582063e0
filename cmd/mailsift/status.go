package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mailsift/mailsift/pkg/api"
	"github.com/mailsift/mailsift/pkg/launcher"
	"github.com/mailsift/mailsift/pkg/store"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline progress across all machines",
	Long: `Status reads the shared store's ledgers and prints how far each phase
has come and which instances are currently running, on any machine.

The same view is served over HTTP from /status on every launched
machine when metrics.listen is configured.`,
	RunE: runStatus,
}

var stopCmd = &cobra.Command{
	Use:   "stop [MACHINE_TAG]",
	Short: "Ask running instances to finish their item and exit",
	Long: `Stop raises the machine's stop flag in the shared store, signals its
live instances and waits for them to drain. Without a MACHINE_TAG every
configured machine's flag is raised; only instances on this host can be
signaled directly.

Instances that outlive the grace window are killed; their in-flight
claims fall to the stale-lock reaper.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print the raw status document")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(stopCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := store.New(cfg.Store.Root)
	if err != nil {
		return err
	}
	status, err := api.GatherStatus(st)
	if err != nil {
		return err
	}

	if asJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("Store: %s\n", cfg.Store.Root)
	fmt.Printf("Input items: %d\n\n", status.InputItems)

	fmt.Printf("%-7s %10s %10s  %s\n", "PHASE", "ARTIFACTS", "FAILURES", "DRAINED")
	for _, p := range status.Phases {
		drained := ""
		if p.Done {
			drained = "✓"
		}
		fmt.Printf("%-7d %10d %10d  %s\n", p.Phase, p.Artifacts, p.Failures, drained)
	}
	if status.Deferred > 0 {
		fmt.Printf("\nDeferred: %d items waiting for budget\n", status.Deferred)
	}

	fmt.Printf("\nInstances: %d running\n", status.Running)
	for _, inst := range status.Instances {
		state := "stale"
		switch {
		case inst.Fresh && inst.Running:
			state = "running"
		case !inst.Running:
			state = "finished"
		}
		line := fmt.Sprintf("  %-12s phase %d  %-12s [%d,%d)  %d done",
			inst.InstanceID, inst.Phase, inst.MachineTag,
			inst.RangeStart, inst.RangeEnd, inst.Processed)
		if inst.CurrentItem != "" && state == "running" {
			line += "  on " + inst.CurrentItem
		}
		fmt.Printf("%s  %s (updated %s)\n", line, state,
			inst.UpdatedAt.Format(time.TimeOnly))
	}
	return nil
}

func runStop(cmd *cobra.Command, args []string) error {
	tag := ""
	if len(args) == 1 {
		tag = args[0]
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	l, err := launcher.New(cfg)
	if err != nil {
		return err
	}
	if err := l.StopMachine(tag); err != nil {
		return err
	}
	fmt.Println("✓ Stop complete")
	return nil
}
