package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mailsift/mailsift/pkg/inference"
	"github.com/mailsift/mailsift/pkg/resource"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show this machine's resource readings",
	Long: `Monitor samples CPU, RAM, GPU and disk usage the way a running launch
does, prints the reading with its throttle verdict and the instance
count the sampler would recommend.

With --watch it keeps sampling at the configured interval until
interrupted.`,
	RunE: runMonitor,
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Probe the network for reachable inference servers",
	Long: `Servers probes the hosts listed under inference.discovery_hosts and
prints every reachable inference server with its version and loaded
models. Use it to check the fleet before launching phase 2.`,
	RunE: runServers,
}

func init() {
	monitorCmd.Flags().Bool("watch", false, "Keep sampling until interrupted")
	monitorCmd.Flags().Bool("json", false, "Print raw snapshots")
	serversCmd.Flags().Duration("timeout", 3*time.Second, "Per-host probe timeout")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serversCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	watch, _ := cmd.Flags().GetBool("watch")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mon := resource.NewMonitor(cfg.Resources)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := cfg.Resources.SampleInterval.Std()
	if interval <= 0 {
		interval = 2 * time.Second
	}

	for {
		snap, err := mon.Sample(ctx)
		if err != nil {
			return fmt.Errorf("failed to sample resources: %w", err)
		}
		if asJSON {
			data, err := json.MarshalIndent(snap, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
		} else {
			printSnapshot(snap)
		}
		if !watch {
			return nil
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil
		}
	}
}

func printSnapshot(snap resource.Snapshot) {
	fmt.Printf("%s  %s\n", snap.Timestamp.Format(time.RFC3339), snap.Hostname)
	fmt.Printf("  CPU %5.1f%% of %d cores\n", snap.CPUPercent, snap.CPUCores)
	fmt.Printf("  RAM %5.1f%% (%.1f of %.1f GiB)\n",
		snap.RAMPercent, snap.RAMUsedGiB, snap.RAMTotalGiB)
	if snap.GPU != nil {
		fmt.Printf("  GPU %5.1f%%  VRAM %.0f of %.0f MiB  %.0f°C  %s\n",
			snap.GPU.UtilizationPercent, snap.GPU.MemoryUsedMiB,
			snap.GPU.MemoryTotalMiB, snap.GPU.TemperatureC, snap.GPU.Name)
	}
	for _, d := range snap.Disks {
		fmt.Printf("  Disk %s: %.1f GiB free of %.1f\n", d.Path, d.FreeGiB, d.TotalGiB)
	}
	if snap.Throttled {
		fmt.Printf("  THROTTLED: %s\n", strings.Join(snap.ThrottleReasons, ", "))
	}
	fmt.Printf("  Recommended instances: %d (max safe %d)\n",
		snap.RecommendedInstances, snap.MaxSafeInstances)
}

func runServers(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	hosts := cfg.Inference.DiscoveryHosts
	if len(hosts) == 0 {
		hosts = []string{"localhost"}
	}

	fmt.Printf("Probing %d hosts...\n", len(hosts))
	found := inference.Discover(context.Background(), hosts, timeout)
	if len(found) == 0 {
		fmt.Println("No inference servers reachable")
		return nil
	}

	for _, srv := range found {
		fmt.Printf("✓ %s (version %s, %d models)\n", srv.Host, srv.Version, len(srv.Models))
		for _, model := range srv.Models {
			fmt.Printf("    %s\n", model)
		}
	}
	return nil
}
