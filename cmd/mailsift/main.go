package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mailsift/mailsift/pkg/config"
	"github.com/mailsift/mailsift/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// exitCode is the status for runs that complete with a degraded
// outcome: 2 when some items failed, 3 when the run stopped early.
// RunE errors go through main instead and exit 1, except aborts.
var exitCode int

// abortError marks a run that died mid-flight (filesystem aborts, lost
// collaborators) as opposed to one that was configured wrong.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var abort *abortError
		if errors.As(err, &abort) {
			os.Exit(3)
		}
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "mailsift",
	Short: "Mailsift - distributed email archive extraction",
	Long: `Mailsift turns a directory of exported email messages into structured
documents in a document management system.

Phases run as small fleets of single-writer instances over a shared
filesystem store: rule-based classification first, local model tiers
for the leftovers, an external model under a daily budget, manual
review for the stubborn few, and an idempotent delivery pass at the
end. Any machine that mounts the store can run any phase.`,
	Version: Version,
}

func init() {
	// Set version template
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Mailsift version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "mailsift.yaml", "Path to the configuration file")
}

// loadConfig reads the configured file and initializes logging from
// it. Logs go to stderr so command output stays parseable.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}
