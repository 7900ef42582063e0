/*
Package log provides structured logging for the pipeline using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ────────────────────┐
	│                                                          │
	│  ┌──────────────────────────────────────────┐          │
	│  │            Global Logger                  │          │
	│  │  - Zerolog instance                       │          │
	│  │  - Initialized via log.Init()             │          │
	│  │  - Thread-safe for concurrent use         │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │           Configuration                   │          │
	│  │  - Level: debug/info/warn/error           │          │
	│  │  - Format: JSON or console (human)        │          │
	│  │  - Output: stdout, file, or custom writer │          │
	│  └──────────────────┬───────────────────────┘          │
	│                     │                                    │
	│  ┌──────────────────▼───────────────────────┐          │
	│  │         Contextual Loggers                │          │
	│  │  - WithComponent("store")                 │          │
	│  │  - WithInstance("a1b2c3")                 │          │
	│  │  - WithPhase(2)                           │          │
	│  │  - WithItem("item_42")                    │          │
	│  └──────────────────────────────────────────┘          │
	└──────────────────────────────────────────────────────┘

# Usage

Initialization (once, at process start):

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component loggers:

	logger := log.WithComponent("deliver")
	logger.Info().Str("item_id", id).Msg("document uploaded")

Worker instance loggers combine contexts:

	logger := log.WithInstance(instanceID).With().Int("phase", 1).Logger()
	logger.Debug().Str("item_id", item.ItemID).Msg("claimed")

Quick helpers for one-off messages:

	log.Info("scan complete")
	log.Errorf("failed to scan input", err)

# Conventions

Workers log item-level events at debug, per-phase summaries at info,
and analyzer failures at warn with the failure reason as a structured
field. Fatal is reserved for configuration errors at startup.

# See Also

  - pkg/worker for how instance loggers are constructed
  - github.com/rs/zerolog for the underlying library
*/
package log
