// Package api serves the operational surface of a running launch.
//
// Everything here is read-only over the shared store: /metrics exposes
// the Prometheus registry, /health, /ready and /live answer probe
// traffic, and /status returns the same fleet view the status command
// prints, as JSON. The server deliberately has no mutating endpoints;
// control flows through the store's stop flags and the CLI, never
// through HTTP, so a scraped or proxied port can not interfere with a
// run.
//
// GatherStatus is shared with the CLI so the terminal view and the
// HTTP view can never drift apart.
package api
