// Package launcher turns a machine's configuration into a running
// phase.
//
// One Launch call owns everything a phase run needs on this host: it
// clears leftover stop flags, sizes the instance count (asking the
// resource monitor when the config says zero), cuts the machine's slot
// range into per-instance sub-ranges, and runs the instances in one
// process beside the resource monitor, the metrics collector and the
// ops HTTP server. SIGINT and SIGTERM drain gracefully: in-flight
// items finish inside the grace window, then the run is abandoned
// mid-item and the claims release for the next launch.
//
// The launcher is also where a phase learns it is finished. After a
// clean run it checks the stream it consumes; when every record has
// reached a terminal state the phase marker goes on disk exactly once,
// no matter how many machines raced to write it.
//
// Exit codes follow the pipeline contract: 0 clean, 1 configuration
// (ErrConfig), 2 when items failed, 3 when a run stopped early or the
// filesystem aborted it.
package launcher
