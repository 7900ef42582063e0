// Package worker runs the per-item claim loop that every analytical
// phase shares.
//
// An Instance owns nothing but its slot range. The shared work store
// decides who processes what: the instance walks its items in order
// and for each one tries the exclusive-create claim, runs the phase's
// Processor, persists the outcome and releases the lock.
//
//	┌────────────┐   Items()   ┌──────────────────────────────┐
//	│   Source   ├────────────►│           Instance           │
//	└────────────┘             │                              │
//	 phase 1: slot range       │  Claim ─► Process ─► persist │
//	 phase 2+: failure stream  │    │                    │    │
//	                           │    └──── Release ◄──────┘    │
//	                           └──────────────────────────────┘
//
// Outcomes map onto the store like this: an Artifact goes to
// results/, an analyzer failure appends to the next phase's stream,
// a budget outcome (rate_limited, quota_exhausted) parks in the
// deferred queue, and claim contention or an existing artifact is a
// silent skip. Unexpected filesystem errors release the lock and move
// on; three in a row abort the instance, because at that point the
// store itself is the problem.
//
// Between items the instance honors the resource monitor's throttle
// and the machine's stop flag. In-flight items always finish; a
// parent context cancellation mid-item releases the lock without
// recording an outcome so the next run retries the item.
//
// Every instance heartbeats its InstanceStatus file every few
// seconds. The status and monitor commands aggregate those files
// across hosts, which is the only fleet view this system has.
package worker
