/*
Package phase2 escalates unclassified items through the local model
tiers.

The state machine asks the small model first, confirms with the medium
one, and only pays for the large tier on disagreement or failure:

	SMALL ──valid──▶ MEDIUM ──same kind──▶ DONE (small's fields)
	  │                │
	  │ timeout/         │ disagree/timeout
	  │ unparseable      ▼
	  └─────────────▶ LARGE ──valid──▶ DONE (large's fields)
	                    │
	                    └─ timeout/unparseable ──▶ FAILED

Every consulted model leaves a verdict in the escalation trace. A
verdict of "other" is valid but forces a deterministic fallback kind so
nothing reaches delivery unclassified. Terminal failures feed the
phase-3 stream with a reason that distinguishes slow models, garbage
output and unresolved disagreement.
*/
package phase2
