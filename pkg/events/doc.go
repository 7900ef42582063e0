/*
Package events provides the in-memory event bus connecting the
pipeline's moving parts on one host.

Workers publish item outcomes, the resource monitor publishes throttle
transitions, and the launcher publishes instance lifecycle and drained
phases. Metrics and the live monitor view subscribe. The bus is
deliberately host-local: cross-host coordination happens only through
the shared work store, never through messaging.

	Publishers                         Subscribers
	──────────                         ───────────
	worker    ─ item.processed ──┐
	          ─ item.failed     ─┤
	          ─ item.deferred   ─┼─▶ Broker ──▶ metrics
	monitor   ─ throttle.*      ─┤              monitor view
	launcher  ─ instance.*      ─┤
	          ─ phase.drained   ─┘

Publish never blocks: the broker buffers 100 events and each
subscriber channel buffers 50. A subscriber that stops draining loses
events; the pipeline's correctness never depends on event delivery,
only its visibility does.
*/
package events
