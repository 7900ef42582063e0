// Package phase3 escalates unresolved items to an external model.
//
// The local tiers are free; this one is not. Every call clears the
// daily token and cost gate in pkg/budget first, and the spend is
// committed from the usage the endpoint reports, so parallel instances
// sharing the ledger stay under one ceiling. A circuit breaker sits in
// front of the endpoint: a few consecutive transport failures and the
// remaining queue defers for a later run instead of timing out item by
// item.
//
// Failure routing follows who is at fault. Budget exhaustion and 429s
// are the operator's problem, so the item defers. A timeout or an
// undecodable answer is the model's problem, so the item moves to the
// manual-review stream. A 4xx rejection is a configuration problem and
// stops the instance.
package phase3
