// Package budget enforces the external model's per-day token and cost
// ceilings with a small persistent ledger. Callers check Allow before
// spending and commit with Spend after, so the ceiling holds across
// crashes and restarts.
package budget
