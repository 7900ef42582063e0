// Package health probes the external collaborators a phase run depends
// on: the OCR engine, the local inference tiers and the external model
// endpoint.
//
// Probes feed the same component registry that serves /health, so an
// operator watching a machine's ops port sees a dead inference server
// within a sweep or two instead of diagnosing a stream of item
// failures. Verdicts carry hysteresis: a collaborator is marked down
// only after consecutive failures, and recovers on the first success.
package health
