// Package deliver pushes finished artifacts into a paperless-style
// document service and keeps the pass idempotent end to end.
//
// Three layers guard against double delivery: a local bbolt receipt
// ledger keyed by content hash, the service's own checksum lookup for
// content delivered by other hosts, and 409-on-upload treated as
// success. Correspondents, tags, document types and custom-field
// definitions are all get-or-create, so reruns converge instead of
// multiplying.
//
// Correspondent names pass through pkg/normalize before lookup, which
// is what keeps "ALZA.CZ a.s." and "Alza.cz" from becoming two
// correspondents in the first place. The structured fields land as
// typed custom-field values in a single patch per document.
package deliver
