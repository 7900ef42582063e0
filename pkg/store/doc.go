/*
Package store implements the shared work store: the filesystem tree
through which every worker on every host coordinates, and the claim
protocol that guarantees at-most-one processing per item without a
broker, queue, or coordinator process.

# Architecture

	┌───────────────────── SHARED WORK STORE ─────────────────────┐
	│  <root>/                                                     │
	│  ├── input/<item_id>/          message.eml + attachments     │
	│  ├── results/phase{1..4}/      <item_id>.json artifacts      │
	│  ├── failed/phase{1..4}.jsonl  append-only failure streams   │
	│  ├── locks/phase{1..4}/        exclusive-create claim files  │
	│  ├── xml/<item_id>.xml         structured payloads           │
	│  ├── markers/phaseN.done       stream-consumed markers       │
	│  ├── status/<instance>.json    worker heartbeats             │
	│  ├── control/stop.<tag>        cooperative stop flags        │
	│  ├── deferred/phase3.jsonl     budget-deferred queue         │
	│  ├── budget/budget.db          external-model day ledger     │
	│  └── delivered/delivery.db     delivery idempotency ledger   │
	└──────────────────────────────────────────────────────────────┘

Three primitives carry all of the concurrency:

  - Locks are created with O_CREATE|O_EXCL only. Exclusive create is
    the minimum primitive that guarantees at-most-one processing on a
    shared filesystem.
  - Artifacts are published with write-temp-then-rename, so a reader
    never sees a partial result and an item is "done" atomically.
  - Failure streams are appended with a single O_APPEND write per
    record, bounded at 4 KiB, which stays atomic with interleaved
    writers on different hosts.

# Claim Protocol

Claim(phase, item) succeeds iff no Artifact exists for the item in any
phase and the exclusive create of locks/phaseP/item succeeds. A lock
whose mtime is older than the stale TTL (default 10 minutes) is deleted
and the create re-attempted exactly once, so a crashed worker's item is
reclaimed after the TTL. On completion the worker writes its Artifact
(or appends a FailureRecord) and then removes its own lock.

	err := st.Claim(1, item.ItemID)
	switch {
	case errors.Is(err, store.ErrAlreadyDone):
		// silent skip
	case errors.Is(err, store.ErrContended):
		// silent skip
	case err != nil:
		// filesystem error
	default:
		defer st.Release(1, item.ItemID)
		// ... process, then WriteArtifact or AppendFailure
	}

# Failure Streams

failed/phaseN.jsonl holds the failures produced by phase N and is
phase N+1's input. Records decode in arrival order. AppendFailure
truncates the text snippet until the serialized line fits the 4 KiB
bound, refusing over-long records rather than splitting a write.

# Content Hash

ContentMD5 is the pipeline's one definition of a document's content
hash: MD5 of the first attachment blob, or of the envelope file when
the item has no attachments. Phase 1 stamps it into the Artifact and
delivery dedups on it, so the basis cannot drift between phases.

# See Also

  - pkg/worker for the claim loop that drives these operations
  - pkg/deliver for how ListArtifacts feeds delivery
*/
package store
