package types

import (
	"time"
)

// PhaseCount is the number of analytical phases that produce Artifacts.
// Phase 5 (delivery) consumes them and never writes its own.
const PhaseCount = 4

// WorkItem is the atomic unit of processing: one email with its
// attachments, discovered under the store's input tree. ItemID is the
// item directory's base name and is therefore identical on every host.
// Slot is the item's position in the sorted global enumeration and is
// the basis for range partitioning.
type WorkItem struct {
	ItemID       string   `json:"item_id"`
	Slot         int      `json:"slot"`
	Dir          string   `json:"-"`
	EnvelopePath string   `json:"-"`
	Attachments  []string `json:"-"`
}

// Envelope holds the parsed email header and body text.
type Envelope struct {
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
}

// Artifact is the per-item success record. Exactly one Artifact exists
// per item across all phases; it is published via write-temp-then-rename
// by the lock holder, and later phases skip items that already have one.
type Artifact struct {
	ItemID          string            `json:"item_id"`
	Phase           int               `json:"phase"`
	DocKind         DocumentKind      `json:"doc_kind"`
	Fields          map[string]string `json:"fields"`
	RawTextSHA256   string            `json:"raw_text_sha256"`
	ContentMD5      string            `json:"content_md5"`
	Confidence      float64           `json:"confidence"`
	EscalationTrace []DocumentKind    `json:"escalation_trace,omitempty"`
}

// FailureRecord is one line of a phase's append-only failure stream and
// the input for the next phase. Records are serialized below 4 KiB so a
// single O_APPEND write stays atomic on the shared filesystem.
type FailureRecord struct {
	ItemID          string        `json:"item_id"`
	Phase           int           `json:"phase"`
	Reason          FailureReason `json:"reason"`
	LastTextSnippet string        `json:"last_text_snippet"`
}

// FailureReason classifies why an item left a phase without an Artifact.
type FailureReason string

const (
	// Silent skips, never appended to a failure stream.
	ReasonClaimContention FailureReason = "claim_contention"
	ReasonAlreadyDone     FailureReason = "already_done"

	// Phase 1 analyzer failures.
	ReasonOCRInsufficient FailureReason = "ocr_insufficient"
	ReasonOCRTimeout      FailureReason = "ocr_timeout"
	ReasonOCRError        FailureReason = "ocr_error"
	ReasonUnclassified    FailureReason = "unclassified"

	// Phase 2/3 analyzer failures.
	ReasonModelTimeout      FailureReason = "model_timeout"
	ReasonModelUnparseable  FailureReason = "model_unparseable"
	ReasonModelDisagreement FailureReason = "model_disagreement_unresolved"

	// External-model budget outcomes; items are deferred, not failed.
	ReasonRateLimited    FailureReason = "rate_limited"
	ReasonQuotaExhausted FailureReason = "quota_exhausted"

	// Phase 5 delivery outcomes. Only the fatal one surfaces as a
	// FailureRecord; transient is retried and conflict is success.
	ReasonDeliveryConflict  FailureReason = "delivery_conflict"
	ReasonDeliveryTransient FailureReason = "delivery_transient"
	ReasonDeliveryFatal     FailureReason = "delivery_fatal"

	// Unexpected filesystem error; three in a row abort the instance.
	ReasonFSError FailureReason = "fs_error"

	// Manual review declined to classify the item.
	ReasonReviewRejected FailureReason = "review_rejected"
)

// Correspondent is the downstream service's sender entity.
type Correspondent struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	DocumentCount int    `json:"document_count"`
}

// InstanceStatus is the heartbeat record a worker instance rewrites
// under status/ every few seconds. The status and stop commands and the
// monitor aggregate these files.
type InstanceStatus struct {
	InstanceID  string    `json:"instance_id"`
	MachineTag  string    `json:"machine_tag"`
	Phase       int       `json:"phase"`
	PID         int       `json:"pid"`
	RangeStart  int       `json:"range_start"`
	RangeEnd    int       `json:"range_end"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	Deferred    int       `json:"deferred"`
	Skipped     int       `json:"skipped"`
	CurrentItem string    `json:"current_item,omitempty"`
	Throttled   bool      `json:"throttled"`
	Running     bool      `json:"running"`
	StartedAt   time.Time `json:"started_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Verdict is a single model's answer during hierarchical inference. The
// ordered verdicts of all consulted models form the escalation trace.
type Verdict struct {
	Model      string            `json:"model"`
	Kind       DocumentKind      `json:"doc_kind"`
	Fields     map[string]string `json:"fields,omitempty"`
	Confidence float64           `json:"confidence"`
	Err        string            `json:"error,omitempty"`
}

// ReviewDecision is a human classifier's answer for one reviewed item.
type ReviewDecision struct {
	ItemID    string            `json:"item_id"`
	Kind      DocumentKind      `json:"doc_kind"`
	Fields    map[string]string `json:"fields,omitempty"`
	Reject    bool              `json:"reject,omitempty"`
	Reviewer  string            `json:"reviewer,omitempty"`
	DecidedAt time.Time         `json:"decided_at"`
}
