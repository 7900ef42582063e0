/*
Package types defines the core data structures shared by every stage of
the extraction pipeline.

This package contains the domain model: work items, artifacts, failure
records, document kinds, the 31-field contract, correspondents, and
instance status. All other packages depend on it; it depends on nothing
but the standard library.

# Core Types

Pipeline units:
  - WorkItem: one email plus attachments, with its partitioning slot
  - Envelope: parsed sender/recipients/subject/date/body
  - Artifact: the per-item, per-phase success record
  - FailureRecord: one line of a phase's append-only failure stream
  - Verdict: a single model's answer during hierarchical inference
  - ReviewDecision: a human classifier's answer in phase 4

Classification:
  - DocumentKind: closed typed-string set (invoice, receipt, ...)
  - FailureReason: closed typed-string set (ocr_timeout, fs_error, ...)

Delivery:
  - Correspondent: downstream sender entity with document count
  - FieldNames / FieldTypes: the fixed 31-field contract

Operations:
  - InstanceStatus: worker heartbeat written to the shared store

# The Field Contract

Every Artifact carries all 31 named fields. The names double as the
downstream service's custom-field names; values travel as canonical
strings (dates YYYY-MM-DD, amounts as decimal strings) and delivery
converts them using FieldTypes when patching. EmptyFields() yields a
map with all keys present so consumers never branch on missing keys.

# Usage

Building an Artifact:

	fields := types.EmptyFields()
	fields[types.FieldDocTyp] = string(types.KindInvoice)
	fields[types.FieldCisloDokumentu] = "2024-001"

	artifact := &types.Artifact{
		ItemID:        item.ItemID,
		Phase:         1,
		DocKind:       types.KindInvoice,
		Fields:        fields,
		RawTextSHA256: textHash,
		ContentMD5:    contentHash,
		Confidence:    0.95,
	}

Appending a failure:

	rec := &types.FailureRecord{
		ItemID: item.ItemID,
		Phase:  1,
		Reason: types.ReasonOCRInsufficient,
	}

# Design Patterns

Enumeration Pattern:

	All enums use typed string constants:
	  type DocumentKind string
	  const (
	      KindInvoice DocumentKind = "invoice"
	      KindReceipt DocumentKind = "receipt"
	  )

Closed Set:

	DocumentKind.Valid() rejects anything outside the declared set;
	unknown documents are the explicit KindUnknown variant, which
	bypasses structured emission rather than being a nil case.

Accounting Gate:

	DocumentKind.Accounting() reports whether the structured-document
	emitter runs for the kind (invoice, receipt, tax_document,
	bank_statement).

# Serialization

All pipeline types carry snake_case JSON tags because their encoded
form is the on-disk contract of the shared work store: artifacts are
one JSON document per file, failure records are one JSON object per
line. Changing a tag is a wire-format change.

# See Also

  - pkg/store for how these types are persisted and claimed
  - pkg/classify for how DocumentKind is assigned
  - pkg/deliver for how the field contract reaches the downstream API
*/
package types
