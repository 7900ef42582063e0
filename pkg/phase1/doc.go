/*
Package phase1 is the rule-based analysis pass.

Per item the processor parses the envelope, OCRs attachments through a
bounded pool, classifies the combined text against the keyword rule
table, extracts the contract fields with regex heuristics and renders
the structured XML payload for accounting kinds. Items whose text is
too short, whose OCR fails or whose kind stays unknown are appended to
the phase-2 failure stream for model escalation.

Notification traffic is recognized from the sender and subject alone
and short-circuits the whole pass, so storage alerts and monitoring
mail never occupy an OCR or model slot.
*/
package phase1
