// Package review is the manual last resort of the pipeline. Items that
// survived three automated phases unresolved wait here for a human to
// either name their kind, optionally correcting fields, or reject them
// for good. Either answer is final: a classification publishes a
// phase-4 Artifact at confidence 1.0 and a rejection lands in the
// phase-4 failure stream, so reruns leave decided items alone.
package review
