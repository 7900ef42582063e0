// Package extract pulls the 31-field contract map out of raw document
// text with label-anchored regular expressions tuned for Czech
// business documents (IČO, DIČ, variabilní symbol, Czech number and
// date formats) with English and German fallbacks. Everything here is
// a heuristic: later phases overwrite what a model extracts with
// higher confidence, so a miss is cheap and a wrong guess is
// recoverable.
package extract
