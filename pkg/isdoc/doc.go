// Package isdoc emits ISDOC-shaped XML (the Czech national e-invoice
// format, namespace http://isdoc.cz/namespace/2013) for accounting
// documents. The emitter renders what phase processing extracted,
// assuming the standard 21% VAT rate when a document does not itemize
// tax, and derives a stable UUID from the document identity so
// repeated emission is byte-identical. Schema validation is the
// consumer's concern.
package isdoc
