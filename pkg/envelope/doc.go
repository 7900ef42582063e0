// Package envelope parses the message.eml file of a work item into the
// header fields and plain-text body the pipeline phases consume.
//
// # Overview
//
// Work items arrive as directories holding an RFC 5322 envelope plus
// the attachments already extracted to separate files. This package
// only deals with the envelope: From, To, Subject, Date, and a
// best-effort text body. Attachment files are handled by the store and
// the OCR client.
//
// # Body Selection
//
// The body walker prefers parts in this order:
//
//	1. The first non-empty text/plain part, at any nesting depth.
//	2. The first text/html part, with tags stripped.
//	3. An empty string when the message carries no text.
//
// Multipart structures are walked recursively, so a text part inside
// multipart/mixed > multipart/alternative is still found. Transfer
// encodings (quoted-printable, base64) are decoded before charset
// conversion.
//
// # Charsets
//
// Czech mail archives mix UTF-8 with windows-1250 and ISO-8859-2.
// Both header encoded-words and body parts are converted to UTF-8 via
// golang.org/x/text/encoding. Unknown charsets fail soft: the raw
// bytes pass through so downstream keyword rules still see the ASCII
// portion of the text.
//
// # Usage
//
//	env, err := envelope.ParseFile(filepath.Join(item.Dir, "message.eml"))
//	if err != nil {
//		return err
//	}
//	fmt.Println(env.Subject, env.From)
//
// Parsing is tolerant: missing dates, malformed content-type
// declarations, and truncated multiparts degrade to partial envelopes
// instead of errors. Only an unreadable header block fails.
//
// # See Also
//
//   - pkg/types: the Envelope struct definition.
//   - pkg/classify: consumes the parsed envelope for rule matching.
//   - pkg/store: locates message.eml inside the item directory.
package envelope
