package envelope

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mailsift/mailsift/pkg/types"
)

// maxBodyBytes caps how much body text is read from one message part.
// Classification and extraction never need more.
const maxBodyBytes = 256 * 1024

// wordDecoder decodes RFC 2047 encoded-words in headers, including the
// Czech legacy charsets.
var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// ParseFile parses the envelope file of a work item.
func ParseFile(path string) (*types.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open envelope %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads an RFC 5322 message and returns its header fields and the
// best-effort plain-text body. Multipart messages prefer text/plain;
// text/html is the fallback, with tags stripped.
func Parse(r io.Reader) (*types.Envelope, error) {
	msg, err := mail.ReadMessage(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	env := &types.Envelope{
		From:    decodeHeader(msg.Header.Get("From")),
		To:      decodeHeader(msg.Header.Get("To")),
		Subject: decodeHeader(msg.Header.Get("Subject")),
	}
	if date, err := msg.Header.Date(); err == nil {
		env.Date = date
	} else {
		env.Date = time.Time{}
	}

	body, err := extractBody(msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body)
	if err != nil {
		return nil, err
	}
	env.Body = strings.TrimSpace(body)
	return env, nil
}

func decodeHeader(raw string) string {
	decoded, err := wordDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// extractBody walks the MIME structure. Returns the first text/plain
// part; falls back to stripped text/html; empty string when the message
// carries no text at all.
func extractBody(contentType, transferEncoding string, body io.Reader) (string, error) {
	if contentType == "" {
		return readTextPart(body, transferEncoding, "")
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Malformed declarations are common in old archives; read as-is.
		return readTextPart(body, transferEncoding, "")
	}

	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		return extractMultipart(body, params["boundary"])
	case mediaType == "text/html":
		text, err := readTextPart(body, transferEncoding, params["charset"])
		if err != nil {
			return "", err
		}
		return stripHTML(text), nil
	case strings.HasPrefix(mediaType, "text/"):
		return readTextPart(body, transferEncoding, params["charset"])
	default:
		return "", nil
	}
}

func extractMultipart(body io.Reader, boundary string) (string, error) {
	if boundary == "" {
		return "", nil
	}
	mr := multipart.NewReader(body, boundary)

	var htmlFallback string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Truncated archives end mid-part; keep what we have.
			break
		}

		ct := part.Header.Get("Content-Type")
		te := part.Header.Get("Content-Transfer-Encoding")
		mediaType, params, perr := mime.ParseMediaType(ct)
		if perr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			if nested, err := extractMultipart(part, params["boundary"]); err == nil && nested != "" {
				return nested, nil
			}
		case mediaType == "text/plain":
			text, err := readTextPart(part, te, params["charset"])
			if err == nil && text != "" {
				return text, nil
			}
		case mediaType == "text/html" && htmlFallback == "":
			if text, err := readTextPart(part, te, params["charset"]); err == nil {
				htmlFallback = stripHTML(text)
			}
		}
	}
	return htmlFallback, nil
}

func readTextPart(r io.Reader, transferEncoding, charset string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	case "base64":
		r = newBase64Reader(r)
	}

	if charset != "" {
		decoded, err := charsetReader(charset, r)
		if err == nil {
			r = decoded
		}
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBodyBytes))
	if err != nil {
		// Decoder errors on trailing garbage are tolerated; partial
		// text is still useful for classification.
		if len(data) == 0 {
			return "", fmt.Errorf("failed to read message part: %w", err)
		}
	}
	return string(data), nil
}

var (
	htmlTagRe    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]*>`)
	htmlSpaceRe  = regexp.MustCompile(`[ \t]+`)
	htmlBlanksRe = regexp.MustCompile(`\n{3,}`)
)

// stripHTML reduces an HTML body to visible text. It is deliberately
// crude: the result feeds keyword rules, not rendering.
func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&#39;", "'").Replace(s)
	s = htmlSpaceRe.ReplaceAllString(s, " ")
	s = htmlBlanksRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
