package phase3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mailsift/mailsift/pkg/types"
)

// ErrTimeout marks an external call that ran past its deadline.
var ErrTimeout = errors.New("phase3: completion deadline exceeded")

// ErrBadAnswer marks a 200 response the client could not make sense
// of. Not a transport problem, so it earns no retry.
var ErrBadAnswer = errors.New("phase3: malformed completion response")

// StatusError is a non-200 answer from the external endpoint. The
// status code decides whether the item is retried, deferred or failed.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("external model returned %d: %s", e.Code, e.Body)
}

// Usage is the token accounting the endpoint reports per call.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Client calls an OpenAI-style chat-completions endpoint.
type Client struct {
	// URL is the full completions endpoint.
	URL string

	// Token is the bearer token.
	Token string

	// Model is the model name sent with every request.
	Model string

	// MaxTokens caps the answer length.
	MaxTokens int

	// Temperature is the sampling temperature.
	Temperature float64

	// Timeout bounds one call.
	Timeout time.Duration

	// HTTPClient is the underlying HTTP client.
	HTTPClient *http.Client
}

// NewClient creates an external-model client.
func NewClient(url, token, model string) *Client {
	return &Client{
		URL:         url,
		Token:       token,
		Model:       model,
		MaxTokens:   2000,
		Temperature: 0.1,
		Timeout:     120 * time.Second,
		HTTPClient:  &http.Client{},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete sends one system+user exchange and returns the answer text
// with the reported token usage.
func (c *Client) Complete(ctx context.Context, system, user string) (string, Usage, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:      c.MaxTokens,
		Temperature:    c.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if timedOut(err) {
			return "", Usage{}, ErrTimeout
		}
		return "", Usage{}, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", Usage{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", Usage{}, fmt.Errorf("%w: %v", ErrBadAnswer, err)
	}
	if len(out.Choices) == 0 {
		return "", out.Usage, fmt.Errorf("%w: no choices", ErrBadAnswer)
	}
	return out.Choices[0].Message.Content, out.Usage, nil
}

// userContentLimit caps the body text sent to the external model.
const userContentLimit = 5000

// systemPrompt instructs the external model to answer the full field
// schema as bare JSON. It allows a wider kind enumeration than the
// local tiers because the external model is the last automated resort.
const systemPrompt = `Jsi expert na analýzu a klasifikaci dokumentů. Analyzuj email a extrahuj strukturované informace.

Odpověz POUZE validním JSON objektem s těmito poli:
{
  "doc_typ": "invoice|order|contract|marketing|correspondence|receipt|bank_statement|delivery_note|tax_document|other",
  "protistrana_nazev": "název firmy/odesílatele nebo null",
  "protistrana_ico": "IČO (8 číslic) nebo null",
  "protistrana_typ": "firma|osvc|fo|null",
  "castka_celkem": číslo nebo null,
  "datum_dokumentu": "YYYY-MM-DD nebo null",
  "cislo_dokumentu": "číslo dokumentu nebo null",
  "mena": "CZK|EUR|USD|null",
  "stav_platby": "zaplaceno|nezaplaceno|castecne|neznamy",
  "datum_splatnosti": "YYYY-MM-DD nebo null",
  "kategorie": "energie|telekomunikace|nakupy|cestovani|smlouvy|korespondence|reklama|finance|pojisteni|jine",
  "od_osoba": "jméno odesílatele nebo null",
  "od_osoba_role": "role/pozice nebo null",
  "od_firma": "firma odesílatele nebo null",
  "pro_osoba": "jméno příjemce nebo null",
  "pro_osoba_role": "role příjemce nebo null",
  "pro_firma": "firma příjemce nebo null",
  "predmet": "stručný popis o čem dokument je",
  "ai_summary": "souhrn max 100 slov",
  "ai_keywords": "klíčová slova oddělená čárkou",
  "ai_popis": "podrobnější popis obsahu",
  "typ_sluzby": "typ služby nebo null",
  "nazev_sluzby": "název služby nebo null",
  "predmet_typ": "typ předmětu nebo null",
  "predmet_nazev": "název předmětu nebo null",
  "polozky_text": "položky jako text nebo null",
  "perioda": "období dokumentu nebo null"
}

DŮLEŽITÉ:
- Odpověz POUZE JSON, žádný markdown, žádné vysvětlení
- Všechna pole musí být přítomna (použij null pokud nelze určit)
- Pro české dokumenty používej české hodnoty`

// userContent renders the per-item message in the same envelope shape
// the local tiers use.
func userContent(env *types.Envelope) string {
	date := ""
	if !env.Date.IsZero() {
		date = env.Date.Format("2006-01-02")
	}
	body := env.Body
	if strings.TrimSpace(body) == "" {
		body = fmt.Sprintf("Předmět: %s. Od: %s", env.Subject, env.From)
	}
	if runes := []rune(body); len(runes) > userContentLimit {
		body = string(runes[:userContentLimit])
	}
	return fmt.Sprintf("EMAIL:\nOd: %s\nKomu: %s\nPředmět: %s\nDatum: %s\n\nOBSAH:\n%s",
		env.From, env.To, env.Subject, date, body)
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
