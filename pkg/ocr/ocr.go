package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrTimeout marks an extraction that exceeded the per-call deadline.
// Callers classify it separately from other engine errors.
var ErrTimeout = errors.New("ocr: extraction timed out")

// Result is one extraction response.
type Result struct {
	Text  string `json:"text"`
	Pages int    `json:"pages"`
}

// Client talks to the external OCR/layout engine over HTTP. The
// engine exposes POST /v1/extract taking a multipart document upload
// and returning the recognized text as JSON.
type Client struct {
	// BaseURL is the engine root, e.g. "http://ocr-host:5050".
	BaseURL string

	// Timeout bounds one extraction call end to end.
	Timeout time.Duration

	// MaxPages caps how many pages the engine renders per document.
	// Zero means the engine default.
	MaxPages int

	// HTTPClient allows custom transport configuration.
	HTTPClient *http.Client
}

// NewClient creates an OCR client with default timeouts.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Timeout:    120 * time.Second,
		MaxPages:   20,
		HTTPClient: &http.Client{},
	}
}

// WithTimeout sets the per-call deadline.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.Timeout = d
	return c
}

// WithMaxPages sets the per-document page budget.
func (c *Client) WithMaxPages(n int) *Client {
	c.MaxPages = n
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.HTTPClient = client
	return c
}

// ExtractFile uploads the file at path and returns the recognized
// text. A deadline overrun surfaces as ErrTimeout so phase workers
// can record ocr_timeout instead of ocr_error.
func (c *Client) ExtractFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return c.Extract(ctx, filepath.Base(path), f)
}

// Extract uploads one document blob and returns the recognized text.
func (c *Client) Extract(ctx context.Context, name string, r io.Reader) (*Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if c.MaxPages > 0 {
		if err := mw.WriteField("max_pages", strconv.Itoa(c.MaxPages)); err != nil {
			return nil, fmt.Errorf("failed to build upload: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/extract", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if timedOut(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("ocr request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode ocr response: %w", err)
	}
	return &result, nil
}

// Healthy probes the engine's health endpoint.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
