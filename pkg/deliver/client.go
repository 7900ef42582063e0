package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mailsift/mailsift/pkg/types"
)

// ErrDuplicate is a 409 on upload: the service already holds the
// document, which for an idempotent pipeline is success.
var ErrDuplicate = errors.New("deliver: document already exists")

// StatusError is a non-2xx answer from the document service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("document service returned %d: %s", e.Code, e.Body)
}

// Transient reports whether the error is a 5xx worth retrying.
func (e *StatusError) Transient() bool { return e.Code >= 500 }

// Client talks to a paperless-style document service. All calls pass
// one shared rate limiter so parallel item deliveries stay inside the
// target's comfort zone. Lookup results for correspondents, tags,
// document types and field definitions are cached per client.
type Client struct {
	// BaseURL is the service root, without /api.
	BaseURL string

	// Token authenticates every request.
	Token string

	// HTTPClient is the underlying HTTP client.
	HTTPClient *http.Client

	limiter *rate.Limiter

	mu             sync.Mutex
	correspondents map[string]int
	tags           map[string]int
	docTypes       map[string]int
	fieldIDs       map[string]int
}

// NewClient creates a document-service client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		Token:          token,
		HTTPClient:     &http.Client{Timeout: 60 * time.Second},
		limiter:        rate.NewLimiter(rate.Inf, 0),
		correspondents: make(map[string]int),
		tags:           make(map[string]int),
		docTypes:       make(map[string]int),
		fieldIDs:       make(map[string]int),
	}
}

// WithRateLimit caps the request rate. Zero or negative perSecond
// leaves the client unlimited.
func (c *Client) WithRateLimit(perSecond float64, burst int) *Client {
	if perSecond > 0 {
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.HTTPClient = h
	return c
}

type namedResource struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type namedPage struct {
	Count   int             `json:"count"`
	Next    string          `json:"next"`
	Results []namedResource `json:"results"`
}

type correspondentPage struct {
	Count   int                   `json:"count"`
	Next    string                `json:"next"`
	Results []types.Correspondent `json:"results"`
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.BaseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request for %s: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Token "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// Ping verifies connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	params := url.Values{"page_size": {"1"}}
	var page namedPage
	return c.do(ctx, http.MethodGet, "/api/documents/", params, nil, &page)
}

// FindDocumentByChecksum looks up an existing document by content
// hash. The zero return with ok false means no document carries it.
func (c *Client) FindDocumentByChecksum(ctx context.Context, md5sum string) (int, bool, error) {
	params := url.Values{"checksum": {md5sum}}
	var page namedPage
	if err := c.do(ctx, http.MethodGet, "/api/documents/", params, nil, &page); err != nil {
		return 0, false, err
	}
	if len(page.Results) == 0 {
		return 0, false, nil
	}
	return page.Results[0].ID, true, nil
}

// getOrCreate resolves a named resource to its ID, creating it when
// the lookup comes back empty. The cache makes repeats free.
func (c *Client) getOrCreate(ctx context.Context, path, name string, cache map[string]int, body map[string]interface{}) (int, error) {
	c.mu.Lock()
	if id, ok := cache[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	params := url.Values{"name__iexact": {name}}
	var page namedPage
	if err := c.do(ctx, http.MethodGet, path, params, nil, &page); err != nil {
		return 0, err
	}

	var id int
	if len(page.Results) > 0 {
		id = page.Results[0].ID
	} else {
		var created namedResource
		if err := c.do(ctx, http.MethodPost, path, nil, body, &created); err != nil {
			return 0, err
		}
		id = created.ID
	}

	c.mu.Lock()
	cache[name] = id
	c.mu.Unlock()
	return id, nil
}

// GetOrCreateCorrespondent resolves a correspondent by display name.
// Names are capped at the service's 128-char limit.
func (c *Client) GetOrCreateCorrespondent(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	if runes := []rune(name); len(runes) > 128 {
		name = string(runes[:128])
	}
	return c.getOrCreate(ctx, "/api/correspondents/", name, c.correspondents,
		map[string]interface{}{"name": name})
}

// GetOrCreateTag resolves a tag by name.
func (c *Client) GetOrCreateTag(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	return c.getOrCreate(ctx, "/api/tags/", name, c.tags,
		map[string]interface{}{"name": name})
}

// GetOrCreateDocumentType resolves a document type by name.
func (c *Client) GetOrCreateDocumentType(ctx context.Context, name string) (int, error) {
	if name == "" {
		return 0, nil
	}
	return c.getOrCreate(ctx, "/api/document_types/", name, c.docTypes,
		map[string]interface{}{"name": name})
}

// EnsureCustomFields makes sure every contract field exists on the
// service and returns the name-to-ID table. The custom-field endpoint
// matches on exact name, not iexact.
func (c *Client) EnsureCustomFields(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(types.FieldNames))
	for _, name := range types.FieldNames {
		c.mu.Lock()
		id, ok := c.fieldIDs[name]
		c.mu.Unlock()
		if ok {
			out[name] = id
			continue
		}

		params := url.Values{"name": {name}}
		var page namedPage
		if err := c.do(ctx, http.MethodGet, "/api/custom_fields/", params, nil, &page); err != nil {
			return nil, err
		}
		for _, res := range page.Results {
			if res.Name == name {
				id = res.ID
			}
		}
		if id == 0 {
			var created namedResource
			body := map[string]interface{}{"name": name, "data_type": types.FieldTypes[name]}
			if err := c.do(ctx, http.MethodPost, "/api/custom_fields/", nil, body, &created); err != nil {
				return nil, err
			}
			id = created.ID
		}

		c.mu.Lock()
		c.fieldIDs[name] = id
		c.mu.Unlock()
		out[name] = id
	}
	return out, nil
}

// Upload is one document blob with its classification references.
type Upload struct {
	Title         string
	Filename      string
	Blob          []byte
	Correspondent int
	DocumentType  int
	Tags          []int
}

// UploadDocument posts the blob. The service answers asynchronously
// with a task reference; 409 means the content already exists and maps
// to ErrDuplicate.
func (c *Client) UploadDocument(ctx context.Context, up Upload) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("document", up.Filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(up.Blob); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	title := up.Title
	if runes := []rune(title); len(runes) > 128 {
		title = string(runes[:128])
	}
	w.WriteField("title", title)
	if up.Correspondent > 0 {
		w.WriteField("correspondent", strconv.Itoa(up.Correspondent))
	}
	if up.DocumentType > 0 {
		w.WriteField("document_type", strconv.Itoa(up.DocumentType))
	}
	for _, tag := range up.Tags {
		w.WriteField("tags", strconv.Itoa(tag))
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/documents/post_document/", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.Token)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return "", ErrDuplicate
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}
	return taskReference(data), nil
}

// taskReference digs the document or task identifier out of the
// upload answer, which is either a JSON object or a bare string.
func taskReference(data []byte) string {
	var obj struct {
		ID         int    `json:"id"`
		DocumentID int    `json:"document_id"`
		Task       string `json:"task_id"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj.ID > 0 {
			return strconv.Itoa(obj.ID)
		}
		if obj.DocumentID > 0 {
			return strconv.Itoa(obj.DocumentID)
		}
		if obj.Task != "" {
			return obj.Task
		}
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(data))
}

// FieldValue is one custom-field assignment on a document.
type FieldValue struct {
	Field int         `json:"field"`
	Value interface{} `json:"value"`
}

// SetCustomFields patches a document's custom-field set.
func (c *Client) SetCustomFields(ctx context.Context, docID int, values []FieldValue) error {
	if len(values) == 0 {
		return nil
	}
	path := fmt.Sprintf("/api/documents/%d/", docID)
	return c.do(ctx, http.MethodPatch, path, nil, map[string]interface{}{"custom_fields": values}, nil)
}

// Correspondents fetches the full correspondent list, following
// pagination.
func (c *Client) Correspondents(ctx context.Context) ([]types.Correspondent, error) {
	var out []types.Correspondent
	page := 1
	for {
		params := url.Values{
			"page_size": {"5000"},
			"page":      {strconv.Itoa(page)},
		}
		var resp correspondentPage
		if err := c.do(ctx, http.MethodGet, "/api/correspondents/", params, nil, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Results...)
		if resp.Next == "" {
			return out, nil
		}
		page++
	}
}

// DocumentsByCorrespondent lists the IDs of every document assigned to
// a correspondent, following pagination.
func (c *Client) DocumentsByCorrespondent(ctx context.Context, correspondentID int) ([]int, error) {
	var out []int
	page := 1
	for {
		params := url.Values{
			"correspondent__id": {strconv.Itoa(correspondentID)},
			"page":              {strconv.Itoa(page)},
			"page_size":         {"100"},
		}
		var resp namedPage
		if err := c.do(ctx, http.MethodGet, "/api/documents/", params, nil, &resp); err != nil {
			return nil, err
		}
		for _, res := range resp.Results {
			out = append(out, res.ID)
		}
		if resp.Next == "" {
			return out, nil
		}
		page++
	}
}

// AssignDocumentCorrespondent repoints one document.
func (c *Client) AssignDocumentCorrespondent(ctx context.Context, docID, correspondentID int) error {
	path := fmt.Sprintf("/api/documents/%d/", docID)
	return c.do(ctx, http.MethodPatch, path, nil, map[string]interface{}{"correspondent": correspondentID}, nil)
}

// RenameCorrespondent changes a correspondent's display name.
func (c *Client) RenameCorrespondent(ctx context.Context, id int, name string) error {
	path := fmt.Sprintf("/api/correspondents/%d/", id)
	return c.do(ctx, http.MethodPatch, path, nil, map[string]interface{}{"name": name}, nil)
}

// DeleteCorrespondent removes a correspondent. Callers only do this
// after its documents were reassigned.
func (c *Client) DeleteCorrespondent(ctx context.Context, id int) error {
	path := fmt.Sprintf("/api/correspondents/%d/", id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}
