package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrTimeout marks a model call that ran past its deadline. Callers use
// it to tell a slow model apart from a broken one.
var ErrTimeout = errors.New("inference: model response deadline exceeded")

// Client talks to one Ollama-compatible inference server.
type Client struct {
	// BaseURL is the server root, e.g. "http://192.168.10.20:11434".
	BaseURL string

	// Model is the model name passed on every generate call.
	Model string

	// Timeout bounds a single generate call.
	Timeout time.Duration

	// Temperature is the sampling temperature. Near-zero keeps the
	// structured answers deterministic.
	Temperature float64

	// HTTPClient is the underlying HTTP client.
	HTTPClient *http.Client
}

// NewClient creates a client for one model on one server.
func NewClient(baseURL, model string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Model:       model,
		Timeout:     60 * time.Second,
		Temperature: 0.1,
		HTTPClient:  &http.Client{},
	}
}

// WithTimeout sets the per-call deadline.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.Timeout = d
	return c
}

// WithTemperature sets the sampling temperature.
func (c *Client) WithTemperature(t float64) *Client {
	c.Temperature = t
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.HTTPClient = h
	return c
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate sends one prompt and returns the model's raw text answer.
// The request asks for JSON output, but the answer is returned verbatim
// because models still wrap it in prose or fences; see ParseVerdict.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(generateRequest{
		Model:   c.Model,
		Prompt:  prompt,
		Stream:  false,
		Format:  "json",
		Options: generateOptions{Temperature: c.Temperature},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if timedOut(err) {
			return "", fmt.Errorf("model %s: %w", c.Model, ErrTimeout)
		}
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("inference server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if timedOut(err) {
			return "", fmt.Errorf("model %s: %w", c.Model, ErrTimeout)
		}
		return "", fmt.Errorf("failed to decode generate response: %w", err)
	}
	return out.Response, nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Models lists the model names the server has pulled.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create tags request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tags request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference server returned %d", resp.StatusCode)
	}

	var out tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode tags response: %w", err)
	}

	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Server describes one reachable inference server found by Discover.
type Server struct {
	Host    string   `json:"host"`
	URL     string   `json:"url"`
	Version string   `json:"version"`
	Models  []string `json:"models"`
}

// HasModel reports whether the server carries the named model. Matching
// is loose in both directions so "qwen2.5:32b" finds "qwen2.5:32b-q4".
func (s Server) HasModel(model string) bool {
	for _, m := range s.Models {
		if strings.Contains(m, model) || strings.Contains(model, m) {
			return true
		}
	}
	return false
}

type versionResponse struct {
	Version string `json:"version"`
}

// Discover probes the given hosts in parallel and returns the reachable
// inference servers with their model lists. Hosts may be bare names
// ("localhost", "192.168.10.20:11434") or full URLs. Localhost sorts
// first, then servers with more models.
func Discover(ctx context.Context, hosts []string, timeout time.Duration) []Server {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	var (
		mu    sync.Mutex
		found []Server
		wg    sync.WaitGroup
	)
	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			if srv, ok := probe(ctx, host, timeout); ok {
				mu.Lock()
				found = append(found, srv)
				mu.Unlock()
			}
		}(host)
	}
	wg.Wait()

	sort.SliceStable(found, func(i, j int) bool {
		li, lj := isLocal(found[i].Host), isLocal(found[j].Host)
		if li != lj {
			return li
		}
		return len(found[i].Models) > len(found[j].Models)
	})
	return found
}

func probe(ctx context.Context, host string, timeout time.Duration) (Server, bool) {
	url := hostURL(host)
	probeClient := &Client{
		BaseURL:    url,
		HTTPClient: &http.Client{Timeout: timeout},
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	models, err := probeClient.Models(ctx)
	if err != nil {
		return Server{}, false
	}

	srv := Server{
		Host:    host,
		URL:     url,
		Version: "unknown",
		Models:  models,
	}
	if req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/version", nil); err == nil {
		if resp, err := probeClient.HTTPClient.Do(req); err == nil {
			var v versionResponse
			if json.NewDecoder(resp.Body).Decode(&v) == nil && v.Version != "" {
				srv.Version = v.Version
			}
			resp.Body.Close()
		}
	}
	return srv, true
}

// hostURL normalizes a discovery host entry into a base URL. Bare hosts
// get the default Ollama port.
func hostURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	if !strings.Contains(host, ":") {
		host += ":11434"
	}
	return "http://" + host
}

func isLocal(host string) bool {
	return strings.Contains(host, "localhost") || strings.Contains(host, "127.0.0.1")
}

func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
