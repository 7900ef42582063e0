package framework

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// Verdict builds the JSON answer the model tiers and the external
// endpoint are expected to return for a classified document.
func Verdict(kind, counterparty, amount string) string {
	v := map[string]string{
		"doc_typ":           kind,
		"protistrana_nazev": counterparty,
	}
	if amount != "" {
		v["castka_celkem"] = amount
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// OCRStub is a fake extraction engine: POST /v1/extract answers with
// scripted text per uploaded filename, GET /healthz answers 200 for
// the collaborator probes.
type OCRStub struct {
	srv   *httptest.Server
	mu    sync.Mutex
	texts map[string]string
	calls int
}

// NewOCRStub starts the stub and closes it with the test.
func NewOCRStub(t *testing.T) *OCRStub {
	t.Helper()
	s := &OCRStub{texts: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/extract", s.handleExtract)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the stub's base URL.
func (s *OCRStub) URL() string { return s.srv.URL }

// Text scripts the recognized text for one uploaded filename.
func (s *OCRStub) Text(filename, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[filename] = text
}

// Calls returns how many extractions the stub served.
func (s *OCRStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *OCRStub) handleExtract(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls++
	text, ok := s.texts[header.Filename]
	s.mu.Unlock()
	if !ok {
		text = "Naskenovaný dokument bez dalšího obsahu."
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"text":  text,
		"pages": 1,
	})
}

// inferenceRule maps a prompt substring to a scripted answer.
type inferenceRule struct {
	contains string
	answer   string
}

// InferenceStub is a fake local-inference server: POST /api/generate
// answers by matching scripted substrings against the prompt, so the
// outcome depends on the item and not on model call order. All three
// tiers of a pipeline usually point at the same stub.
type InferenceStub struct {
	srv      *httptest.Server
	mu       sync.Mutex
	rules    []inferenceRule
	fallback string
	calls    map[string]int
}

// NewInferenceStub starts the stub and closes it with the test.
func NewInferenceStub(t *testing.T) *InferenceStub {
	t.Helper()
	s := &InferenceStub{calls: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/generate", s.handleGenerate)
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"version": "0.0.0-test"})
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"models": []map[string]string{{"name": "small"}, {"name": "medium"}, {"name": "large"}},
		})
	})
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the stub's base URL.
func (s *InferenceStub) URL() string { return s.srv.URL }

// Answer scripts the reply for prompts containing the substring.
// Rules are tried in registration order.
func (s *InferenceStub) Answer(contains, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, inferenceRule{contains: contains, answer: answer})
}

// AnswerDefault scripts the reply for prompts no rule matches. The
// zero default is an empty answer, which no tier can parse.
func (s *InferenceStub) AnswerDefault(answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = answer
}

// Calls returns how many generations the named model served.
func (s *InferenceStub) Calls(model string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[model]
}

func (s *InferenceStub) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.calls[req.Model]++
	answer := s.fallback
	for _, rule := range s.rules {
		if strings.Contains(req.Prompt, rule.contains) {
			answer = rule.answer
			break
		}
	}
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]string{"response": answer})
}

// ExternalStub is a fake chat-completions endpoint for the metered
// phase. It matches scripted substrings against the user message and
// reports fixed token usage so budget accounting is exercised.
type ExternalStub struct {
	srv      *httptest.Server
	mu       sync.Mutex
	rules    []inferenceRule
	fallback string
	calls    int
	auth     string
}

// NewExternalStub starts the stub and closes it with the test.
func NewExternalStub(t *testing.T) *ExternalStub {
	t.Helper()
	s := &ExternalStub{}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handleComplete))
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the stub's base URL.
func (s *ExternalStub) URL() string { return s.srv.URL }

// Answer scripts the reply for user messages containing the substring.
func (s *ExternalStub) Answer(contains, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, inferenceRule{contains: contains, answer: answer})
}

// AnswerDefault scripts the reply for user messages no rule matches.
func (s *ExternalStub) AnswerDefault(answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = answer
}

// Calls returns how many completions the stub served.
func (s *ExternalStub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Auth returns the Authorization header of the last completion.
func (s *ExternalStub) Auth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

func (s *ExternalStub) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var user string
	for _, m := range req.Messages {
		if m.Role == "user" {
			user = m.Content
		}
	}

	s.mu.Lock()
	s.calls++
	s.auth = r.Header.Get("Authorization")
	answer := s.fallback
	for _, rule := range s.rules {
		if strings.Contains(user, rule.contains) {
			answer = rule.answer
			break
		}
	}
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": answer}},
		},
		"usage": map[string]int{
			"prompt_tokens":     500,
			"completion_tokens": 100,
			"total_tokens":      600,
		},
	})
}

// UploadForm is the decoded multipart body of one document upload.
type UploadForm struct {
	Title         string
	Filename      string
	Size          int
	Correspondent string
	DocumentType  string
	Tags          []string
}

// DocumentStub is an in-memory document management service covering
// the endpoints the delivery pass and the correspondent tooling
// touch: named resources are get-or-create, uploads register the blob
// checksum, and custom-field patches are counted per document.
type DocumentStub struct {
	srv       *httptest.Server
	mu        sync.Mutex
	nextID    int
	named     map[string]map[string]int
	checksums map[string]int
	uploads   []UploadForm
	patches   map[int]int
	auth      string
}

// NewDocumentStub starts the stub and closes it with the test.
func NewDocumentStub(t *testing.T) *DocumentStub {
	t.Helper()
	s := &DocumentStub{
		nextID: 100,
		named: map[string]map[string]int{
			"correspondents": {},
			"tags":           {},
			"document_types": {},
			"custom_fields":  {},
		},
		checksums: make(map[string]int),
		patches:   make(map[int]int),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/post_document/", s.handleUpload)
	mux.HandleFunc("/api/documents/", s.handleDocuments)
	for _, coll := range []string{"correspondents", "tags", "document_types", "custom_fields"} {
		coll := coll
		mux.HandleFunc("/api/"+coll+"/", func(w http.ResponseWriter, r *http.Request) {
			s.handleNamed(w, r, coll)
		})
	}
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the stub's base URL.
func (s *DocumentStub) URL() string { return s.srv.URL }

// Uploads returns the decoded forms of every upload served so far.
func (s *DocumentStub) Uploads() []UploadForm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UploadForm, len(s.uploads))
	copy(out, s.uploads)
	return out
}

// PatchCount returns how many custom-field patches landed in total.
func (s *DocumentStub) PatchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.patches {
		n += c
	}
	return n
}

// Names returns the created names of one collection, e.g.
// "correspondents" or "document_types".
func (s *DocumentStub) Names(coll string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.named[coll] {
		out = append(out, name)
	}
	return out
}

// Auth returns the Authorization header of the last request.
func (s *DocumentStub) Auth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

func (s *DocumentStub) handleNamed(w http.ResponseWriter, r *http.Request, coll string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = r.Header.Get("Authorization")

	switch r.Method {
	case http.MethodGet:
		name := r.URL.Query().Get("name__iexact")
		exact := false
		if name == "" {
			name = r.URL.Query().Get("name")
			exact = true
		}
		var results []map[string]interface{}
		for n, id := range s.named[coll] {
			match := strings.EqualFold(n, name)
			if exact {
				match = n == name
			}
			if match {
				results = append(results, map[string]interface{}{"id": id, "name": n})
			}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":   len(results),
			"results": results,
		})
	case http.MethodPost:
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		name, _ := body["name"].(string)
		s.nextID++
		s.named[coll][name] = s.nextID
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": s.nextID, "name": name})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *DocumentStub) handleDocuments(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = r.Header.Get("Authorization")

	if r.Method == http.MethodPatch {
		idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
		id, _ := strconv.Atoi(idStr)
		s.patches[id]++
		json.NewEncoder(w).Encode(map[string]int{"id": id})
		return
	}

	sum := r.URL.Query().Get("checksum")
	var results []map[string]interface{}
	if id, ok := s.checksums[sum]; ok && sum != "" {
		results = append(results, map[string]interface{}{"id": id})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func (s *DocumentStub) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = r.Header.Get("Authorization")

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, _ := io.ReadAll(file)
	file.Close()

	s.uploads = append(s.uploads, UploadForm{
		Title:         r.FormValue("title"),
		Filename:      header.Filename,
		Size:          len(data),
		Correspondent: r.FormValue("correspondent"),
		DocumentType:  r.FormValue("document_type"),
		Tags:          r.MultipartForm.Value["tags"],
	})

	sum := md5.Sum(data)
	s.nextID++
	s.checksums[hex.EncodeToString(sum[:])] = s.nextID
	json.NewEncoder(w).Encode(map[string]int{"id": s.nextID})
}
