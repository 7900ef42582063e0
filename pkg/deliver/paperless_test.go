package deliver

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

// uploadForm is the decoded multipart body of one post_document call.
type uploadForm struct {
	title         string
	filename      string
	size          int
	correspondent string
	documentType  string
	tags          []string
}

// uploadReply scripts one upload answer ahead of the default behavior.
type uploadReply struct {
	status int
	body   string
}

// fakePaperless is an in-memory document service covering the
// endpoints the delivery pass touches. Named resources are
// get-or-create the way the real service behaves, uploads register the
// blob checksum, and patches are recorded per document.
type fakePaperless struct {
	mu         sync.Mutex
	nextID     int
	named      map[string]map[string]int
	fieldTypes map[string]string
	checksums  map[string]int
	uploads    []uploadForm
	patches    map[int][][]FieldValue
	replies    []uploadReply
	conflictID int
	gets       map[string]int
	auth       string
}

func newFakePaperless() *fakePaperless {
	return &fakePaperless{
		nextID: 100,
		named: map[string]map[string]int{
			"correspondents": {},
			"tags":           {},
			"document_types": {},
			"custom_fields":  {},
		},
		fieldTypes: make(map[string]string),
		checksums:  make(map[string]int),
		patches:    make(map[int][][]FieldValue),
		gets:       make(map[string]int),
	}
}

func (f *fakePaperless) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/documents/post_document/", f.handleUpload)
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	for _, coll := range []string{"correspondents", "tags", "document_types", "custom_fields"} {
		coll := coll
		mux.HandleFunc("/api/"+coll+"/", func(w http.ResponseWriter, r *http.Request) {
			f.handleNamed(w, r, coll)
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakePaperless) handleNamed(w http.ResponseWriter, r *http.Request, coll string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")

	switch r.Method {
	case http.MethodGet:
		f.gets[coll]++
		name := r.URL.Query().Get("name__iexact")
		exact := false
		if name == "" {
			name = r.URL.Query().Get("name")
			exact = true
		}
		var results []map[string]interface{}
		for n, id := range f.named[coll] {
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
		f.nextID++
		f.named[coll][name] = f.nextID
		if dt, ok := body["data_type"].(string); ok {
			f.fieldTypes[name] = dt
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": f.nextID, "name": name})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakePaperless) handleDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")

	if r.Method == http.MethodPatch {
		idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
		id, _ := strconv.Atoi(idStr)
		var body struct {
			CustomFields []FieldValue `json:"custom_fields"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.patches[id] = append(f.patches[id], body.CustomFields)
		json.NewEncoder(w).Encode(map[string]int{"id": id})
		return
	}

	f.gets["documents"]++
	sum := r.URL.Query().Get("checksum")
	var results []map[string]interface{}
	if id, ok := f.checksums[sum]; ok && sum != "" {
		results = append(results, map[string]interface{}{"id": id})
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

func (f *fakePaperless) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")

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

	f.uploads = append(f.uploads, uploadForm{
		title:         r.FormValue("title"),
		filename:      header.Filename,
		size:          len(data),
		correspondent: r.FormValue("correspondent"),
		documentType:  r.FormValue("document_type"),
		tags:          r.MultipartForm.Value["tags"],
	})

	sum := md5.Sum(data)
	checksum := hex.EncodeToString(sum[:])

	if len(f.replies) > 0 {
		rep := f.replies[0]
		f.replies = f.replies[1:]
		if rep.status == http.StatusConflict && f.conflictID > 0 {
			// The duplicate means someone else already holds the
			// content, so the next checksum probe must find it.
			f.checksums[checksum] = f.conflictID
		}
		w.WriteHeader(rep.status)
		io.WriteString(w, rep.body)
		return
	}

	f.nextID++
	f.checksums[checksum] = f.nextID
	json.NewEncoder(w).Encode(map[string]int{"id": f.nextID})
}

func (f *fakePaperless) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

func (f *fakePaperless) upload(i int) uploadForm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[i]
}

func (f *fakePaperless) namedID(coll, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.named[coll][name]
}

func (f *fakePaperless) patchesFor(docID int) [][]FieldValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches[docID]
}

func (f *fakePaperless) getCount(coll string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets[coll]
}

func (f *fakePaperless) seedChecksum(sum string, docID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checksums[sum] = docID
}

func (f *fakePaperless) script(replies ...uploadReply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}
