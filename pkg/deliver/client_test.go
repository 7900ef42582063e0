package deliver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/types"
)

func TestGetOrCreateCorrespondentCreatesOnce(t *testing.T) {
	fake := newFakePaperless()
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	id, err := client.GetOrCreateCorrespondent(context.Background(), "Alza.cz")
	require.NoError(t, err)
	assert.Equal(t, fake.namedID("correspondents", "Alza.cz"), id)
	assert.Equal(t, "Token token-1", fake.auth)

	// Second resolve hits the client cache, not the service.
	again, err := client.GetOrCreateCorrespondent(context.Background(), "Alza.cz")
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, fake.getCount("correspondents"))
}

func TestGetOrCreateCorrespondentFindsCaseInsensitive(t *testing.T) {
	fake := newFakePaperless()
	fake.named["correspondents"]["ALZA.CZ"] = 7
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	id, err := client.GetOrCreateCorrespondent(context.Background(), "alza.cz")
	require.NoError(t, err)
	assert.Equal(t, 7, id)
	assert.Len(t, fake.named["correspondents"], 1)
}

func TestGetOrCreateCorrespondentTruncatesLongNames(t *testing.T) {
	fake := newFakePaperless()
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	long := strings.Repeat("ř", 200)
	_, err := client.GetOrCreateCorrespondent(context.Background(), long)
	require.NoError(t, err)
	assert.NotZero(t, fake.namedID("correspondents", strings.Repeat("ř", 128)))
}

func TestGetOrCreateEmptyNameIsNoop(t *testing.T) {
	fake := newFakePaperless()
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	id, err := client.GetOrCreateTag(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Equal(t, 0, fake.getCount("tags"))
}

func TestEnsureCustomFieldsCreatesMissing(t *testing.T) {
	fake := newFakePaperless()
	fake.named["custom_fields"][types.FieldDocTyp] = 3
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	ids, err := client.EnsureCustomFields(context.Background())
	require.NoError(t, err)

	assert.Len(t, ids, len(types.FieldNames))
	assert.Equal(t, 3, ids[types.FieldDocTyp])
	for _, name := range types.FieldNames {
		assert.NotZero(t, ids[name], name)
	}
	assert.Equal(t, "float", fake.fieldTypes[types.FieldCastkaCelkem])
	assert.Equal(t, "date", fake.fieldTypes[types.FieldDatumDokumentu])
	assert.Equal(t, "string", fake.fieldTypes[types.FieldMena])
}

func TestFindDocumentByChecksum(t *testing.T) {
	fake := newFakePaperless()
	fake.seedChecksum("abc123", 42)
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	id, found, err := client.FindDocumentByChecksum(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, id)

	_, found, err = client.FindDocumentByChecksum(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUploadDocumentMultipart(t *testing.T) {
	fake := newFakePaperless()
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	ref, err := client.UploadDocument(context.Background(), Upload{
		Title:         "Faktura 2024-001",
		Filename:      "invoice.pdf",
		Blob:          []byte("%PDF-1.4 fake"),
		Correspondent: 5,
		DocumentType:  9,
		Tags:          []int{2, 4},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ref)

	require.Equal(t, 1, fake.uploadCount())
	form := fake.upload(0)
	assert.Equal(t, "Faktura 2024-001", form.title)
	assert.Equal(t, "invoice.pdf", form.filename)
	assert.Equal(t, len("%PDF-1.4 fake"), form.size)
	assert.Equal(t, "5", form.correspondent)
	assert.Equal(t, "9", form.documentType)
	assert.Equal(t, []string{"2", "4"}, form.tags)
}

func TestUploadDocumentConflict(t *testing.T) {
	fake := newFakePaperless()
	fake.script(uploadReply{status: http.StatusConflict, body: "duplicate"})
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	_, err := client.UploadDocument(context.Background(), Upload{
		Title: "x", Filename: "x.pdf", Blob: []byte("x"),
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUploadDocumentServerError(t *testing.T) {
	fake := newFakePaperless()
	fake.script(uploadReply{status: http.StatusBadGateway, body: "upstream down"})
	srv := fake.server(t)
	client := NewClient(srv.URL, "token-1")

	_, err := client.UploadDocument(context.Background(), Upload{
		Title: "x", Filename: "x.pdf", Blob: []byte("x"),
	})
	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.True(t, status.Transient())
	assert.Contains(t, status.Error(), "upstream down")
}

func TestTaskReference(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"document id", `{"id": 17}`, "17"},
		{"alternate id key", `{"document_id": 23}`, "23"},
		{"task id", `{"task_id": "c0ffee"}`, "c0ffee"},
		{"bare string", `"f3a1-task"`, "f3a1-task"},
		{"plain text", "queued\n", "queued"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, taskReference([]byte(tc.body)))
		})
	}
}

func TestCorrespondentsFollowsPagination(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		require.Equal(t, "5000", r.URL.Query().Get("page_size"))
		switch r.URL.Query().Get("page") {
		case "1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"count": 3,
				"next":  "http://example/api/correspondents/?page=2",
				"results": []types.Correspondent{
					{ID: 1, Name: "Alza.cz", DocumentCount: 40},
					{ID: 2, Name: "ALZA.CZ a.s.", DocumentCount: 2},
				},
			})
		default:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"count": 3,
				"results": []types.Correspondent{
					{ID: 3, Name: "Datart", DocumentCount: 11},
				},
			})
		}
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "token-1")
	all, err := client.Correspondents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.Len(t, all, 3)
	assert.Equal(t, "Datart", all[2].Name)
}

func TestDocumentsByCorrespondentFollowsPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "7", r.URL.Query().Get("correspondent__id"))
		if r.URL.Query().Get("page") == "1" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"next":    "more",
				"results": []map[string]int{{"id": 10}, {"id": 11}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]int{{"id": 12}},
		})
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "token-1")
	ids, err := client.DocumentsByCorrespondent(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11, 12}, ids)
}

func TestCorrespondentMutations(t *testing.T) {
	type call struct {
		method, path, body string
	}
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		calls = append(calls, call{r.Method, r.URL.Path, string(data)})
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprint(w, "{}")
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "token-1")
	ctx := context.Background()

	require.NoError(t, client.AssignDocumentCorrespondent(ctx, 10, 7))
	require.NoError(t, client.RenameCorrespondent(ctx, 7, "Alza.cz"))
	require.NoError(t, client.DeleteCorrespondent(ctx, 8))

	require.Len(t, calls, 3)
	assert.Equal(t, call{"PATCH", "/api/documents/10/", `{"correspondent":7}`}, calls[0])
	assert.Equal(t, call{"PATCH", "/api/correspondents/7/", `{"name":"Alza.cz"}`}, calls[1])
	assert.Equal(t, "DELETE", calls[2].method)
	assert.Equal(t, "/api/correspondents/8/", calls[2].path)
}

func TestStatusErrorNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such endpoint", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "token-1")
	err := client.Ping(context.Background())
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusNotFound, status.Code)
	assert.False(t, status.Transient())
}
