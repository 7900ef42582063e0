package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/types"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/generate", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5:7b", req["model"])
		assert.Equal(t, false, req["stream"])
		assert.Equal(t, "json", req["format"])
		assert.Contains(t, req["prompt"], "Analyzuj")

		opts, ok := req["options"].(map[string]interface{})
		require.True(t, ok)
		assert.InDelta(t, 0.1, opts["temperature"], 0.001)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"response":"{\"doc_typ\":\"invoice\"}"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "qwen2.5:7b")
	out, err := c.Generate(context.Background(), "Analyzuj tento email")
	require.NoError(t, err)
	assert.Equal(t, `{"doc_typ":"invoice"}`, out)
}

func TestGenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "slow").WithTimeout(20 * time.Millisecond)
	_, err := c.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
}

func TestGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "missing")
	_, err := c.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"},{"name":"qwen2.5:32b"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	models, err := c.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"qwen2.5:7b", "qwen2.5:32b"}, models)
}

func TestDiscover(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5:14b"}]}`))
		case "/api/version":
			w.Write([]byte(`{"version":"0.5.4"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	hosts := []string{srv.URL, "127.0.0.1:1"}
	servers := Discover(context.Background(), hosts, 500*time.Millisecond)
	require.Len(t, servers, 1)
	assert.Equal(t, srv.URL, servers[0].URL)
	assert.Equal(t, "0.5.4", servers[0].Version)
	assert.Equal(t, []string{"qwen2.5:14b"}, servers[0].Models)
	assert.True(t, servers[0].HasModel("qwen2.5:14b"))
	assert.False(t, servers[0].HasModel("llama3:70b"))
}

func TestClassifyPrompt(t *testing.T) {
	env := &types.Envelope{
		From:    "fakturace@example.cz",
		To:      "me@example.cz",
		Subject: "Faktura 2024-001",
		Date:    time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Body:    "Dobrý den, v příloze zasíláme fakturu.",
	}

	prompt := ClassifyPrompt(env, nil)
	assert.Contains(t, prompt, "Od: fakturace@example.cz")
	assert.Contains(t, prompt, "Předmět: Faktura 2024-001")
	assert.Contains(t, prompt, "Datum: 2024-01-15")
	assert.Contains(t, prompt, "zasíláme fakturu")
	assert.Contains(t, prompt, `"doc_typ": "invoice|`)
	assert.Contains(t, prompt, "|other\"")
	assert.NotContains(t, prompt, "system_notification")
}

func TestClassifyPromptCapsBody(t *testing.T) {
	env := &types.Envelope{Body: strings.Repeat("ů", promptBodyLimit+500)}
	prompt := ClassifyPrompt(env, []types.DocumentKind{types.KindInvoice})

	start := strings.Index(prompt, "OBSAH:\n") + len("OBSAH:\n")
	end := strings.Index(prompt, "\n\nOdpověz")
	require.Greater(t, end, start)

	// The cap counts runes, so multi-byte text must not be torn apart.
	assert.Equal(t, promptBodyLimit, len([]rune(prompt[start:end])))
}

func TestParseVerdict(t *testing.T) {
	raw := `{"doc_typ":"invoice","protistrana_nazev":"ČEZ Prodej","castka_celkem":1210.5,"protistrana_ico":null,"mena":"CZK"}`
	v, err := ParseVerdict("qwen2.5:7b", raw)
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5:7b", v.Model)
	assert.Equal(t, types.KindInvoice, v.Kind)
	assert.Equal(t, "ČEZ Prodej", v.Fields[types.FieldProtistranaNazev])
	assert.Equal(t, "1210.5", v.Fields[types.FieldCastkaCelkem])
	assert.Equal(t, "CZK", v.Fields[types.FieldMena])
	_, present := v.Fields[types.FieldProtistranaICO]
	assert.False(t, present)
}

func TestParseVerdictFenced(t *testing.T) {
	raw := "Zde je výsledek:\n```json\n{\"doc_typ\": \"receipt\", \"mena\": \"CZK\"}\n```"
	v, err := ParseVerdict("m", raw)
	require.NoError(t, err)
	assert.Equal(t, types.KindReceipt, v.Kind)
	assert.Equal(t, "CZK", v.Fields[types.FieldMena])
}

func TestParseVerdictOtherIsUnknown(t *testing.T) {
	for _, val := range []string{"other", "jine", "Ostatní"} {
		v, err := ParseVerdict("m", `{"doc_typ":"`+val+`"}`)
		require.NoError(t, err, val)
		assert.Equal(t, types.KindUnknown, v.Kind, val)
	}
}

func TestParseVerdictRejectsGarbage(t *testing.T) {
	_, err := ParseVerdict("m", "model je přetížen, zkuste to později")
	require.Error(t, err)

	_, err = ParseVerdict("m", `{"doc_typ":"spaceship"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spaceship")

	_, err = ParseVerdict("m", `{"mena":"CZK"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doc_typ")
}

func TestParseVerdictDropsUnknownKeys(t *testing.T) {
	v, err := ParseVerdict("m", `{"doc_typ":"order","reasoning":"looks like an order"}`)
	require.NoError(t, err)
	_, present := v.Fields["reasoning"]
	assert.False(t, present)
}
