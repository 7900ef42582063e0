package merge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsift/mailsift/pkg/deliver"
	"github.com/mailsift/mailsift/pkg/types"
)

// fakeRegistry is an in-memory correspondent registry backing the
// endpoints a merge pass touches.
type fakeRegistry struct {
	mu             sync.Mutex
	correspondents map[int]*types.Correspondent
	docs           map[int]int // document ID -> correspondent ID
	deleted        []int
	failAssign     map[int]bool // document IDs whose move fails
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		correspondents: make(map[int]*types.Correspondent),
		docs:           make(map[int]int),
		failAssign:     make(map[int]bool),
	}
}

func (f *fakeRegistry) add(c types.Correspondent, docIDs ...int) {
	f.correspondents[c.ID] = &c
	for _, id := range docIDs {
		f.docs[id] = c.ID
	}
}

func (f *fakeRegistry) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/correspondents/", f.handleCorrespondents)
	mux.HandleFunc("/api/documents/", f.handleDocuments)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeRegistry) handleCorrespondents(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/correspondents/"), "/")
	if rest == "" {
		var list []types.Correspondent
		for _, c := range f.correspondents {
			list = append(list, *c)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":   len(list),
			"results": list,
		})
		return
	}

	id, _ := strconv.Atoi(rest)
	switch r.Method {
	case http.MethodPatch:
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if c, ok := f.correspondents[id]; ok {
			c.Name = body.Name
		}
		json.NewEncoder(w).Encode(map[string]int{"id": id})
	case http.MethodDelete:
		delete(f.correspondents, id)
		f.deleted = append(f.deleted, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeRegistry) handleDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/documents/"), "/")
	if rest == "" {
		corrID, _ := strconv.Atoi(r.URL.Query().Get("correspondent__id"))
		var results []map[string]int
		var ids []int
		for docID, owner := range f.docs {
			if owner == corrID {
				ids = append(ids, docID)
			}
		}
		sort.Ints(ids)
		for _, id := range ids {
			results = append(results, map[string]int{"id": id})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"count":   len(results),
			"results": results,
		})
		return
	}

	docID, _ := strconv.Atoi(rest)
	if f.failAssign[docID] {
		http.Error(w, "backend error", http.StatusInternalServerError)
		return
	}
	var body struct {
		Correspondent int `json:"correspondent"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.docs[docID] = body.Correspondent
	json.NewEncoder(w).Encode(map[string]int{"id": docID})
}

func (f *fakeRegistry) owner(docID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[docID]
}

func (f *fakeRegistry) name(corrID int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.correspondents[corrID]; ok {
		return c.Name
	}
	return ""
}

func newTestMerger(t *testing.T, fake *fakeRegistry) *Merger {
	t.Helper()
	srv := fake.server(t)
	return New(deliver.NewClient(srv.URL, "token-1"))
}

func TestPlanGroupsDuplicates(t *testing.T) {
	fake := newFakeRegistry()
	fake.add(types.Correspondent{ID: 1, Name: "Aukro", DocumentCount: 50})
	fake.add(types.Correspondent{ID: 2, Name: "aukro.cz", DocumentCount: 30})
	fake.add(types.Correspondent{ID: 3, Name: "AUKRO s.r.o.", DocumentCount: 14})
	fake.add(types.Correspondent{ID: 4, Name: "Datart", DocumentCount: 5})
	m := newTestMerger(t, fake)

	groups, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, "aukro", g.Key)
	assert.Equal(t, "Aukro", g.TargetName)
	assert.Equal(t, 1, g.Primary.ID)
	require.Len(t, g.Duplicates, 2)
	assert.Equal(t, 2, g.Duplicates[0].ID)
	assert.Equal(t, 3, g.Duplicates[1].ID)
	assert.Equal(t, 94, g.Documents())
}

func TestPlanPrimaryTiebreakOnID(t *testing.T) {
	fake := newFakeRegistry()
	fake.add(types.Correspondent{ID: 9, Name: "Ubiquiti", DocumentCount: 7})
	fake.add(types.Correspondent{ID: 4, Name: "ubiquiti.com", DocumentCount: 7})
	m := newTestMerger(t, fake)

	groups, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 4, groups[0].Primary.ID)
}

func TestPlanTargetPrefersCuratedMapping(t *testing.T) {
	fake := newFakeRegistry()
	fake.add(types.Correspondent{ID: 1, Name: "ALZA.CZ a.s.", DocumentCount: 10})
	fake.add(types.Correspondent{ID: 2, Name: "alza", DocumentCount: 3})
	m := newTestMerger(t, fake)

	groups, err := m.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "Alza.cz", groups[0].TargetName)
	assert.Equal(t, 1, groups[0].Primary.ID)
}

func TestExecuteMergesGroup(t *testing.T) {
	fake := newFakeRegistry()
	fake.add(types.Correspondent{ID: 1, Name: "Aukro", DocumentCount: 50}, 101, 102)
	fake.add(types.Correspondent{ID: 2, Name: "aukro.cz", DocumentCount: 30}, 201, 202, 203)
	fake.add(types.Correspondent{ID: 3, Name: "AUKRO s.r.o.", DocumentCount: 14}, 301, 302)
	m := newTestMerger(t, fake)

	groups, err := m.Plan(context.Background())
	require.NoError(t, err)
	report, err := m.Execute(context.Background(), groups)
	require.NoError(t, err)

	assert.Equal(t, &Report{Groups: 1, Merged: 2, DocumentsMoved: 5}, report)
	for _, docID := range []int{201, 202, 203, 301, 302} {
		assert.Equal(t, 1, fake.owner(docID), "document %d", docID)
	}
	assert.ElementsMatch(t, []int{2, 3}, fake.deleted)
	// Primary already carried the target name.
	assert.Equal(t, "Aukro", fake.name(1))
}

func TestExecuteRenamesPrimary(t *testing.T) {
	fake := newFakeRegistry()
	fake.add(types.Correspondent{ID: 1, Name: "ALZA.CZ a.s.", DocumentCount: 10})
	fake.add(types.Correspondent{ID: 2, Name: "alza", DocumentCount: 3}, 201)
	m := newTestMerger(t, fake)

	groups, err := m.Plan(context.Background())
	require.NoError(t, err)
	report, err := m.Execute(context.Background(), groups)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Renamed)
	assert.Equal(t, "Alza.cz", fake.name(1))
}

func TestExecuteKeepsDuplicateOnMoveFailure(t *testing.T) {
	fake := newFakeRegistry()
	fake.add(types.Correspondent{ID: 1, Name: "Aukro", DocumentCount: 50})
	fake.add(types.Correspondent{ID: 2, Name: "aukro.cz", DocumentCount: 30}, 201, 202)
	fake.failAssign[202] = true
	m := newTestMerger(t, fake)

	groups, err := m.Plan(context.Background())
	require.NoError(t, err)
	report, err := m.Execute(context.Background(), groups)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 0, report.Merged)
	assert.Equal(t, 1, report.DocumentsMoved)
	// The half-moved duplicate survives for the next run.
	assert.Empty(t, fake.deleted)
	assert.Equal(t, "aukro.cz", fake.name(2))
}

func TestExecuteStopsOnCanceledContext(t *testing.T) {
	fake := newFakeRegistry()
	fake.add(types.Correspondent{ID: 1, Name: "Aukro", DocumentCount: 5})
	fake.add(types.Correspondent{ID: 2, Name: "aukro.cz", DocumentCount: 1}, 201)
	m := newTestMerger(t, fake)

	groups, err := m.Plan(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Execute(ctx, groups)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fake.deleted)
}
