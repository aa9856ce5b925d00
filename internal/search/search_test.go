package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/auth_service/internal/es"
	"github.com/Skotchmaster/auth_service/internal/logging"
)

type fakeES struct {
	mu   sync.Mutex
	docs map[string]Document
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/":
		_, _ = io.WriteString(w, `{"version":{"number":"9.0.0"},"tagline":"You Know, for Search"}`)
	case len(parts) == 3 && parts[1] == "_doc" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var doc Document
		_ = json.NewDecoder(r.Body).Decode(&doc)
		f.docs[parts[2]] = doc
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodDelete:
		if _, ok := f.docs[parts[2]]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"result":"not_found"}`)
			return
		}
		delete(f.docs, parts[2])
		_, _ = io.WriteString(w, `{"result":"deleted"}`)
	case len(parts) == 2 && parts[1] == "_search":
		var q struct {
			Query struct {
				MultiMatch struct {
					Query string `json:"query"`
				} `json:"multi_match"`
			} `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&q)
		var hits []map[string]any
		for id, doc := range f.docs {
			if strings.Contains(doc.Username, q.Query.MultiMatch.Query) {
				hits = append(hits, map[string]any{"_id": id})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{
				"total": map[string]any{"value": len(hits)},
				"hits":  hits,
			},
		})
	default:
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":"unexpected request"}`)
	}
}

func (f *fakeES) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func newTestIndex(t *testing.T) (*Index, *fakeES) {
	t.Helper()
	fake := &fakeES{docs: map[string]Document{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := es.NewClient(context.Background(), es.Config{URL: srv.URL}, logging.Discard())
	require.NoError(t, err)
	return NewIndex(client, "accounts"), fake
}

func TestIndex_UpsertSearchDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx, fake := newTestIndex(t)

	require.NoError(t, idx.Upsert(ctx, Document{ID: "a1", Username: "alice", Email: "alice@example.com", Roles: []string{"user"}}))
	require.NoError(t, idx.Upsert(ctx, Document{ID: "b2", Username: "bob", Email: "bob@example.com"}))
	assert.Equal(t, 2, fake.count())

	total, ids, err := idx.Search(ctx, "ali", 0, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, []string{"a1"}, ids)

	require.NoError(t, idx.Delete(ctx, "a1"))
	require.NoError(t, idx.Delete(ctx, "a1"), "missing doc is not an error")

	total, ids, err = idx.Search(ctx, "ali", 0, 10)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, ids)
}

func TestIndex_ErrorResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.URL.Path == "/" {
			_, _ = io.WriteString(w, `{}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"boom"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := es.NewClient(context.Background(), es.Config{URL: srv.URL}, logging.Discard())
	require.NoError(t, err)
	idx := NewIndex(client, "")

	_, _, err = idx.Search(context.Background(), "x", 0, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
