package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository implements Repository in memory for testing.
type mockRepository struct {
	records   map[string]*Record
	createErr error
	getErr    error
}

func newMockRepository() *mockRepository {
	return &mockRepository{records: make(map[string]*Record)}
}

func tripleKey(key, method, path string) string {
	return key + "|" + method + "|" + path
}

func (m *mockRepository) Get(_ context.Context, key, method, path string) (*Record, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	record, ok := m.records[tripleKey(key, method, path)]
	if !ok {
		return nil, ErrNotFound
	}
	return record, nil
}

func (m *mockRepository) Create(_ context.Context, record *Record) error {
	if m.createErr != nil {
		return m.createErr
	}
	triple := tripleKey(record.Key, record.Method, record.Path)
	if _, ok := m.records[triple]; ok {
		return ErrDuplicate
	}
	m.records[triple] = record
	return nil
}

func newTestServer(repo Repository, calls *int) http.Handler {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"call":%d}`, *calls)
	})
	return Middleware(repo)(handler)
}

func doRequest(t *testing.T, handler http.Handler, method, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if key != "" {
		req.Header.Set(HeaderName, key)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestMiddleware_ReplaysStoredResponse(t *testing.T) {
	repo := newMockRepository()
	calls := 0
	handler := newTestServer(repo, &calls)

	first := doRequest(t, handler, http.MethodPost, "/incidents", "key-1")
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, `{"call":1}`, first.Body.String())

	second := doRequest(t, handler, http.MethodPost, "/incidents", "key-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, `{"call":1}`, second.Body.String(), "retry replays the stored body")
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, calls, "handler runs once")
}

func TestMiddleware_PassThrough(t *testing.T) {
	tests := []struct {
		name   string
		method string
		key    string
	}{
		{"no header", http.MethodPost, ""},
		{"GET not deduplicated", http.MethodGet, "key-1"},
		{"DELETE not deduplicated", http.MethodDelete, "key-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockRepository()
			calls := 0
			handler := newTestServer(repo, &calls)

			doRequest(t, handler, tt.method, "/incidents", tt.key)
			doRequest(t, handler, tt.method, "/incidents", tt.key)

			assert.Equal(t, 2, calls)
			assert.Empty(t, repo.records, "nothing stored")
		})
	}
}

func TestMiddleware_KeyScopedByMethodAndPath(t *testing.T) {
	repo := newMockRepository()
	calls := 0
	handler := newTestServer(repo, &calls)

	doRequest(t, handler, http.MethodPost, "/incidents", "key-1")
	doRequest(t, handler, http.MethodPost, "/subscribers", "key-1")
	doRequest(t, handler, http.MethodPatch, "/incidents", "key-1")

	assert.Equal(t, 3, calls, "same key on other routes is a distinct request")
	assert.Len(t, repo.records, 3)
}

func TestMiddleware_QueryStringPartOfScope(t *testing.T) {
	repo := newMockRepository()
	calls := 0
	handler := newTestServer(repo, &calls)

	doRequest(t, handler, http.MethodPost, "/incidents?dry_run=1", "key-1")
	doRequest(t, handler, http.MethodPost, "/incidents", "key-1")

	assert.Equal(t, 2, calls)
}

func TestMiddleware_RaceLoserGetsWinnersResponse(t *testing.T) {
	repo := newMockRepository()
	winner := &Record{
		Key:          "key-1",
		Method:       http.MethodPost,
		Path:         "/incidents",
		StatusCode:   http.StatusCreated,
		ResponseBody: []byte(`{"call":"winner"}`),
	}

	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		// The concurrent winner lands between our lookup and our store.
		repo.records[tripleKey(winner.Key, winner.Method, winner.Path)] = winner
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"call":"loser"}`)
	})

	recorder := doRequest(t, Middleware(repo)(handler), http.MethodPost, "/incidents", "key-1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, recorder.Code)
	assert.Equal(t, `{"call":"winner"}`, recorder.Body.String())
}

func TestMiddleware_LookupFailureFallsThrough(t *testing.T) {
	repo := newMockRepository()
	repo.getErr = fmt.Errorf("connection lost")

	calls := 0
	handler := newTestServer(repo, &calls)

	recorder := doRequest(t, handler, http.MethodPost, "/incidents", "key-1")

	assert.Equal(t, 1, calls, "request proceeds despite lookup failure")
	assert.Equal(t, http.StatusCreated, recorder.Code)
}

func TestMiddleware_StoresErrorResponsesToo(t *testing.T) {
	repo := newMockRepository()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"bad request"}`)
	})
	wrapped := Middleware(repo)(handler)

	doRequest(t, wrapped, http.MethodPost, "/incidents", "key-1")

	record, err := repo.Get(context.Background(), "key-1", http.MethodPost, "/incidents")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, record.StatusCode)
	assert.Equal(t, `{"error":"bad request"}`, string(record.ResponseBody))
}
