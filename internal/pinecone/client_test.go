package pinecone

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"concept-rag/internal/config"
	"concept-rag/internal/vectorstore"
)

type fakePinecone struct {
	mu       sync.Mutex
	srv      *httptest.Server
	exists   bool
	created  map[string]any
	upserts  []upsertRequest
	lastQ    map[string]any
	deleted  bool
	failNext bool
}

func newFakePinecone(t *testing.T, exists bool) *fakePinecone {
	f := &fakePinecone{exists: exists}
	mux := http.NewServeMux()
	mux.HandleFunc("/indexes/financial-toolbox", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "pc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		exists := f.exists
		f.mu.Unlock()
		if !exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"name": "financial-toolbox", "host": f.srv.URL, "dimension": 3})
	})
	mux.HandleFunc("/indexes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		json.NewDecoder(r.Body).Decode(&f.created)
		f.exists = true
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"name": "financial-toolbox", "host": f.srv.URL, "dimension": 3})
	})
	mux.HandleFunc("/vectors/upsert", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failNext {
			f.failNext = false
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		var req upsertRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.upserts = append(f.upserts, req)
		json.NewEncoder(w).Encode(map[string]any{"upsertedCount": len(req.Vectors)})
	})
	mux.HandleFunc("/query", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		json.NewDecoder(r.Body).Decode(&f.lastQ)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"matches": []map[string]any{
			{"id": "chunk_00042", "score": 0.91, "metadata": map[string]any{"text": "Sharpe ratio", "page": 47.0}},
			{"id": "chunk_00007", "score": 0.42, "metadata": map[string]any{"content": "legacy", "page_num": "12.0"}},
		}})
	})
	mux.HandleFunc("/vectors/fetch", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("ids")
		vectors := map[string]any{}
		if id == "chunk_00042" {
			vectors[id] = map[string]any{"id": id, "metadata": map[string]any{"text": "Sharpe ratio", "page": 47}}
		}
		json.NewEncoder(w).Encode(map[string]any{"vectors": vectors})
	})
	mux.HandleFunc("/describe_index_stats", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"dimension": 3, "totalVectorCount": 1200, "indexFullness": 0.1})
	})
	mux.HandleFunc("/vectors/delete", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.deleted = body["deleteAll"] == true
		f.mu.Unlock()
		w.Write([]byte("{}"))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newTestStore(t *testing.T, f *fakePinecone, batch int) *Store {
	t.Helper()
	s, err := New(&config.PineconeConfig{
		APIKey:    "pc-key",
		BaseURL:   f.srv.URL,
		Index:     "financial-toolbox",
		Cloud:     "aws",
		Region:    "us-east-1",
		BatchSize: batch,
	}, 3)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(&config.PineconeConfig{}, 3); err == nil {
		t.Error("expected error without api key")
	}
}

func TestEnsureIndexCreatesWhenMissing(t *testing.T) {
	f := newFakePinecone(t, false)
	s := newTestStore(t, f, 100)

	if err := s.EnsureIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.created == nil || f.created["metric"] != "cosine" || f.created["dimension"] != 3.0 {
		t.Errorf("unexpected create request %v", f.created)
	}
	spec := f.created["spec"].(map[string]any)["serverless"].(map[string]any)
	if spec["cloud"] != "aws" || spec["region"] != "us-east-1" {
		t.Errorf("unexpected serverless spec %v", spec)
	}
}

func TestEnsureIndexReusesExisting(t *testing.T) {
	f := newFakePinecone(t, true)
	s := newTestStore(t, f, 100)
	if err := s.EnsureIndex(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.created != nil {
		t.Error("existing index must not be recreated")
	}
}

func TestUpsertBatchesAndSkipsFailedBatch(t *testing.T) {
	f := newFakePinecone(t, true)
	s := newTestStore(t, f, 2)
	records := []vectorstore.Record{
		{ID: "a", Vector: []float32{1, 0, 0}},
		{ID: "b", Vector: []float32{0, 1, 0}},
		{ID: "c", Vector: []float32{0, 0, 1}},
	}
	f.failNext = true

	n, err := s.Upsert(context.Background(), records)
	if err == nil {
		t.Error("expected joined batch error")
	}
	if n != 1 {
		t.Errorf("expected 1 upserted after first batch failed, got %d", n)
	}
	if len(f.upserts) != 1 || f.upserts[0].Vectors[0].ID != "c" {
		t.Errorf("unexpected upserts %+v", f.upserts)
	}
}

func TestQueryNormalizesMatches(t *testing.T) {
	f := newFakePinecone(t, true)
	s := newTestStore(t, f, 100)

	matches, err := s.Query(context.Background(), []float32{1, 0, 0}, 5, vectorstore.Filter{"page": 47})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Page != 47 || matches[0].Text != "Sharpe ratio" || matches[0].Score != 0.91 {
		t.Errorf("unexpected first match %+v", matches[0])
	}
	if matches[1].Page != 12 || matches[1].Text != "legacy" {
		t.Errorf("legacy fields not normalized: %+v", matches[1])
	}
	if f.lastQ["includeMetadata"] != true || f.lastQ["topK"] != 5.0 {
		t.Errorf("unexpected query body %v", f.lastQ)
	}
	filter := f.lastQ["filter"].(map[string]any)["page"].(map[string]any)
	if filter["$eq"] != 47.0 {
		t.Errorf("unexpected filter %v", filter)
	}
}

func TestFetchStatsDelete(t *testing.T) {
	f := newFakePinecone(t, true)
	s := newTestStore(t, f, 100)
	ctx := context.Background()

	got, err := s.Fetch(ctx, "chunk_00042")
	if err != nil || got.Page != 47 {
		t.Fatalf("unexpected fetch %+v (%v)", got, err)
	}
	if _, err := s.Fetch(ctx, "missing"); !errors.Is(err, vectorstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Count != 1200 || st.Dimension != 3 || st.Backend != vectorstore.BackendPinecone {
		t.Errorf("unexpected stats %+v", st)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}

	if err := s.DeleteAll(ctx); err != nil {
		t.Fatal(err)
	}
	if !f.deleted {
		t.Error("expected deleteAll request")
	}
}
