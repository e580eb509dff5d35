package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"concept-rag/internal/config"
	"concept-rag/internal/db"
	"concept-rag/internal/metrics"
	"concept-rag/internal/models"
	"concept-rag/internal/rag"
)

type fakePipeline struct {
	err   error
	seeds int
}

func (f *fakePipeline) Query(_ context.Context, req rag.Request) (*rag.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	note := &models.ConceptNote{ID: 1, ConceptName: req.Concept, Definition: "d", Source: "fintbx.pdf", PDFReferences: []int{47}}
	return &rag.Response{Note: note, Source: note.Source, PDFPages: note.PDFReferences}, nil
}

func (f *fakePipeline) Seed(_ context.Context, req rag.SeedRequest, _ rag.Progress) (*rag.SeedResult, error) {
	f.seeds++
	res := &rag.SeedResult{TotalRequested: len(req.Concepts)}
	for _, c := range req.Concepts {
		res.Results = append(res.Results, rag.SeedItem{Concept: c, Success: true, Message: rag.MsgGenerated})
		res.Successful++
	}
	return res, nil
}

type fakeCatalog struct {
	limit   int
	pingErr error
}

func (f *fakeCatalog) List(_ context.Context, limit int) ([]*models.ConceptNote, error) {
	f.limit = limit
	return []*models.ConceptNote{{ID: 1, ConceptName: "Duration", Source: models.SourceSystem}}, nil
}

func (f *fakeCatalog) Stats(context.Context) (db.NoteStats, error) {
	return db.NoteStats{Total: 3, Corpus: 1, Wikipedia: 1, System: 1}, nil
}

func (f *fakeCatalog) Ping(context.Context) error { return f.pingErr }

type fakeVectors struct{ err error }

func (f fakeVectors) Ping(context.Context) error { return f.err }

type fakeModel struct{ ok bool }

func (f fakeModel) ModelName() string { return "gpt-4o-mini" }
func (f fakeModel) Available() bool { return f.ok }

func newTestRouter(p *fakePipeline, notes *fakeCatalog, vectors Pinger) (*gin.Engine, *metrics.Counters) {
	gin.SetMode(gin.TestMode)
	m := metrics.New()
	r := NewRouter(&config.ServerConfig{Mode: gin.TestMode}, RouterConfig{
		Pipeline: p,
		Notes:    notes,
		Vectors:  vectors,
		Model:    fakeModel{ok: true},
		Metrics:  m,
	})
	return r, m
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestQueryErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		code string
	}{
		{"empty", rag.ErrEmptyConcept, http.StatusBadRequest, "empty_concept"},
		{"off domain", fmt.Errorf("%w: %q", rag.ErrOffDomain, "quantum entanglement"), http.StatusBadRequest, "off_domain"},
		{"fallback", fmt.Errorf("%w for %q", rag.ErrFallbackUnavailable, "x"), http.StatusNotFound, "fallback_unavailable"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestRouter(&fakePipeline{err: tt.err}, &fakeCatalog{}, fakeVectors{})
			w := do(t, r, http.MethodPost, "/query", rag.Request{Concept: "x"})
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			var env ErrorEnvelope
			if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.Error.Code != tt.code || env.Error.Message == "" {
				t.Errorf("unexpected envelope %+v", env)
			}
		})
	}
}

func TestQueryOK(t *testing.T) {
	r, _ := newTestRouter(&fakePipeline{}, &fakeCatalog{}, fakeVectors{})
	w := do(t, r, http.MethodPost, "/query", rag.Request{Concept: "Sharpe Ratio"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp rag.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Note.ConceptName != "Sharpe Ratio" || len(resp.PDFPages) != 1 || resp.PDFPages[0] != 47 {
		t.Errorf("unexpected response %+v", resp)
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestQueryRejectsMalformedBody(t *testing.T) {
	r, _ := newTestRouter(&fakePipeline{}, &fakeCatalog{}, fakeVectors{})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString("{"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestConceptsLimit(t *testing.T) {
	tests := []struct {
		query string
		code  int
		limit int
	}{
		{"", http.StatusOK, 50},
		{"?limit=1", http.StatusOK, 1},
		{"?limit=200", http.StatusOK, 200},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=201", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		notes := &fakeCatalog{}
		r, _ := newTestRouter(&fakePipeline{}, notes, fakeVectors{})
		w := do(t, r, http.MethodGet, "/concepts"+tt.query, nil)
		if w.Code != tt.code {
			t.Errorf("%q: expected %d, got %d", tt.query, tt.code, w.Code)
		}
		if notes.limit != tt.limit {
			t.Errorf("%q: expected limit %d, got %d", tt.query, tt.limit, notes.limit)
		}
	}
}

func TestSeedEmptyIsBadRequest(t *testing.T) {
	p := &fakePipeline{}
	r, _ := newTestRouter(p, &fakeCatalog{}, fakeVectors{})
	w := do(t, r, http.MethodPost, "/seed", rag.SeedRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if p.seeds != 0 {
		t.Error("empty seed must not reach the pipeline")
	}

	w = do(t, r, http.MethodPost, "/seed", rag.SeedRequest{Concepts: []string{"Beta", "Alpha"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res rag.SeedResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.TotalRequested != 2 || res.Successful != 2 {
		t.Errorf("unexpected seed result %+v", res)
	}
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(&fakePipeline{}, &fakeCatalog{}, fakeVectors{})
	var resp HealthResponse
	w := do(t, r, http.MethodGet, "/health", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != statusHealthy || resp.DatabaseStatus != statusConnected ||
		resp.VectorStoreStatus != statusConnected || resp.AIModelStatus != statusConfigured {
		t.Errorf("unexpected health %+v", resp)
	}

	r, _ = newTestRouter(&fakePipeline{}, &fakeCatalog{}, fakeVectors{err: errors.New("index offline")})
	w = do(t, r, http.MethodGet, "/health", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != statusDegraded || resp.VectorStoreStatus != "error: index offline" {
		t.Errorf("unexpected degraded health %+v", resp)
	}
}

func TestModelStatus(t *testing.T) {
	cases := []struct {
		m    ModelInfo
		want string
	}{
		{nil, statusNotConfigured},
		{fakeModel{ok: false}, statusNotConfigured},
		{fakeModel{ok: true}, statusConfigured},
	}
	for _, tc := range cases {
		if got := modelStatus(tc.m); got != tc.want {
			t.Errorf("modelStatus(%v) = %q, want %q", tc.m, got, tc.want)
		}
	}
}

func TestStatsAndMetrics(t *testing.T) {
	r, m := newTestRouter(&fakePipeline{}, &fakeCatalog{}, fakeVectors{})
	m.QueryServed(true, 0)
	m.QueryServed(false, 0)

	var stats StatsResponse
	w := do(t, r, http.MethodGet, "/stats", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalConcepts != 3 || stats.CorpusConcepts != 1 || stats.TotalQueries != 2 || stats.CacheHitRate != 50 {
		t.Errorf("unexpected stats %+v", stats)
	}

	var snap metrics.Snapshot
	w = do(t, r, http.MethodGet, "/metrics", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalQueries != 2 || snap.CacheHits != 1 {
		t.Errorf("unexpected metrics %+v", snap)
	}
}

func TestRootDescriptor(t *testing.T) {
	r, _ := newTestRouter(&fakePipeline{}, &fakeCatalog{}, fakeVectors{})
	w := do(t, r, http.MethodGet, "/", nil)
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["service"] != ServiceName || body["version"] != Version {
		t.Errorf("unexpected descriptor %v", body)
	}
}
