package pinecone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"concept-rag/internal/config"
	"concept-rag/internal/models"
	"concept-rag/internal/vectorstore"
)

const (
	defaultBaseURL    = "https://api.pinecone.io"
	defaultAPIVersion = "2025-01"
)

var errIndexNotFound = errors.New("pinecone index not found")

// Store is the hosted Pinecone backend of vectorstore.Store, speaking the
// REST control and data plane directly.
type Store struct {
	cfg       config.PineconeConfig
	dimension int
	http      *http.Client

	mu   sync.Mutex
	host string
}

var _ vectorstore.Store = (*Store)(nil)

func New(cfg *config.PineconeConfig, dimension int) (*Store, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("missing Pinecone API key")
	}
	c := *cfg
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(c.APIVersion) == "" {
		c.APIVersion = defaultAPIVersion
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return &Store{
		cfg:       c,
		dimension: dimension,
		http:      &http.Client{Timeout: c.Timeout},
		host:      c.Host,
	}, nil
}

func (s *Store) Name() string {
	return vectorstore.BackendPinecone
}

// -------------------- Control plane --------------------

type indexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

type createIndexRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Spec      struct {
		Serverless struct {
			Cloud  string `json:"cloud"`
			Region string `json:"region"`
		} `json:"serverless"`
	} `json:"spec"`
}

// EnsureIndex resolves the data-plane host, creating a serverless cosine
// index when the named one does not exist.
func (s *Store) EnsureIndex(ctx context.Context) error {
	_, err := s.resolveHost(ctx)
	return err
}

func (s *Store) resolveHost(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return s.host, nil
	}

	desc, err := s.describeIndex(ctx)
	if errors.Is(err, errIndexNotFound) {
		log.Info().Str("index", s.cfg.Index).Int("dimension", s.dimension).Msg("Creating Pinecone index")
		desc, err = s.createIndex(ctx)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(desc.Host) == "" {
		return "", errors.New("pinecone returned empty index host")
	}
	if desc.Dimension != 0 && s.dimension != 0 && desc.Dimension != s.dimension {
		log.Warn().Int("index_dimension", desc.Dimension).Int("configured", s.dimension).Msg("Pinecone index dimension differs from config")
	}
	s.host = desc.Host
	log.Debug().Str("index", s.cfg.Index).Str("host", s.host).Msg("Resolved Pinecone host")
	return s.host, nil
}

func (s *Store) describeIndex(ctx context.Context) (*indexDescription, error) {
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes/" + url.PathEscape(s.cfg.Index)
	out, status, err := doJSON[indexDescription](s, ctx, http.MethodGet, u, nil)
	if status == http.StatusNotFound {
		return nil, errIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pinecone describe_index: %w", err)
	}
	return out, nil
}

func (s *Store) createIndex(ctx context.Context) (*indexDescription, error) {
	req := createIndexRequest{Name: s.cfg.Index, Dimension: s.dimension, Metric: "cosine"}
	req.Spec.Serverless.Cloud = s.cfg.Cloud
	req.Spec.Serverless.Region = s.cfg.Region
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes"
	out, _, err := doJSON[indexDescription](s, ctx, http.MethodPost, u, req)
	if err != nil {
		return nil, fmt.Errorf("pinecone create_index: %w", err)
	}
	return out, nil
}

// -------------------- Data plane --------------------

type vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []vector `json:"vectors"`
	Namespace string   `json:"namespace,omitempty"`
}

type upsertResponse struct {
	UpsertedCount int `json:"upsertedCount"`
}

// Upsert writes records in batches. A failed batch is logged and skipped;
// the joined batch errors are returned with the count that succeeded.
func (s *Store) Upsert(ctx context.Context, records []vectorstore.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	u, err := s.dataURL(ctx, "/vectors/upsert")
	if err != nil {
		return 0, err
	}

	var (
		total int
		errs  []error
	)
	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(records))
		req := upsertRequest{Namespace: s.cfg.Namespace}
		for _, r := range records[start:end] {
			req.Vectors = append(req.Vectors, vector{ID: r.ID, Values: r.Vector, Metadata: r.Metadata})
		}
		out, _, err := doJSON[upsertResponse](s, ctx, http.MethodPost, u, req)
		if err != nil {
			log.Error().Err(err).Int("batch", start/s.cfg.BatchSize).Msg("Error upserting batch")
			errs = append(errs, err)
			continue
		}
		total += out.UpsertedCount
	}
	log.Info().Int("upserted", total).Int("records", len(records)).Msg("Upserted vectors to Pinecone")
	return total, errors.Join(errs...)
}

type queryRequest struct {
	Namespace       string         `json:"namespace,omitempty"`
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	Filter          map[string]any `json:"filter,omitempty"`
	IncludeMetadata bool           `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []struct {
		ID       string         `json:"id"`
		Score    float64        `json:"score"`
		Metadata map[string]any `json:"metadata"`
	} `json:"matches"`
}

func (s *Store) Query(ctx context.Context, vec []float32, topK int, filter vectorstore.Filter) ([]models.RetrievedChunk, error) {
	if len(vec) == 0 {
		return nil, errors.New("query vector required")
	}
	if topK <= 0 {
		topK = 10
	}
	u, err := s.dataURL(ctx, "/query")
	if err != nil {
		return nil, err
	}
	req := queryRequest{
		Namespace:       s.cfg.Namespace,
		Vector:          vec,
		TopK:            topK,
		Filter:          pineconeFilter(filter),
		IncludeMetadata: true,
	}
	out, _, err := doJSON[queryResponse](s, ctx, http.MethodPost, u, req)
	if err != nil {
		return nil, fmt.Errorf("pinecone query: %w", err)
	}
	matches := make([]models.RetrievedChunk, 0, len(out.Matches))
	for _, m := range out.Matches {
		matches = append(matches, vectorstore.Normalize(m.ID, m.Score, m.Metadata))
	}
	return matches, nil
}

type fetchResponse struct {
	Vectors map[string]vector `json:"vectors"`
}

func (s *Store) Fetch(ctx context.Context, id string) (*models.RetrievedChunk, error) {
	u, err := s.dataURL(ctx, "/vectors/fetch")
	if err != nil {
		return nil, err
	}
	q := url.Values{"ids": []string{id}}
	if s.cfg.Namespace != "" {
		q.Set("namespace", s.cfg.Namespace)
	}
	out, _, err := doJSON[fetchResponse](s, ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pinecone fetch: %w", err)
	}
	v, ok := out.Vectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vectorstore.ErrNotFound, id)
	}
	rc := vectorstore.Normalize(v.ID, 1, v.Metadata)
	return &rc, nil
}

type statsResponse struct {
	Dimension        int     `json:"dimension"`
	IndexFullness    float64 `json:"indexFullness"`
	TotalVectorCount int     `json:"totalVectorCount"`
}

func (s *Store) Stats(ctx context.Context) (vectorstore.IndexStats, error) {
	u, err := s.dataURL(ctx, "/describe_index_stats")
	if err != nil {
		return vectorstore.IndexStats{}, err
	}
	out, _, err := doJSON[statsResponse](s, ctx, http.MethodPost, u, struct{}{})
	if err != nil {
		return vectorstore.IndexStats{}, fmt.Errorf("pinecone describe_index_stats: %w", err)
	}
	return vectorstore.IndexStats{
		Backend:   s.Name(),
		Count:     out.TotalVectorCount,
		Dimension: out.Dimension,
		Fullness:  out.IndexFullness,
	}, nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	u, err := s.dataURL(ctx, "/vectors/delete")
	if err != nil {
		return err
	}
	log.Warn().Str("index", s.cfg.Index).Msg("Deleting all vectors from index")
	body := map[string]any{"deleteAll": true}
	if s.cfg.Namespace != "" {
		body["namespace"] = s.cfg.Namespace
	}
	if _, _, err := doJSON[struct{}](s, ctx, http.MethodPost, u, body); err != nil {
		return fmt.Errorf("pinecone delete: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.Stats(ctx)
	return err
}

// -------------------- helpers --------------------

func (s *Store) dataURL(ctx context.Context, path string) (string, error) {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return "", err
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return strings.TrimRight(host, "/") + path, nil
}

func pineconeFilter(f vectorstore.Filter) map[string]any {
	if len(f) == 0 {
		return nil
	}
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = map[string]any{"$eq": v}
	}
	return out
}

func doJSON[T any](s *Store, ctx context.Context, method, u string, body any) (*T, int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", s.cfg.APIVersion)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp.StatusCode, fmt.Errorf("pinecone http %d: %s", resp.StatusCode, string(raw))
	}

	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return &out, resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("pinecone decode error: %w", err)
	}
	return &out, resp.StatusCode, nil
}
