package metrics

import (
	"sync/atomic"
	"time"
)

// Sink receives pipeline events. Implementations must be safe for
// concurrent use.
type Sink interface {
	QueryServed(cached bool, elapsed time.Duration)
	GenerationCalled()
	VectorQueried()
	FallbackUsed()
	Rejected()
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	TotalQueries     int64   `json:"total_queries"`
	CacheHits        int64   `json:"cache_hits"`
	GenerationCalls  int64   `json:"generation_calls"`
	VectorQueries    int64   `json:"vector_store_queries"`
	FallbackCount    int64   `json:"fallback_count"`
	RejectedCount    int64   `json:"rejected_count"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	AvgProcessingMs  float64 `json:"avg_processing_time_ms"`
	AvgGenerationMs  float64 `json:"avg_generation_time_ms"`
	GeneratedQueries int64   `json:"generated_queries"`
}

// Counters is the in-process Sink.
type Counters struct {
	queries      atomic.Int64
	cacheHits    atomic.Int64
	generations  atomic.Int64
	vectorQs     atomic.Int64
	fallbacks    atomic.Int64
	rejected     atomic.Int64
	processingUs atomic.Int64
	generatedUs  atomic.Int64
}

var _ Sink = (*Counters)(nil)

func New() *Counters {
	return &Counters{}
}

func (c *Counters) QueryServed(cached bool, elapsed time.Duration) {
	c.queries.Add(1)
	c.processingUs.Add(elapsed.Microseconds())
	if cached {
		c.cacheHits.Add(1)
		return
	}
	c.generatedUs.Add(elapsed.Microseconds())
}

func (c *Counters) GenerationCalled() { c.generations.Add(1) }
func (c *Counters) VectorQueried() { c.vectorQs.Add(1) }
func (c *Counters) FallbackUsed() { c.fallbacks.Add(1) }
func (c *Counters) Rejected() { c.rejected.Add(1) }

// Snapshot reads every counter. Rates are percentages; averages are in
// milliseconds and zero when nothing was served.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		TotalQueries:    c.queries.Load(),
		CacheHits:       c.cacheHits.Load(),
		GenerationCalls: c.generations.Load(),
		VectorQueries:   c.vectorQs.Load(),
		FallbackCount:   c.fallbacks.Load(),
		RejectedCount:   c.rejected.Load(),
	}
	s.GeneratedQueries = s.TotalQueries - s.CacheHits
	if s.TotalQueries > 0 {
		s.CacheHitRate = float64(s.CacheHits) / float64(s.TotalQueries) * 100
		s.AvgProcessingMs = float64(c.processingUs.Load()) / float64(s.TotalQueries) / 1000
	}
	if s.GeneratedQueries > 0 {
		s.AvgGenerationMs = float64(c.generatedUs.Load()) / float64(s.GeneratedQueries) / 1000
	}
	return s
}

// Discard drops every event.
type Discard struct{}

func (Discard) QueryServed(bool, time.Duration) {}
func (Discard) GenerationCalled() {}
func (Discard) VectorQueried() {}
func (Discard) FallbackUsed() {}
func (Discard) Rejected() {}
