package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestSnapshot(t *testing.T) {
	c := New()
	if s := c.Snapshot(); s.CacheHitRate != 0 || s.AvgProcessingMs != 0 {
		t.Errorf("empty counters must not divide by zero: %+v", s)
	}

	c.QueryServed(false, 300*time.Millisecond)
	c.QueryServed(true, 100*time.Millisecond)
	c.QueryServed(true, 200*time.Millisecond)
	c.QueryServed(false, 100*time.Millisecond)
	c.GenerationCalled()
	c.GenerationCalled()
	c.VectorQueried()
	c.FallbackUsed()
	c.Rejected()

	s := c.Snapshot()
	if s.TotalQueries != 4 || s.CacheHits != 2 || s.GeneratedQueries != 2 {
		t.Errorf("unexpected counts %+v", s)
	}
	if s.CacheHitRate != 50 {
		t.Errorf("expected 50%% hit rate, got %v", s.CacheHitRate)
	}
	if s.AvgProcessingMs != 175 || s.AvgGenerationMs != 200 {
		t.Errorf("unexpected averages %v / %v", s.AvgProcessingMs, s.AvgGenerationMs)
	}
	if s.GenerationCalls != 2 || s.VectorQueries != 1 || s.FallbackCount != 1 || s.RejectedCount != 1 {
		t.Errorf("unexpected event counters %+v", s)
	}
}

func TestCountersConcurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.QueryServed(i%2 == 0, time.Millisecond)
			c.VectorQueried()
		}()
	}
	wg.Wait()
	s := c.Snapshot()
	if s.TotalQueries != 50 || s.VectorQueries != 50 || s.CacheHits != 25 {
		t.Errorf("lost updates: %+v", s)
	}
}
