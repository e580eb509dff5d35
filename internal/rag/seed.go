package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"concept-rag/internal/models"
)

const (
	MsgAlreadyExists = "Already exists"
	MsgGenerated     = "Generated successfully"
)

type SeedRequest struct {
	Concepts  []string `json:"concepts"`
	Overwrite bool     `json:"overwrite"`
}

type SeedItem struct {
	Concept string              `json:"concept"`
	Success bool                `json:"success"`
	Skipped bool                `json:"skipped"`
	Message string              `json:"message"`
	Note    *models.ConceptNote `json:"concept_note,omitempty"`
}

type SeedResult struct {
	Results          []SeedItem `json:"results"`
	TotalRequested   int        `json:"total_requested"`
	Successful       int        `json:"successful"`
	Failed           int        `json:"failed"`
	Skipped          int        `json:"skipped"`
	ProcessingTimeMs float64    `json:"processing_time_ms"`
}

// Progress is told about every finished seed item.
type Progress func(done, total int, item SeedItem)

// Seed generates notes for each concept in order. Existing notes are kept
// unless Overwrite is set. Generations are paced by a shared token bucket;
// one failing concept never stops the rest.
func (r *RAG) Seed(ctx context.Context, req SeedRequest, progress Progress) (*SeedResult, error) {
	if len(req.Concepts) == 0 {
		return nil, ErrNoConcepts
	}
	start := time.Now()
	res := &SeedResult{TotalRequested: len(req.Concepts), Results: make([]SeedItem, 0, len(req.Concepts))}

	for i, raw := range req.Concepts {
		item := r.seedOne(ctx, strings.TrimSpace(raw), req.Overwrite)
		switch {
		case item.Skipped:
			res.Skipped++
			res.Successful++
		case item.Success:
			res.Successful++
		default:
			res.Failed++
		}
		res.Results = append(res.Results, item)
		if progress != nil {
			progress(i+1, len(req.Concepts), item)
		}
		if ctx.Err() != nil {
			// the remaining items would fail the same way
			for _, rest := range req.Concepts[i+1:] {
				res.Results = append(res.Results, SeedItem{Concept: rest, Message: "Failed: " + ctx.Err().Error()})
				res.Failed++
			}
			break
		}
	}

	res.ProcessingTimeMs = elapsedMs(start)
	log.Info().Int("requested", res.TotalRequested).Int("successful", res.Successful).Int("failed", res.Failed).Int("skipped", res.Skipped).Msg("Seeding finished")
	return res, nil
}

func (r *RAG) seedOne(ctx context.Context, concept string, overwrite bool) SeedItem {
	item := SeedItem{Concept: concept}
	if concept == "" {
		item.Message = "Failed: " + ErrEmptyConcept.Error()
		return item
	}

	existing, err := r.cached(ctx, concept)
	if err != nil {
		item.Message = "Failed: " + err.Error()
		return item
	}
	if existing != nil && !overwrite {
		item.Success = true
		item.Skipped = true
		item.Message = MsgAlreadyExists
		item.Note = existing
		return item
	}

	if err := r.limiter.Wait(ctx); err != nil {
		item.Message = "Failed: " + err.Error()
		return item
	}
	resp, err := r.generate(ctx, concept, existing)
	switch {
	case errors.Is(err, ErrOffDomain):
		item.Message = fmt.Sprintf("Rejected: %v", err)
	case err != nil:
		item.Message = fmt.Sprintf("Failed: %v", err)
	default:
		item.Success = true
		item.Message = MsgGenerated
		item.Note = resp.Note
	}
	log.Debug().Str("concept", concept).Bool("success", item.Success).Str("message", item.Message).Msg("Seeded concept")
	return item
}

// ReadConcepts parses a seed list: one concept per line, blank lines and
// lines starting with # ignored.
func ReadConcepts(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
