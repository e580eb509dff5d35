package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestSeedSkipsDuplicates(t *testing.T) {
	h := newHarness(t)
	h.corpus.matches["Beta"] = []map[string]any{{"score": 0.9, "text": "Beta measures systematic risk.", "page": 112}}

	var progress []int
	res, err := h.rag.Seed(context.Background(), SeedRequest{Concepts: []string{"Beta", "Beta"}}, func(done, total int, _ SeedItem) {
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.TotalRequested != 2 || res.Successful != 2 || res.Skipped != 1 || res.Failed != 0 {
		t.Errorf("unexpected totals %+v", res)
	}
	if res.Results[0].Message != MsgGenerated || res.Results[1].Message != MsgAlreadyExists {
		t.Errorf("unexpected messages %q / %q", res.Results[0].Message, res.Results[1].Message)
	}
	if h.llm.notes != 1 {
		t.Errorf("duplicate must not regenerate, got %d generations", h.llm.notes)
	}
	if len(progress) != 2 || progress[1] != 2 {
		t.Errorf("unexpected progress %v", progress)
	}
}

func TestSeedOverwriteAndFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.corpus.matches["Beta"] = []map[string]any{{"score": 0.9, "text": "Beta measures systematic risk.", "page": 112}}
	h.llm.relevant["Gamma"] = true

	if _, err := h.rag.Seed(ctx, SeedRequest{Concepts: []string{"Beta"}}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := h.rag.Seed(ctx, SeedRequest{
		Concepts:  []string{"Beta", "quantum entanglement", "Gamma", ""},
		Overwrite: true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Successful != 1 || res.Failed != 3 || res.Skipped != 0 {
		t.Errorf("unexpected totals %+v", res)
	}
	if res.Results[0].Message != MsgGenerated {
		t.Errorf("overwrite must regenerate, got %q", res.Results[0].Message)
	}
	if !strings.HasPrefix(res.Results[1].Message, "Rejected: ") {
		t.Errorf("expected rejection, got %q", res.Results[1].Message)
	}
	if !strings.HasPrefix(res.Results[2].Message, "Failed: ") {
		t.Errorf("expected fallback failure, got %q", res.Results[2].Message)
	}
	if h.llm.notes != 2 {
		t.Errorf("expected 2 generations, got %d", h.llm.notes)
	}
}

func TestSeedRoundTripThroughList(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.corpus.matches["Duration"] = []map[string]any{{"score": 0.93, "text": "Duration measures rate sensitivity.", "page": 25.0}}

	res, err := h.rag.Seed(ctx, SeedRequest{Concepts: []string{"Duration"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	created := res.Results[0].Note

	listed, err := h.notes.List(ctx, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one note, got %d", len(listed))
	}
	got := listed[0]
	if got.ConceptName != created.ConceptName || got.Definition != created.Definition ||
		strings.Join(got.Applications, "|") != strings.Join(created.Applications, "|") ||
		len(got.PDFReferences) != 1 || got.PDFReferences[0] != created.PDFReferences[0] {
		t.Errorf("round trip mismatch:\n%+v\n%+v", got, created)
	}
}

func TestSeedEmptyAndCanceled(t *testing.T) {
	h := newHarness(t)
	if _, err := h.rag.Seed(context.Background(), SeedRequest{}, nil); !errors.Is(err, ErrNoConcepts) {
		t.Errorf("expected ErrNoConcepts, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.rag.Seed(ctx, SeedRequest{Concepts: []string{"Beta", "Gamma", "Delta"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 3 || len(res.Results) != 3 {
		t.Errorf("canceled seed must fail every item, got %+v", res)
	}
}

func TestReadConcepts(t *testing.T) {
	got := ReadConcepts("Beta\n\n# rates\n  Duration  \r\nSharpe Ratio\n")
	want := []string{"Beta", "Duration", "Sharpe Ratio"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
}
