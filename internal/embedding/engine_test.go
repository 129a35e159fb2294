package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		a, b    []float32
		want    float64
		wantErr bool
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0, false},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0.0, false},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1.0, false},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0.0, false},
		{"dimension mismatch", []float32{1}, []float32{1, 0}, 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestBoundedSimilarity_ClampsNegative(t *testing.T) {
	t.Parallel()

	got, err := BoundedSimilarity([]float32{1, 0}, []float32{-1, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("expected clamp to 0, got %f", got)
	}
}

func TestFindTopK(t *testing.T) {
	t.Parallel()

	query := []float32{1, 0, 0}
	corpus := [][]float32{
		{0, 1, 0},     // orthogonal
		{1, 0, 0},     // identical
		{0.7, 0.7, 0}, // partial
		{1, 0},        // wrong dimension, skipped
	}

	results, err := FindTopK(query, corpus, 2)
	if err != nil {
		t.Fatalf("FindTopK error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Index != 1 {
		t.Errorf("expected identical vector ranked first, got index %d", results[0].Index)
	}
	if results[1].Index != 2 {
		t.Errorf("expected partial match ranked second, got index %d", results[1].Index)
	}
}

func TestOfflineEngine_Deterministic(t *testing.T) {
	t.Parallel()

	engine := NewOfflineEngine()
	ctx := context.Background()

	a, err := engine.Embed(ctx, "The system must use OAuth2 for authentication.")
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	b, err := engine.Embed(ctx, "The system must use OAuth2 for authentication.")
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}

	sim, err := CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity error: %v", err)
	}
	if sim < 0.9999 {
		t.Errorf("same text should embed identically, similarity=%f", sim)
	}
	if len(a) != engine.Dimensions() {
		t.Errorf("dimension mismatch: %d != %d", len(a), engine.Dimensions())
	}
}

func TestOfflineEngine_OverlapScoresHigher(t *testing.T) {
	t.Parallel()

	engine := NewOfflineEngine()
	ctx := context.Background()

	requirement, _ := engine.Embed(ctx, "The system must use OAuth2 for authentication.")
	related, _ := engine.Embed(ctx, "Added OAuth2 login flow for authentication")
	unrelated, _ := engine.Embed(ctx, "Refactored CSS styles")

	simRelated, _ := CosineSimilarity(requirement, related)
	simUnrelated, _ := CosineSimilarity(requirement, unrelated)

	if simRelated <= simUnrelated {
		t.Errorf("related activity should score higher: related=%f unrelated=%f", simRelated, simUnrelated)
	}
}

// failNTimes fails the first n calls, then delegates to the offline engine.
type failNTimes struct {
	*OfflineEngine
	remaining int
}

func (f *failNTimes) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.remaining > 0 {
		f.remaining--
		return nil, errors.New("transient failure")
	}
	return f.OfflineEngine.Embed(ctx, text)
}

func TestWithRetry_RecoverFromTransient(t *testing.T) {
	t.Parallel()

	engine := WithRetry(&failNTimes{OfflineEngine: NewOfflineEngine(), remaining: 2}, 3)

	vec, err := engine.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("expected recovery after retries, got error: %v", err)
	}
	if len(vec) == 0 {
		t.Error("expected non-empty embedding")
	}
}

func TestWithRetry_ExhaustsRetries(t *testing.T) {
	t.Parallel()

	engine := WithRetry(&failNTimes{OfflineEngine: NewOfflineEngine(), remaining: 10}, 2)

	if _, err := engine.Embed(context.Background(), "hello"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestWithRetry_ContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := WithRetry(&failNTimes{OfflineEngine: NewOfflineEngine(), remaining: 10}, 5)
	if _, err := engine.Embed(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
