package detector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-anonymizing-proxy/internal/errs"
)

func TestDetectNormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode([]analyzeResponseEntity{ //nolint:errcheck
			{EntityType: "PERSON", Start: 6, End: 20, Score: 0.85},
			{EntityType: "EMAIL_ADDRESS", Start: 24, End: 42, Score: 0.95},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	entities, err := c.Detect(context.Background(), "Email Dr. Sarah Chen at sarah@hospital.org", "en", []string{"PERSON", "EMAIL_ADDRESS"}, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d: %+v", len(entities), entities)
	}
	if entities[0].Category != "PERSON" || entities[0].Source != "detector" {
		t.Errorf("unexpected first entity: %+v", entities[0])
	}
}

func TestDetectEmptyTextShortCircuits(t *testing.T) {
	c := New("http://unused.invalid", nil)
	entities, err := c.Detect(context.Background(), "", "en", nil, 0.5)
	if err != nil || entities != nil {
		t.Errorf("expected (nil, nil) for empty text, got (%v, %v)", entities, err)
	}
}

func TestDetectUnreachableReturnsTypedError(t *testing.T) {
	c := New("http://127.0.0.1:1", nil) // nothing listening
	_, err := c.Detect(context.Background(), "hello", "en", nil, 0.5)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errs.Is(err, errs.ErrDetectorUnavailable) {
		t.Errorf("expected ErrDetectorUnavailable, got %v", err)
	}
}

func TestDetectNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.Detect(context.Background(), "hello", "en", nil, 0.5)
	if !errs.Is(err, errs.ErrDetectorUnavailable) {
		t.Errorf("expected ErrDetectorUnavailable, got %v", err)
	}
}

func TestDetectMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json")) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	_, err := c.Detect(context.Background(), "hello", "en", nil, 0.5)
	if !errs.Is(err, errs.ErrDetectorMalformed) {
		t.Errorf("expected ErrDetectorMalformed, got %v", err)
	}
}

func TestDetectDropsInvalidCategoryNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]analyzeResponseEntity{ //nolint:errcheck
			{EntityType: "person", Start: 0, End: 4, Score: 0.9}, // lowercase: invalid
			{EntityType: "PERSON", Start: 0, End: 4, Score: 0.9},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	entities, err := c.Detect(context.Background(), "Bob arrives", "en", nil, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entities) != 1 {
		t.Fatalf("expected invalid-category entity dropped, got %+v", entities)
	}
}

func TestDetectCachesByKey(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode([]analyzeResponseEntity{{EntityType: "PERSON", Start: 0, End: 3, Score: 0.9}}) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewWithCache(srv.URL, nil, NewMemoryCache())
	ctx := context.Background()
	if _, err := c.Detect(ctx, "Bob", "en", nil, 0.5); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Detect(ctx, "Bob", "en", nil, 0.5); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("expected 1 analyzer call due to caching, got %d", calls)
	}
}
