package detector

import (
	"os"
	"path/filepath"
	"testing"

	"ai-anonymizing-proxy/internal/pii"
)

func TestMemoryCacheBasicOperations(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close() //nolint:errcheck // test cleanup

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("alice text", []pii.Entity{{Category: "PERSON", Start: 0, End: 5, Score: 0.9}})
	entities, ok := c.Get("alice text")
	if !ok || len(entities) != 1 || entities[0].Category != "PERSON" {
		t.Errorf("expected hit after Set, got %+v ok=%v", entities, ok)
	}
}

func TestBboltCacheBasicOperations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	c, err := NewBboltCache(path)
	if err != nil {
		t.Fatalf("NewBboltCache: %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty db")
	}

	c.Set("bob text", []pii.Entity{{Category: "EMAIL_ADDRESS", Start: 0, End: 8, Score: 0.95}})
	entities, ok := c.Get("bob text")
	if !ok || len(entities) != 1 || entities[0].Category != "EMAIL_ADDRESS" {
		t.Errorf("expected hit after Set, got %+v ok=%v", entities, ok)
	}
}

func TestBboltCacheSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persist.db")

	c1, err := NewBboltCache(path)
	if err != nil {
		t.Fatalf("open first instance: %v", err)
	}
	c1.Set("alice text", []pii.Entity{{Category: "PERSON", Start: 0, End: 5, Score: 0.9}})
	if err := c1.Close(); err != nil {
		t.Fatalf("close first instance: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("cache file missing after close: %v", err)
	}

	c2, err := NewBboltCache(path)
	if err != nil {
		t.Fatalf("open second instance: %v", err)
	}
	defer c2.Close() //nolint:errcheck // test cleanup

	entities, ok := c2.Get("alice text")
	if !ok || len(entities) != 1 || entities[0].Category != "PERSON" {
		t.Errorf("entry did not survive restart: ok=%v entities=%+v", ok, entities)
	}
}
