// Package detector is the adapter over the external PII analyzer service
// (a Presidio-compatible HTTP endpoint). It normalizes the analyzer's
// entity shape into the engine's pii.Entity interval shape and never
// silently swallows a failure — on transport or decode error it returns a
// typed error from package errs, leaving the forward/route decision to the
// orchestrator.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ai-anonymizing-proxy/internal/errs"
	"ai-anonymizing-proxy/internal/logger"
	"ai-anonymizing-proxy/internal/pii"
)

// Client calls a configured Presidio-compatible analyzer and returns
// normalized entities. It is safe for concurrent use — request fan-out
// across spans may call Detect concurrently (see spec §5).
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
	cache      ResponseCache // optional; nil disables caching
}

// analyzeRequest is the wire shape POSTed to <baseURL>/analyze.
type analyzeRequest struct {
	Text            string   `json:"text"`
	Language        string   `json:"language"`
	Entities        []string `json:"entities"`
	ScoreThreshold  float64  `json:"score_threshold"`
}

// analyzeResponseEntity is one element of the analyzer's JSON array
// response.
type analyzeResponseEntity struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// New creates a Client pointed at baseURL (e.g. "http://localhost:5002"),
// with no response cache (every call hits the network).
func New(baseURL string, log *logger.Logger) *Client {
	return NewWithCache(baseURL, log, nil)
}

// NewWithCache is like New but installs a ResponseCache in front of the
// network call. Pass nil to disable caching.
func NewWithCache(baseURL string, log *logger.Logger, cache ResponseCache) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		log:   log,
		cache: cache,
	}
}

// cacheKey identifies a detector response by the exact inputs that shape
// it — two spans with identical text but different requested categories
// or threshold must not share a cache entry.
func cacheKey(text, language string, categories []string, threshold float64) string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%.4f", language, strings.Join(categories, ","), text, threshold)
}

// Detect sends one analyzer request for text and normalizes the response
// into pii.Entity records tagged pii.SourceDetector.
//
// On transport failure or a non-2xx status, Detect returns an error
// wrapping errs.ErrDetectorUnavailable. On an undecodable or
// schema-invalid body, it returns an error wrapping
// errs.ErrDetectorMalformed. It never returns (nil, nil) for a failure —
// PII detection failures are never silently treated as "nothing found".
func (c *Client) Detect(ctx context.Context, text, language string, categories []string, threshold float64) ([]pii.Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	key := cacheKey(text, language, categories, threshold)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
	}

	reqBody := analyzeRequest{
		Text:           text,
		Language:       language,
		Entities:       categories,
		ScoreThreshold: threshold,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", errs.ErrDetectorMalformed)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", errs.ErrDetectorUnavailable)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if c.log != nil {
			c.log.Warnf("analyze_call", "analyzer unreachable: %v", err)
		}
		return nil, fmt.Errorf("call analyzer: %v: %w", err, errs.ErrDetectorUnavailable)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if c.log != nil {
			c.log.Warnf("analyze_call", "analyzer returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("analyzer status %d: %w", resp.StatusCode, errs.ErrDetectorUnavailable)
	}

	var raw []analyzeResponseEntity
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode analyze response: %v: %w", err, errs.ErrDetectorMalformed)
	}

	entities := make([]pii.Entity, 0, len(raw))
	for _, r := range raw {
		if r.Start < 0 || r.End <= r.Start || r.End > len(text) {
			continue // schema-valid JSON but nonsensical bounds; drop defensively
		}
		if !pii.ValidCategory(r.EntityType) {
			continue
		}
		entities = append(entities, pii.Entity{
			Category: r.EntityType,
			Start:    r.Start,
			End:      r.End,
			Score:    r.Score,
			Source:   pii.SourceDetector,
		})
	}

	if c.cache != nil {
		c.cache.Set(key, entities)
	}

	return entities, nil
}
