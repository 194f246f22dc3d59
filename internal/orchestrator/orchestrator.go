// Package orchestrator wires together extraction, secret scanning, PII
// detection, conflict resolution, and masking into the single pipeline a
// provider request passes through before it leaves this process (spec
// §4.7). It is the only package that knows about all of extract, detector,
// and pii at once; each of those stays a one-way dependency so none of them
// needs to know the orchestrator exists.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ai-anonymizing-proxy/internal/detector"
	"ai-anonymizing-proxy/internal/errs"
	"ai-anonymizing-proxy/internal/extract"
	"ai-anonymizing-proxy/internal/logger"
	"ai-anonymizing-proxy/internal/metrics"
	"ai-anonymizing-proxy/internal/pii"
)

// Mode selects what happens once entities are found in a request.
type Mode string

const (
	// ModeMask always forwards the masked request, regardless of what was
	// found. This is the default and the only mode that supports
	// response unmasking, since only it produces a PlaceholderContext.
	ModeMask Mode = "mask"

	// ModeRoute forwards the ORIGINAL, unmasked request whenever at least
	// one entity was found, on the theory that the caller will dispatch
	// such requests to an on-premise provider instead of a third-party
	// one. No masking work happens in this mode beyond detection.
	ModeRoute Mode = "route"
)

// Options configures one orchestration run.
type Options struct {
	Mode           Mode
	Language       string
	Categories     []string
	ScoreThreshold float64
	Whitelist      *pii.Whitelist
}

// Result is the outcome of masking (or deciding not to mask) one request.
type Result struct {
	// Doc is the document to forward upstream: masked in ModeMask, or the
	// original in ModeRoute when entities were found and the caller
	// should instead dispatch to an on-premise provider (see Diverted).
	Doc extract.Doc

	// Context carries the placeholder mappings for this request. Nil in
	// ModeRoute, since route mode never masks, except when the request has
	// no text spans: then Process returns an empty Context in either mode.
	Context *pii.Context

	// EntityCount is the total number of entities found across all spans
	// (secret-scanner and detector entities combined), before conflict
	// resolution and before whitelist filtering.
	EntityCount int

	// Diverted is true in ModeRoute when the PII detector (spec §4.7 step
	// 3) found at least one entity, signaling the caller should route
	// this request to the on-premise provider instead of the configured
	// third-party one. Secret-scanner hits alone do not divert.
	Diverted bool
}

// Engine runs the extract → scan → detect → resolve → mask pipeline.
type Engine struct {
	Detector *detector.Client
	Log      *logger.Logger
	Metrics  *metrics.Metrics
}

// New constructs an Engine. m may be nil to disable metrics collection.
func New(d *detector.Client, log *logger.Logger, m *metrics.Metrics) *Engine {
	return &Engine{Detector: d, Log: log, Metrics: m}
}

// Process runs one request through the pipeline. doc is never mutated.
func (e *Engine) Process(ctx context.Context, doc extract.Doc, opts Options) (Result, error) {
	ext, ok := extract.For(doc)
	if !ok {
		return Result{}, fmt.Errorf("no known request shape found: %w", errs.ErrExtractionFailure)
	}

	spans, err := ext.Extract(doc)
	if err != nil {
		return Result{}, err
	}
	if len(spans) == 0 {
		return Result{Doc: doc, Context: pii.NewContext()}, nil
	}

	entitiesBySpan, err := e.findEntities(ctx, spans, opts)
	if err != nil {
		return Result{}, err
	}

	total := 0
	detected := 0
	for _, ents := range entitiesBySpan {
		total += len(ents)
		for _, ent := range ents {
			if ent.Source == pii.SourceDetector {
				detected++
			}
		}
	}

	if opts.Mode == ModeRoute {
		if detected > 0 {
			if e.Metrics != nil {
				e.Metrics.RouteModeDiversions.Add(1)
			}
			return Result{Doc: doc, EntityCount: total, Diverted: true}, nil
		}
		return Result{Doc: doc, EntityCount: total}, nil
	}

	pctx := pii.NewContext()
	masked := make([]pii.MaskedSpan, len(spans))
	for i, span := range spans {
		resolved := pii.Resolve(entitiesBySpan[i])
		if before, after := len(entitiesBySpan[i]), len(resolved); after < before && e.Metrics != nil {
			e.Metrics.ConflictMerges.Add(int64(before - after))
		}
		ms := pii.MaskSpan(span, resolved, pctx, opts.Whitelist)
		masked[i] = ms
	}

	out, err := ext.Apply(doc, masked)
	if err != nil {
		return Result{}, err
	}

	if e.Metrics != nil {
		e.Metrics.PlaceholdersIssued.Add(int64(len(pctx.Tokens())))
	}

	return Result{Doc: out, Context: pctx, EntityCount: total}, nil
}

// findEntities scans each span for secrets and, if a detector is
// configured, fans out concurrent PII-detector calls. Detection across
// spans may run concurrently; the results are gathered before any
// allocation happens, since PlaceholderContext allocation must run
// serially against one shared counter set.
func (e *Engine) findEntities(ctx context.Context, spans []pii.TextSpan, opts Options) ([][]pii.Entity, error) {
	results := make([][]pii.Entity, len(spans))
	spanErrs := make([]error, len(spans))

	var wg sync.WaitGroup
	for i, span := range spans {
		wg.Add(1)
		go func(i int, span pii.TextSpan) {
			defer wg.Done()

			entities := pii.ScanSecrets(span.Text)
			if e.Metrics != nil && len(entities) > 0 {
				e.Metrics.EntitiesScanned.Add(int64(len(entities)))
			}

			if e.Detector != nil {
				start := time.Now()
				detected, err := e.Detector.Detect(ctx, span.Text, opts.Language, opts.Categories, opts.ScoreThreshold)
				if e.Metrics != nil {
					e.Metrics.RecordDetectLatency(time.Since(start))
				}
				if err != nil {
					if e.Metrics != nil {
						e.Metrics.DetectorErrors.Add(1)
					}
					if e.Log != nil {
						e.Log.Warnf("detect", "span %d: %v", i, err)
					}
					spanErrs[i] = err
					return
				}
				if e.Metrics != nil && len(detected) > 0 {
					e.Metrics.EntitiesDetected.Add(int64(len(detected)))
				}
				entities = append(entities, detected...)
			}

			results[i] = entities
		}(i, span)
	}
	wg.Wait()

	for _, err := range spanErrs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
