package extract

import (
	"ai-anonymizing-proxy/internal/pii"
	"ai-anonymizing-proxy/internal/unmask"
)

// Extractor is the three-operation contract every provider request shape
// implements (spec §4.6). The set of providers is closed and small, so
// each provider gets its own concrete type rather than a reflection-driven
// generic walker.
type Extractor interface {
	// Extract pulls an ordered, deterministic list of TextSpan out of doc.
	Extract(doc Doc) ([]pii.TextSpan, error)

	// Apply reinserts maskedSpans into a fresh copy of doc, addressed by
	// MaskedSpan.Address. The returned document shares no mutable state
	// with doc.
	Apply(doc Doc, spans []pii.MaskedSpan) (Doc, error)

	// UnmaskResponse restores (or annotates, per opts) every placeholder
	// token found in any text-bearing field of a provider response.
	UnmaskResponse(doc Doc, ctx *pii.Context, opts unmask.Options) Doc
}

// For detects which Extractor applies to a decoded request body. Chat
// completions (messages[]) takes priority since a request shape carrying
// both "messages" and "prompt" is not expected from any known provider;
// "messages" is checked first to match the more specific, more common
// shape.
func For(doc Doc) (Extractor, bool) {
	if _, ok := doc["messages"]; ok {
		return ChatExtractor{}, true
	}
	if _, ok := doc["prompt"]; ok {
		return CompletionsExtractor{}, true
	}
	return nil, false
}
