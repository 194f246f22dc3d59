// Package unmask implements the response unmasker (spec §4.8): it finds
// every placeholder token matching the wire grammar /\[\[[A-Z][A-Z0-9_]*_
// [0-9]+\]\]/ inside a text-bearing field and replaces it using the
// request's PlaceholderContext. Unknown placeholders — including ones a
// model invented that were never issued by this context — are left
// unchanged (spec §9 Open Question #1).
package unmask

import (
	"ai-anonymizing-proxy/internal/jsonwalk"
	"ai-anonymizing-proxy/internal/pii"
)

// Options configures the unmask operation.
type Options struct {
	// ShowMarkers, when true, annotates instead of restoring: the
	// replacement is MarkerText followed by a space and the original
	// value, e.g. "[protected] Sarah Chen". Default (false) is full
	// restoration of the original value alone.
	ShowMarkers bool
	MarkerText  string
}

// Text replaces every placeholder token found in s.
func Text(s string, ctx *pii.Context, opts Options) string {
	return pii.PlaceholderGrammar.ReplaceAllStringFunc(s, func(token string) string {
		original, ok := ctx.Lookup(token)
		if !ok {
			return token // unknown placeholder: pass through unchanged
		}
		if opts.ShowMarkers {
			return opts.MarkerText + " " + original
		}
		return original
	})
}

// Walk deep-copies doc and replaces every placeholder token found in any
// string leaf, returning the new document. doc is never mutated.
func Walk(doc map[string]any, ctx *pii.Context, opts Options) map[string]any {
	copied := jsonwalk.DeepCopy(doc)
	return jsonwalk.RewriteStrings(copied, func(s string) string {
		return Text(s, ctx, opts)
	}).(map[string]any)
}
