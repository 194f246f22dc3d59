package pii

// Whitelist is a pre-built, case-sensitive set of substrings that are never
// masked. Lookup is O(1). Configured from pii_detection.whitelist.
type Whitelist struct {
	set map[string]struct{}
}

// NewWhitelist builds a Whitelist from a list of exact-match substrings.
func NewWhitelist(entries []string) *Whitelist {
	w := &Whitelist{set: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		w.set[e] = struct{}{}
	}
	return w
}

// Contains reports whether s is whitelisted, whole-match, case-sensitive.
func (w *Whitelist) Contains(s string) bool {
	if w == nil {
		return false
	}
	_, ok := w.set[s]
	return ok
}

// MaskSpan walks a disjoint, Start-sorted list of entities over span.Text
// left to right, allocating a placeholder for each non-whitelisted match
// and emitting the surrounding verbatim text in between. It returns the
// resulting MaskedSpan; ctx is mutated in place.
//
// Entities MUST already be disjoint and sorted by Start (the output of
// Resolve) — MaskSpan does not re-resolve overlaps.
func MaskSpan(span TextSpan, entities []Entity, ctx *Context, wl *Whitelist) MaskedSpan {
	if len(entities) == 0 {
		return MaskedSpan{Address: span.Address, Text: span.Text}
	}

	var out []byte
	cursor := 0
	for _, e := range entities {
		if e.Start < cursor {
			continue // defensive: out-of-order/overlapping input, skip
		}
		out = append(out, span.Text[cursor:e.Start]...)

		original := span.Text[e.Start:e.End]
		if wl.Contains(original) {
			// Whitelisted: emit verbatim, no token allocated, counter untouched.
			out = append(out, original...)
		} else {
			token := ctx.Allocate(e.Category, original)
			out = append(out, token...)
		}
		cursor = e.End
	}
	out = append(out, span.Text[cursor:]...)

	return MaskedSpan{Address: span.Address, Text: string(out)}
}
