// Package extract provides the provider-specific request extractors: pull
// text spans out of a provider's JSON request shape, and reassemble masked
// spans back into a fresh copy of that request. Two extractors are
// provided for parity with the providers named in spec §4.6: chat
// completions and legacy text completions.
package extract

import (
	"fmt"

	"ai-anonymizing-proxy/internal/errs"
	"ai-anonymizing-proxy/internal/jsonwalk"
	"ai-anonymizing-proxy/internal/pii"
)

// Doc is a JSON request or response decoded with encoding/json into Go's
// generic representation (map[string]any, []any, string, float64, bool,
// nil). Every extractor operates on this shape so the engine never needs
// provider-specific structs for fields it doesn't care about.
type Doc = map[string]any

// setAtAddress walks doc following addr and overwrites the final step with
// text. doc must already be a value this call owns (typically a deepCopy).
func setAtAddress(doc any, addr pii.Address, text string) error {
	if len(addr) == 0 {
		return fmt.Errorf("empty address: %w", errs.ErrExtractionFailure)
	}

	cur := doc
	for _, step := range addr[:len(addr)-1] {
		next, err := descend(cur, step)
		if err != nil {
			return err
		}
		cur = next
	}

	last := addr[len(addr)-1]
	switch c := cur.(type) {
	case map[string]any:
		if last.IsIndex {
			return fmt.Errorf("expected map key, got index %d: %w", last.Index, errs.ErrExtractionFailure)
		}
		c[last.Key] = text
		return nil
	case []any:
		if !last.IsIndex {
			return fmt.Errorf("expected index, got key %q: %w", last.Key, errs.ErrExtractionFailure)
		}
		if last.Index < 0 || last.Index >= len(c) {
			return fmt.Errorf("index %d out of range: %w", last.Index, errs.ErrExtractionFailure)
		}
		c[last.Index] = text
		return nil
	default:
		return fmt.Errorf("cannot address into %T: %w", cur, errs.ErrExtractionFailure)
	}
}

// descend moves one address step into a decoded-JSON container.
func descend(cur any, step pii.AddressPart) (any, error) {
	switch c := cur.(type) {
	case map[string]any:
		if step.IsIndex {
			return nil, fmt.Errorf("expected map key, got index %d: %w", step.Index, errs.ErrExtractionFailure)
		}
		next, ok := c[step.Key]
		if !ok {
			return nil, fmt.Errorf("missing key %q: %w", step.Key, errs.ErrExtractionFailure)
		}
		return next, nil
	case []any:
		if !step.IsIndex {
			return nil, fmt.Errorf("expected index, got key %q: %w", step.Key, errs.ErrExtractionFailure)
		}
		if step.Index < 0 || step.Index >= len(c) {
			return nil, fmt.Errorf("index %d out of range: %w", step.Index, errs.ErrExtractionFailure)
		}
		return c[step.Index], nil
	default:
		return nil, fmt.Errorf("cannot descend into %T: %w", cur, errs.ErrExtractionFailure)
	}
}

// applySpans deep-copies doc and writes every masked span back at its
// address, returning the new document.
func applySpans(doc Doc, spans []pii.MaskedSpan) (Doc, error) {
	copied := jsonwalk.DeepCopy(doc).(map[string]any)
	for _, s := range spans {
		if err := setAtAddress(copied, s.Address, s.Text); err != nil {
			return nil, err
		}
	}
	return copied, nil
}
