package extract

import (
	"fmt"

	"ai-anonymizing-proxy/internal/errs"
	"ai-anonymizing-proxy/internal/pii"
	"ai-anonymizing-proxy/internal/unmask"
)

// CompletionsExtractor handles the legacy completions request shape:
//
//	{"prompt": "text" | ["text", "text", ...]}
type CompletionsExtractor struct{}

func (CompletionsExtractor) Extract(doc Doc) ([]pii.TextSpan, error) {
	prompt, ok := doc["prompt"]
	if !ok {
		return nil, fmt.Errorf("prompt field missing: %w", errs.ErrExtractionFailure)
	}

	var spans []pii.TextSpan
	switch p := prompt.(type) {
	case string:
		if p == "" {
			return nil, nil
		}
		spans = append(spans, pii.TextSpan{
			Address: pii.Address{pii.KeyPart("prompt")},
			Text:    p,
		})
	case []any:
		for i, item := range p {
			s, ok := item.(string)
			if !ok || s == "" {
				continue
			}
			spans = append(spans, pii.TextSpan{
				Address: pii.Address{pii.KeyPart("prompt"), pii.IndexPart(i)},
				Text:    s,
			})
		}
	default:
		return nil, fmt.Errorf("prompt field has unsupported shape %T: %w", prompt, errs.ErrExtractionFailure)
	}
	return spans, nil
}

func (CompletionsExtractor) Apply(doc Doc, spans []pii.MaskedSpan) (Doc, error) {
	return applySpans(doc, spans)
}

func (CompletionsExtractor) UnmaskResponse(doc Doc, ctx *pii.Context, opts unmask.Options) Doc {
	return unmask.Walk(doc, ctx, opts)
}
