package extract

import (
	"fmt"

	"ai-anonymizing-proxy/internal/errs"
	"ai-anonymizing-proxy/internal/pii"
	"ai-anonymizing-proxy/internal/unmask"
)

// ChatExtractor handles the chat completions request shape:
//
//	{"messages": [{"role": "...", "content": "text" | [part, ...]}, ...]}
//
// Each part is either {"type": "text", "text": "..."} or a non-text part
// (e.g. "image_url") that is left untouched. Only "text" parts contribute
// spans.
type ChatExtractor struct{}

func (ChatExtractor) Extract(doc Doc) ([]pii.TextSpan, error) {
	messages, ok := doc["messages"].([]any)
	if !ok {
		return nil, fmt.Errorf("messages field missing or not an array: %w", errs.ErrExtractionFailure)
	}

	var spans []pii.TextSpan
	for i, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"]
		if !ok {
			continue
		}

		switch c := content.(type) {
		case string:
			if c == "" {
				continue
			}
			spans = append(spans, pii.TextSpan{
				Address: pii.Address{pii.KeyPart("messages"), pii.IndexPart(i), pii.KeyPart("content")},
				Text:    c,
			})
		case []any:
			for j, p := range c {
				part, ok := p.(map[string]any)
				if !ok {
					continue
				}
				if t, _ := part["type"].(string); t != "text" {
					continue
				}
				text, ok := part["text"].(string)
				if !ok || text == "" {
					continue
				}
				spans = append(spans, pii.TextSpan{
					Address: pii.Address{
						pii.KeyPart("messages"), pii.IndexPart(i), pii.KeyPart("content"),
						pii.IndexPart(j), pii.KeyPart("text"),
					},
					Text: text,
				})
			}
		}
	}
	return spans, nil
}

func (ChatExtractor) Apply(doc Doc, spans []pii.MaskedSpan) (Doc, error) {
	return applySpans(doc, spans)
}

func (ChatExtractor) UnmaskResponse(doc Doc, ctx *pii.Context, opts unmask.Options) Doc {
	return unmask.Walk(doc, ctx, opts)
}
