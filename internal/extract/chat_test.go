package extract

import (
	"testing"

	"ai-anonymizing-proxy/internal/pii"
	"ai-anonymizing-proxy/internal/unmask"
)

func TestChatExtractorStringContent(t *testing.T) {
	doc := Doc{
		"messages": []any{
			map[string]any{"role": "user", "content": "Email sarah@hospital.org"},
		},
	}

	spans, err := ChatExtractor{}.Extract(doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Text != "Email sarah@hospital.org" {
		t.Errorf("unexpected text: %q", spans[0].Text)
	}
	want := pii.Address{pii.KeyPart("messages"), pii.IndexPart(0), pii.KeyPart("content")}
	if !spans[0].Address.Equal(want) {
		t.Errorf("address = %v, want %v", spans[0].Address, want)
	}
}

func TestChatExtractorMultimodalContent(t *testing.T) {
	doc := Doc{
		"messages": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "text", "text": "Call 555-1234"},
					map[string]any{"type": "image_url", "image_url": map[string]any{"url": "http://x"}},
				},
			},
		},
	}

	spans, err := ChatExtractor{}.Extract(doc)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 span (image part skipped), got %d", len(spans))
	}
	want := pii.Address{
		pii.KeyPart("messages"), pii.IndexPart(0), pii.KeyPart("content"),
		pii.IndexPart(0), pii.KeyPart("text"),
	}
	if !spans[0].Address.Equal(want) {
		t.Errorf("address = %v, want %v", spans[0].Address, want)
	}
}

func TestChatExtractorMissingMessages(t *testing.T) {
	if _, err := (ChatExtractor{}).Extract(Doc{}); err == nil {
		t.Error("expected error for missing messages field")
	}
}

func TestChatExtractorApplyRoundtrip(t *testing.T) {
	doc := Doc{
		"messages": []any{
			map[string]any{"role": "user", "content": "Email sarah@hospital.org"},
		},
	}
	spans := []pii.MaskedSpan{
		{
			Address: pii.Address{pii.KeyPart("messages"), pii.IndexPart(0), pii.KeyPart("content")},
			Text:    "Email [[EMAIL_ADDRESS_1]]",
		},
	}

	out, err := ChatExtractor{}.Apply(doc, spans)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	msgs := out["messages"].([]any)
	content := msgs[0].(map[string]any)["content"].(string)
	if content != "Email [[EMAIL_ADDRESS_1]]" {
		t.Errorf("content = %q", content)
	}

	// original untouched
	origContent := doc["messages"].([]any)[0].(map[string]any)["content"].(string)
	if origContent != "Email sarah@hospital.org" {
		t.Errorf("original document was mutated: %q", origContent)
	}
}

func TestChatExtractorUnmaskResponse(t *testing.T) {
	ctx := pii.NewContext()
	ctx.Allocate("PERSON", "Sarah Chen")

	doc := Doc{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": "Hello [[PERSON_1]]"}},
		},
	}

	out := ChatExtractor{}.UnmaskResponse(doc, ctx, unmask.Options{})
	choices := out["choices"].([]any)
	content := choices[0].(map[string]any)["message"].(map[string]any)["content"].(string)
	if content != "Hello Sarah Chen" {
		t.Errorf("content = %q", content)
	}
}
