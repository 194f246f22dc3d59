package stream

import (
	"bytes"
	"strings"
	"testing"

	"ai-anonymizing-proxy/internal/pii"
	"ai-anonymizing-proxy/internal/unmask"
)

func TestSplitSafeClosedBracketIsFullySafe(t *testing.T) {
	safe, remainder := splitSafe("Hello [[PERSON_1]] there")
	if safe != "Hello [[PERSON_1]] there" || remainder != "" {
		t.Errorf("safe=%q remainder=%q", safe, remainder)
	}
}

func TestSplitSafeOpenBracketIsHeldBack(t *testing.T) {
	safe, remainder := splitSafe("Hello [[PERSON")
	if safe != "Hello " || remainder != "[[PERSON" {
		t.Errorf("safe=%q remainder=%q", safe, remainder)
	}
}

func TestSplitSafeTrailingSingleBracketIsHeldBack(t *testing.T) {
	safe, remainder := splitSafe("almost done [")
	if safe != "almost done " || remainder != "[" {
		t.Errorf("safe=%q remainder=%q", safe, remainder)
	}
}

func TestTransformReassemblesTokenSplitAcrossFrames(t *testing.T) {
	ctx := pii.NewContext()
	ctx.Allocate("PERSON", "Sarah Chen")

	input := `data: {"choices":[{"delta":{"content":"Hello [[PERSON"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"_1]] how are you"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	tr := New(ctx, unmask.Options{}, nil)
	var out bytes.Buffer
	if err := tr.Transform(&out, strings.NewReader(input)); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	got := out.String()
	if strings.Contains(got, "[[PERSON") {
		t.Errorf("output still contains a raw placeholder token: %q", got)
	}
	if !strings.Contains(got, "Hello ") {
		t.Errorf("expected first frame's safe prefix, got %q", got)
	}
	if !strings.Contains(got, "Sarah Chen how are you") {
		t.Errorf("expected reassembled unmasked text, got %q", got)
	}
	if !strings.Contains(got, "[DONE]") {
		t.Errorf("expected [DONE] sentinel passed through, got %q", got)
	}
}

func TestTransformPassesThroughCommentsAndNonDataLines(t *testing.T) {
	ctx := pii.NewContext()
	input := ": keep-alive\n\nevent: ping\ndata: {}\n\n"

	tr := New(ctx, unmask.Options{}, nil)
	var out bytes.Buffer
	if err := tr.Transform(&out, strings.NewReader(input)); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, ": keep-alive") {
		t.Errorf("comment line dropped: %q", got)
	}
	if !strings.Contains(got, "event: ping") {
		t.Errorf("event line dropped: %q", got)
	}
}

func TestTransformShowMarkersMode(t *testing.T) {
	ctx := pii.NewContext()
	ctx.Allocate("EMAIL_ADDRESS", "sarah@hospital.org")

	input := `data: {"text":"contact [[EMAIL_ADDRESS_1]] now"}` + "\n\n"

	tr := New(ctx, unmask.Options{ShowMarkers: true, MarkerText: "[protected]"}, nil)
	var out bytes.Buffer
	if err := tr.Transform(&out, strings.NewReader(input)); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "[protected] sarah@hospital.org") {
		t.Errorf("expected marker-annotated value, got %q", got)
	}
}

func TestTransformFlushesIncompletePlaceholderAtEOF(t *testing.T) {
	ctx := pii.NewContext()
	input := `data: {"text":"trailing [[INCOMPLETE"}` + "\n\n"

	tr := New(ctx, unmask.Options{}, nil)
	var out bytes.Buffer
	if err := tr.Transform(&out, strings.NewReader(input)); err != nil {
		t.Fatalf("Transform: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "[[INCOMPLETE") {
		t.Errorf("expected the unresolved fragment to be flushed literally at EOF, got %q", got)
	}
}
