package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"ai-anonymizing-proxy/internal/errs"
	"ai-anonymizing-proxy/internal/jsonwalk"
	"ai-anonymizing-proxy/internal/metrics"
	"ai-anonymizing-proxy/internal/pii"
	"ai-anonymizing-proxy/internal/unmask"
)

// Transformer unmasks placeholder tokens found in a chunked SSE response
// body, using ctx to resolve tokens back to their original values. A
// Transformer is single-use: construct one per response stream.
type Transformer struct {
	ctx     *pii.Context
	opts    unmask.Options
	metrics *metrics.Metrics

	reframer *reframer
	carry    map[string]string // per-field-path carry-over suffix
}

// New creates a Transformer bound to ctx, the PlaceholderContext built for
// the request that produced this response. m may be nil to disable
// metrics collection.
func New(ctx *pii.Context, opts unmask.Options, m *metrics.Metrics) *Transformer {
	return &Transformer{
		ctx:      ctx,
		opts:     opts,
		metrics:  m,
		reframer: newReframer(),
		carry:    make(map[string]string),
	}
}

// Transform copies src to dst, unmasking placeholder tokens in every
// text-bearing field of every SSE frame's JSON payload along the way. It
// returns once src is exhausted or a read or write fails; when src ends or
// fails, any remaining partial frame and carry-over text are flushed first.
//
// A write error to dst returns an error wrapping errs.ErrStreamAborted; a
// read error from src (other than io.EOF) does the same.
func (t *Transformer) Transform(dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			for _, fr := range t.reframer.write(buf[:n]) {
				if err := t.emitFrame(dst, fr, false); err != nil {
					return err
				}
			}
		}
		if readErr != nil {
			if fr, ok := t.reframer.flush(); ok {
				if err := t.emitFrame(dst, fr, true); err != nil {
					return err
				}
			}
			t.flushCarry(dst) //nolint:errcheck // best-effort final flush
			if readErr == io.EOF {
				return nil
			}
			return fmt.Errorf("read upstream stream: %v: %w", readErr, errs.ErrStreamAborted)
		}
	}
}

// emitFrame unmasks one SSE frame's "data:" lines and writes the result to
// dst, followed by the frame's blank-line terminator (unless final is
// true, since a flushed trailing partial frame had no terminator in the
// original stream).
func (t *Transformer) emitFrame(dst io.Writer, fr frame, final bool) error {
	lines := bytes.Split(fr.raw, []byte("\n"))
	var out bytes.Buffer
	for i, line := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		out.Write(t.processLine(line))
	}
	if !final {
		out.WriteString("\n\n")
	}
	if _, err := dst.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write downstream: %v: %w", err, errs.ErrStreamAborted)
	}
	if t.metrics != nil {
		t.metrics.StreamFramesRewired.Add(1)
	}
	return nil
}

// processLine rewrites a single SSE line. Comment lines (":...") and
// non-"data:" field lines pass through unchanged.
func (t *Transformer) processLine(line []byte) []byte {
	s := string(line)
	if s == "" || s[0] == ':' {
		return line
	}
	if !strings.HasPrefix(s, "data:") {
		return line
	}

	payload := strings.TrimSpace(strings.TrimPrefix(s, "data:"))
	if payload == "" || payload == "[DONE]" {
		return line
	}

	var doc any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		// Not a JSON payload we can walk; pass through unchanged.
		return line
	}

	rewritten := jsonwalk.WalkStringsAddressed(doc, "", t.processLeaf)

	out, err := json.Marshal(rewritten)
	if err != nil {
		return line // re-serialization failure: emit original, never corrupt the stream
	}
	return append([]byte("data: "), out...)
}

// processLeaf applies the carry-over-aware safe-prefix unmask to one
// string leaf at path, updating t.carry[path] with whatever suffix cannot
// yet be emitted safely.
func (t *Transformer) processLeaf(path, s string) string {
	combined := t.carry[path] + s
	safe, remainder := splitSafe(combined)
	t.carry[path] = remainder
	return unmask.Text(safe, t.ctx, t.opts)
}

// flushCarry emits every still-pending carry-over buffer through dst as a
// synthetic trailing text, used once the stream has ended and no further
// bytes can arrive to close a dangling "[[". This mirrors the teacher's
// end-of-stream flush of its own text accumulator.
func (t *Transformer) flushCarry(dst io.Writer) error {
	for path, pending := range t.carry {
		if pending == "" {
			continue
		}
		if t.metrics != nil {
			t.metrics.StreamIncompleteFlush.Add(1)
		}
		resolved := unmask.Text(pending, t.ctx, t.opts)
		synth := map[string]any{"path": path, "text": resolved}
		b, err := json.Marshal(synth)
		if err != nil {
			continue
		}
		if _, err := dst.Write(append([]byte("data: "), append(b, '\n', '\n')...)); err != nil {
			return fmt.Errorf("write trailing flush: %v: %w", err, errs.ErrStreamAborted)
		}
		delete(t.carry, path)
	}
	return nil
}

// splitSafe splits s into a prefix that is safe to emit now (contains no
// possibly-truncated placeholder opening) and a remainder to carry over.
//
// Per spec §4.9: scan right-to-left for the last "[[". If none is found,
// the whole string is safe. If that "[[" is not followed by a "]]", the
// safe prefix ends at its position — everything from there on might be
// the start of a "[[CATEGORY_N]]" token split across a chunk boundary. If
// it is followed by "]]", the token it opens is complete and, as far as
// that pair goes, the whole string is safe.
//
// A lone trailing "[" not itself part of a "[[" pair is also held back,
// since the very next byte to arrive could be the second "[" of a token
// opening.
func splitSafe(s string) (safe, remainder string) {
	if idx := strings.LastIndex(s, "[["); idx != -1 {
		if tail := s[idx:]; !strings.Contains(tail, "]]") {
			return s[:idx], s[idx:]
		}
	}
	if n := len(s); n > 0 && s[n-1] == '[' && (n < 2 || s[n-2] != '[') {
		return s[:n-1], s[n-1:]
	}
	return s, ""
}
