package pii

import (
	"fmt"
	"regexp"
	"sync"
)

// categoryPattern matches a well-formed category name: an uppercase letter
// followed by uppercase letters, digits, or underscores.
var categoryPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// PlaceholderGrammar matches a full placeholder token literal, e.g.
// "[[EMAIL_ADDRESS_1]]". Used by the response unmasker and the stream
// transformer to find tokens to restore.
var PlaceholderGrammar = regexp.MustCompile(`\[\[[A-Z][A-Z0-9_]*_[0-9]+\]\]`)

// Context is a mutable, request-scoped bijection between original
// substrings and the synthetic placeholder tokens that stand in for them.
// It also tracks a per-category counter so tokens are assigned in order.
//
// A Context is created fresh for each request and discarded once the
// response has been fully emitted; no mapping state is retained across
// requests (see spec Non-goals).
type Context struct {
	mu sync.Mutex

	// forward: token -> original substring.
	forward map[string]string
	// reverse: (category, original) -> token. Keyed by category+"\x00"+original
	// so two categories never collide on a shared original substring.
	reverse map[string]string
	// counters: category -> next integer to assign (1-based).
	counters map[string]int
}

// NewContext returns an empty, ready-to-use Context.
func NewContext() *Context {
	return &Context{
		forward:  make(map[string]string),
		reverse:  make(map[string]string),
		counters: make(map[string]int),
	}
}

func reverseKey(category, original string) string {
	return category + "\x00" + original
}

// Allocate returns the placeholder token for (category, original),
// allocating a fresh one if this exact pair has not been seen before in
// this context. Idempotent: repeated calls with the same arguments return
// the same token and never advance the counter again.
func (c *Context) Allocate(category, original string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	rk := reverseKey(category, original)
	if tok, ok := c.reverse[rk]; ok {
		return tok
	}

	c.counters[category]++
	n := c.counters[category]
	token := fmt.Sprintf("[[%s_%d]]", category, n)

	c.reverse[rk] = token
	c.forward[token] = original
	return token
}

// Lookup returns the original substring for a previously allocated token.
// ok is false for unknown tokens — including ones that merely look like
// placeholders but were never issued by this context.
func (c *Context) Lookup(token string) (original string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	original, ok = c.forward[token]
	return original, ok
}

// Merge unions other's mappings into c. On a (category, original) key
// conflict, c's existing mapping wins. Counters advance to the maximum of
// the two contexts, so subsequent allocations never reuse an integer.
func (c *Context) Merge(other *Context) {
	if other == nil {
		return
	}
	other.mu.Lock()
	forward := make(map[string]string, len(other.forward))
	for k, v := range other.forward {
		forward[k] = v
	}
	reverse := make(map[string]string, len(other.reverse))
	for k, v := range other.reverse {
		reverse[k] = v
	}
	counters := make(map[string]int, len(other.counters))
	for k, v := range other.counters {
		counters[k] = v
	}
	other.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range forward {
		if _, exists := c.forward[k]; !exists {
			c.forward[k] = v
		}
	}
	for k, v := range reverse {
		if _, exists := c.reverse[k]; !exists {
			c.reverse[k] = v
		}
	}
	for cat, n := range counters {
		if n > c.counters[cat] {
			c.counters[cat] = n
		}
	}
}

// Tokens returns every placeholder token allocated in this context so far,
// in no particular order.
func (c *Context) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := make([]string, 0, len(c.forward))
	for tok := range c.forward {
		tokens = append(tokens, tok)
	}
	return tokens
}

// ValidCategory reports whether s matches the category grammar
// /[A-Z][A-Z0-9_]*/.
func ValidCategory(s string) bool {
	return categoryPattern.MatchString(s)
}
