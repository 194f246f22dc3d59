// Package pii holds the core data model shared across the masking engine:
// text spans pulled from provider requests, the labelled intervals found
// inside them, and the bookkeeping that turns a redacted substring into a
// stable placeholder token and back.
package pii

import "fmt"

// AddressPart is one step of a TextSpan's structural address: either a map
// key ("messages") or an array index (0, 1, 2, ...).
type AddressPart struct {
	Key     string
	Index   int
	IsIndex bool
}

// KeyPart builds a map-key address step.
func KeyPart(key string) AddressPart { return AddressPart{Key: key} }

// IndexPart builds an array-index address step.
func IndexPart(i int) AddressPart { return AddressPart{Index: i, IsIndex: true} }

// Address is the ordered sequence of keys/indices identifying where a
// TextSpan's text lives inside the request tree, e.g.
// [Key("messages"), Index(0), Key("content")].
type Address []AddressPart

// Equal reports whether two addresses identify the same location.
func (a Address) Equal(b Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a Address) String() string {
	s := ""
	for _, p := range a {
		if p.IsIndex {
			s += fmt.Sprintf("[%d]", p.Index)
		} else {
			if s != "" {
				s += "."
			}
			s += p.Key
		}
	}
	return s
}

// TextSpan is an original piece of content extracted from a request,
// annotated with the structural address it came from.
type TextSpan struct {
	Address Address
	Text    string
}

// EntitySource distinguishes which detector produced an Entity. The masker
// never branches on it; it exists for diagnostics only.
type EntitySource string

// Entity sources.
const (
	SourceDetector EntitySource = "detector"
	SourceScanner  EntitySource = "scanner"
)

// Entity is a labelled half-open interval [Start, End) over a TextSpan's
// text, with a category name and a confidence score in [0, 1].
type Entity struct {
	Category string
	Start    int
	End      int
	Score    float64
	Source   EntitySource
}

// Len returns the interval's length in runes-as-bytes (End - Start).
func (e Entity) Len() int { return e.End - e.Start }

// Overlaps reports whether e and o's intervals share any byte position.
// Touching at a single point (e.End == o.Start) does not count.
func (e Entity) Overlaps(o Entity) bool {
	return e.Start < o.End && o.Start < e.End
}

// Touches reports whether e and o's intervals overlap OR meet at a single
// point (e.End == o.Start or o.End == e.Start).
func (e Entity) Touches(o Entity) bool {
	return e.Start <= o.End && o.Start <= e.End
}

// MaskedSpan is a TextSpan whose text has been rewritten, carrying the
// same address as the span it replaces.
type MaskedSpan struct {
	Address Address
	Text    string
}
