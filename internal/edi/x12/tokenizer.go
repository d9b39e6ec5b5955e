package x12

import "strings"

// Token is the exact text of one segment. Raw keeps any whitespace between
// the previous terminator and the segment so that joining Raw values with
// the terminator reproduces the input.
type Token struct {
	Raw        string
	Offset     int
	Terminated bool
}

// Text is Raw without surrounding line breaks or padding.
func (t Token) Text() string {
	return strings.TrimSpace(t.Raw)
}

// Tokenize splits raw on the segment terminator. It never fails: an
// unterminated tail is returned as a token with Terminated false.
func Tokenize(raw string, d Delimiters) []Token {
	var tokens []Token
	start := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] != d.Segment {
			continue
		}
		tokens = append(tokens, Token{Raw: raw[start:i], Offset: start, Terminated: true})
		start = i + 1
	}
	if start < len(raw) {
		tokens = append(tokens, Token{Raw: raw[start:], Offset: start})
	}
	return tokens
}

// Split breaks a segment's text into its id and elements.
func Split(text string, d Delimiters) Segment {
	parts := strings.Split(text, string(d.Element))
	return Segment{ID: parts[0], Elements: parts[1:]}
}

// Segments tokenizes raw and returns the non-blank segments in order.
func Segments(raw string, d Delimiters) []Segment {
	tokens := Tokenize(raw, d)
	out := make([]Segment, 0, len(tokens))
	for _, t := range tokens {
		if text := t.Text(); text != "" {
			out = append(out, Split(text, d))
		}
	}
	return out
}
