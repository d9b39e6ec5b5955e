// Package x12 holds the wire primitives shared by the 837P encoder, the
// segment decoder and the rebuilder: delimiters, segments, a writer and a
// tolerant tokenizer.
package x12

// ISALength is the fixed width of an ISA segment including its terminator.
const ISALength = 106

const (
	isaRepetitionAt = 82
	isaComponentAt  = 104
	isaTerminatorAt = 105
)

type Delimiters struct {
	Element    byte
	Segment    byte
	Component  byte
	Repetition byte
}

// DefaultDelimiters are the separators emitted by the encoder.
var DefaultDelimiters = Delimiters{
	Element:    '*',
	Segment:    '~',
	Component:  ':',
	Repetition: '^',
}

// DetectDelimiters reads the separators from a fixed-width ISA header. The
// second return value is false when raw does not open with a usable ISA, in
// which case DefaultDelimiters is returned.
func DetectDelimiters(raw string) (Delimiters, bool) {
	start := 0
	for start < len(raw) && isSpace(raw[start]) {
		start++
	}
	raw = raw[start:]
	if len(raw) < ISALength || raw[:3] != "ISA" {
		return DefaultDelimiters, false
	}

	d := Delimiters{
		Element:    raw[3],
		Component:  raw[isaComponentAt],
		Segment:    raw[isaTerminatorAt],
		Repetition: raw[isaRepetitionAt],
	}
	if !d.valid() || raw[isaRepetitionAt-1] != d.Element || raw[isaComponentAt-1] != d.Element {
		return DefaultDelimiters, false
	}
	return d, true
}

func (d Delimiters) valid() bool {
	seen := map[byte]bool{}
	for _, b := range []byte{d.Element, d.Segment, d.Component} {
		if b == 0 || isAlphaNum(b) || seen[b] {
			return false
		}
		seen[b] = true
	}
	return true
}

// Splits reports whether value holds a separator or line break, which would
// turn it into extra elements, components or segments on the wire.
func (d Delimiters) Splits(value string) bool {
	for i := 0; i < len(value); i++ {
		switch b := value[i]; b {
		case '\r', '\n':
			return true
		case d.Element, d.Segment, d.Component:
			if b != 0 {
				return true
			}
		default:
			if b == d.Repetition && b != 0 && !isAlphaNum(b) {
				return true
			}
		}
	}
	return false
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\r' || b == '\t'
}

func isAlphaNum(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}
