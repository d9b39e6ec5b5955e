package x12

import (
	"strings"
)

// Writer accumulates segments. Trailing empty elements are dropped from every
// segment except ISA, whose sixteen elements are fixed width.
type Writer struct {
	d        Delimiters
	b        strings.Builder
	segments int
	since    int
}

func NewWriter(d Delimiters) *Writer {
	return &Writer{d: d}
}

// Segment writes id followed by its elements and the terminator.
func (w *Writer) Segment(id string, elements ...string) {
	if id != "ISA" {
		elements = trimEmpty(elements)
	}
	w.b.WriteString(id)
	for _, e := range elements {
		w.b.WriteByte(w.d.Element)
		w.b.WriteString(e)
	}
	w.b.WriteByte(w.d.Segment)
	w.segments++
	w.since++
}

// Composite joins components, dropping trailing empty ones.
func (w *Writer) Composite(components ...string) string {
	return strings.Join(trimEmpty(components), string(w.d.Component))
}

// Mark resets the segment counter used for SE01.
func (w *Writer) Mark() {
	w.since = 0
}

// SinceMark returns the segments written since the last Mark, which with
// Mark called before ST is the SE01 count once SE itself is included.
func (w *Writer) SinceMark() int {
	return w.since
}

func (w *Writer) Count() int {
	return w.segments
}

func (w *Writer) Delimiters() Delimiters {
	return w.d
}

func (w *Writer) String() string {
	return w.b.String()
}

// Pad right-pads value with spaces to width, truncating longer values.
func Pad(value string, width int) string {
	if len(value) >= width {
		return value[:width]
	}
	return value + strings.Repeat(" ", width-len(value))
}

func trimEmpty(values []string) []string {
	end := len(values)
	for end > 0 && values[end-1] == "" {
		end--
	}
	return values[:end]
}
