// Package decoder parses raw X12 text into a segment tree with per-segment
// diagnostics. Parsing is tolerant and never mutates claim state.
package decoder

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/claimwise/internal/edi/x12"
)

// Segment is one parsed segment with its exact source text.
type Segment struct {
	x12.Segment
	Index       int                   `json:"index"`
	Raw         string                `json:"-"`
	Terminated  bool                  `json:"-"`
	Level       string                `json:"level,omitempty"`
	Diagnostics []x12.ParseDiagnostic `json:"diagnostics,omitempty"`
}

// HLNode is one hierarchical level. Segments lists the indexes of the
// segments owned by the level, starting with the HL itself.
type HLNode struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	LevelCode   string    `json:"level_code"`
	HasChildren bool      `json:"has_children"`
	Segments    []int     `json:"segments"`
	Children    []*HLNode `json:"children,omitempty"`
}

const (
	LevelBillingProvider = "20"
	LevelSubscriber      = "22"
	LevelPatient         = "23"
)

type SegmentTree struct {
	Delimiters x12.Delimiters `json:"-"`
	Segments   []Segment      `json:"segments"`
	Levels     []*HLNode      `json:"levels,omitempty"`
	Trailer    string         `json:"-"`

	nodes map[string]*HLNode
}

// Diagnostics returns every segment diagnostic in segment order.
func (t *SegmentTree) Diagnostics() []x12.ParseDiagnostic {
	var out []x12.ParseDiagnostic
	for _, seg := range t.Segments {
		out = append(out, seg.Diagnostics...)
	}
	return out
}

// String reassembles the source text.
func (t *SegmentTree) String() string {
	var b strings.Builder
	for _, seg := range t.Segments {
		b.WriteString(seg.Raw)
		if seg.Terminated {
			b.WriteByte(t.Delimiters.Segment)
		}
	}
	b.WriteString(t.Trailer)
	return b.String()
}

// Node returns the HL level with the given id.
func (t *SegmentTree) Node(id string) (*HLNode, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

// Find returns the indexes of segments with the id and optional qualifier.
func (t *SegmentTree) Find(id, qualifier string) []int {
	var out []int
	for _, seg := range t.Segments {
		if seg.Is(id, qualifier) {
			out = append(out, seg.Index)
		}
	}
	return out
}

// Replace swaps the segment at index, keeping its leading whitespace, and
// returns the reassembled text. The tree itself is not modified.
func (t *SegmentTree) Replace(index int, seg x12.Segment) string {
	var b strings.Builder
	for _, s := range t.Segments {
		if s.Index == index {
			b.WriteString(leadingSpace(s.Raw))
			b.WriteString(seg.Encode(t.Delimiters))
		} else {
			b.WriteString(s.Raw)
		}
		if s.Terminated {
			b.WriteByte(t.Delimiters.Segment)
		}
	}
	b.WriteString(t.Trailer)
	return b.String()
}

func leadingSpace(raw string) string {
	return raw[:len(raw)-len(strings.TrimLeft(raw, " \r\n\t"))]
}

// Parse builds the segment tree. It always returns a tree; problems are
// recorded as diagnostics on the offending segments.
func Parse(raw string) *SegmentTree {
	d, hasISA := x12.DetectDelimiters(raw)
	tree := &SegmentTree{Delimiters: d, nodes: map[string]*HLNode{}}

	tokens := x12.Tokenize(raw, d)
	for i, tok := range tokens {
		text := tok.Text()
		if text == "" && i == len(tokens)-1 && !tok.Terminated {
			tree.Trailer = tok.Raw
			break
		}
		seg := Segment{Index: len(tree.Segments), Raw: tok.Raw, Terminated: tok.Terminated}
		if text != "" {
			seg.Segment = x12.Split(text, d)
		}
		tree.Segments = append(tree.Segments, seg)
	}

	p := &parser{tree: tree}
	p.checkSyntax()
	p.resolveHierarchy()
	p.checkEnvelope(hasISA)
	return tree
}

type parser struct {
	tree  *SegmentTree
	nodes []*HLNode
}

func (p *parser) flag(i int, code x12.DiagnosticCode, element int, format string, args ...any) {
	seg := &p.tree.Segments[i]
	seg.Diagnostics = append(seg.Diagnostics, x12.ParseDiagnostic{
		Code:         code,
		SegmentIndex: i,
		SegmentID:    seg.ID,
		Element:      element,
		Message:      fmt.Sprintf(format, args...),
	})
}

func (p *parser) checkSyntax() {
	for i, seg := range p.tree.Segments {
		switch {
		case seg.ID == "":
			p.flag(i, x12.MalformedSegment, 0, "empty segment")
		case !x12.ValidID(seg.ID):
			p.flag(i, x12.MalformedSegment, 0, "invalid segment id %q", seg.ID)
		case !x12.Known(seg.ID):
			p.flag(i, x12.UnknownSegment, 0, "segment %s is not recognized", seg.ID)
		}
		if !seg.Terminated && seg.ID != "" {
			p.flag(i, x12.MalformedSegment, 0, "missing segment terminator")
		}
	}
}

// resolveHierarchy links HL segments into a tree and assigns every segment
// after an HL to that level. Levels reset at each ST.
func (p *parser) resolveHierarchy() {
	var current *HLNode
	warned := map[string]bool{}
	for i := range p.tree.Segments {
		seg := &p.tree.Segments[i]
		switch seg.ID {
		case "ST":
			current = nil
			p.tree.nodes = map[string]*HLNode{}
			warned = map[string]bool{}
			continue
		case "SE", "GE", "IEA", "ISA", "GS":
			current = nil
			continue
		case "HL":
			current = p.level(i, warned)
			if current == nil {
				continue
			}
		}
		if current != nil {
			seg.Level = current.ID
			if seg.ID != "HL" {
				current.Segments = append(current.Segments, i)
			}
		}
	}

	for _, node := range p.nodes {
		if node.HasChildren && len(node.Children) == 0 {
			p.flag(node.Segments[0], x12.InvalidHierarchy, 4, "level %s declares children but has none", node.ID)
		}
	}
}

func (p *parser) level(i int, warned map[string]bool) *HLNode {
	seg := p.tree.Segments[i]
	id, parentID, code := seg.Element(1), seg.Element(2), seg.Element(3)
	if id == "" {
		p.flag(i, x12.InvalidHierarchy, 1, "HL01 is required")
		return nil
	}
	if _, dup := p.tree.nodes[id]; dup {
		p.flag(i, x12.InvalidHierarchy, 1, "duplicate hierarchical id %s", id)
		return nil
	}
	if want := strconv.Itoa(len(p.tree.nodes) + 1); id != want {
		p.flag(i, x12.InvalidHierarchy, 1, "hierarchical id %s out of sequence, expected %s", id, want)
	}
	if code == "" {
		p.flag(i, x12.InvalidHierarchy, 3, "HL03 level code is required")
	}

	node := &HLNode{
		ID:          id,
		ParentID:    parentID,
		LevelCode:   code,
		HasChildren: seg.Element(4) == "1",
		Segments:    []int{i},
	}
	p.tree.nodes[id] = node
	p.nodes = append(p.nodes, node)

	if parentID == "" {
		p.tree.Levels = append(p.tree.Levels, node)
		return node
	}
	parent, ok := p.tree.nodes[parentID]
	if !ok {
		p.flag(i, x12.InvalidHierarchy, 2, "parent level %s does not precede level %s", parentID, id)
		p.tree.Levels = append(p.tree.Levels, node)
		return node
	}
	if !parent.HasChildren && !warned[parentID] {
		warned[parentID] = true
		p.flag(i, x12.InvalidHierarchy, 2, "parent level %s declares no children", parentID)
	}
	parent.Children = append(parent.Children, node)
	return node
}

type envelope struct {
	index   int
	control string
	inner   int
}

func (p *parser) checkEnvelope(hasISA bool) {
	segs := p.tree.Segments
	if len(segs) == 0 {
		return
	}
	if !hasISA {
		msg := "interchange does not open with an ISA segment"
		if segs[0].ID == "ISA" {
			msg = "ISA segment is not fixed width, default delimiters assumed"
		}
		p.flag(0, x12.MissingEnvelope, 0, "%s", msg)
	}

	var isa, gs, st *envelope
	for i, seg := range segs {
		switch seg.ID {
		case "ISA":
			if isa != nil {
				p.flag(isa.index, x12.MissingEnvelope, 0, "ISA without IEA")
			}
			isa = &envelope{index: i, control: strings.TrimSpace(seg.Element(13))}
		case "GS":
			if isa == nil {
				p.flag(i, x12.MissingEnvelope, 0, "GS outside an interchange")
			} else {
				isa.inner++
			}
			if gs != nil {
				p.flag(gs.index, x12.MissingEnvelope, 0, "GS without GE")
			}
			gs = &envelope{index: i, control: seg.Element(6)}
		case "ST":
			if gs == nil {
				p.flag(i, x12.MissingEnvelope, 0, "ST outside a functional group")
			} else {
				gs.inner++
			}
			if st != nil {
				p.flag(st.index, x12.MissingEnvelope, 0, "ST without SE")
			}
			st = &envelope{index: i, control: seg.Element(2)}
		case "SE":
			if st == nil {
				p.flag(i, x12.MissingEnvelope, 0, "SE without ST")
				continue
			}
			p.closeTransaction(i, st)
			st = nil
		case "GE":
			if gs == nil {
				p.flag(i, x12.MissingEnvelope, 0, "GE without GS")
				continue
			}
			p.closePair(i, gs, "GS06", "GE02")
			gs = nil
		case "IEA":
			if isa == nil {
				p.flag(i, x12.MissingEnvelope, 0, "IEA without ISA")
				continue
			}
			p.closePair(i, isa, "ISA13", "IEA02")
			isa = nil
		}
	}

	last := len(segs) - 1
	for _, open := range []struct {
		env *envelope
		msg string
	}{{st, "ST without SE"}, {gs, "GS without GE"}, {isa, "ISA without IEA"}} {
		if open.env != nil {
			p.flag(last, x12.MissingEnvelope, 0, "%s", open.msg)
		}
	}
}

func (p *parser) closeTransaction(i int, st *envelope) {
	se := p.tree.Segments[i]
	count := i - st.index + 1
	if se.Element(1) != strconv.Itoa(count) {
		p.flag(i, x12.SegmentCountMismatch, 1, "SE01 is %q, transaction has %d segments", se.Element(1), count)
	}
	if se.Element(2) != st.control {
		p.flag(i, x12.ControlNumberMismatch, 2, "SE02 %q does not match ST02 %q", se.Element(2), st.control)
	}
}

func (p *parser) closePair(i int, open *envelope, openName, closeName string) {
	closing := p.tree.Segments[i]
	if closing.Element(1) != strconv.Itoa(open.inner) {
		p.flag(i, x12.SegmentCountMismatch, 1, "%s01 is %q, envelope holds %d", closing.ID, closing.Element(1), open.inner)
	}
	if strings.TrimSpace(closing.Element(2)) != open.control {
		p.flag(i, x12.ControlNumberMismatch, 2, "%s %q does not match %s %q", closeName, closing.Element(2), openName, open.control)
	}
}
