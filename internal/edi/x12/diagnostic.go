package x12

import "fmt"

type DiagnosticCode string

const (
	MalformedSegment      DiagnosticCode = "MalformedSegment"
	UnknownSegment        DiagnosticCode = "UnknownSegment"
	InvalidHierarchy      DiagnosticCode = "InvalidHierarchy"
	SegmentCountMismatch  DiagnosticCode = "SegmentCountMismatch"
	ControlNumberMismatch DiagnosticCode = "ControlNumberMismatch"
	MissingEnvelope       DiagnosticCode = "MissingEnvelope"
	MissingSegment        DiagnosticCode = "MissingSegment"
)

// ParseDiagnostic flags a structural problem on one segment. It never aborts
// a parse.
type ParseDiagnostic struct {
	Code         DiagnosticCode `json:"code"`
	SegmentIndex int            `json:"segment_index"`
	SegmentID    string         `json:"segment_id,omitempty"`
	Element      int            `json:"element,omitempty"`
	Message      string         `json:"message"`
}

func (d ParseDiagnostic) Error() string {
	if d.Element > 0 {
		return fmt.Sprintf("%s at segment %d (%s%02d): %s", d.Code, d.SegmentIndex, d.SegmentID, d.Element, d.Message)
	}
	return fmt.Sprintf("%s at segment %d (%s): %s", d.Code, d.SegmentIndex, d.SegmentID, d.Message)
}
