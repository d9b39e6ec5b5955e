package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/claimwise/internal/edi/x12"
)

var (
	ErrUnsupportedTransaction = errors.New("unsupported_transaction")
	ErrMalformedAck           = errors.New("malformed_acknowledgment")
)

const (
	Transaction999 = "999"
	Transaction277 = "277"
	Transaction835 = "835"
)

// Acknowledgment is the outcome of an implementation (999) or claim status
// (277) acknowledgment. A 999 carries the acknowledged group control number,
// a 277 the echoed CLM01 as ClaimID.
type Acknowledgment struct {
	Transaction   string `json:"transaction"`
	ControlNumber string `json:"control_number,omitempty"`
	ClaimID       string `json:"claim_id,omitempty"`
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason,omitempty"`
}

// ReadAcknowledgment reads a 999 or 277 interchange.
func ReadAcknowledgment(raw string) (Acknowledgment, error) {
	tree := Parse(raw)
	switch kind := transactionType(tree); kind {
	case Transaction999:
		return read999(tree)
	case Transaction277:
		return read277(tree)
	default:
		return Acknowledgment{}, fmt.Errorf("%w: %q", ErrUnsupportedTransaction, kind)
	}
}

func transactionType(tree *SegmentTree) string {
	for _, seg := range tree.Segments {
		if seg.ID == "ST" {
			return seg.Element(1)
		}
	}
	return ""
}

// read999 uses AK1 for the group control number and IK5/AK9 for the outcome.
// Accepted with errors (E) counts as accepted.
func read999(tree *SegmentTree) (Acknowledgment, error) {
	ack := Acknowledgment{Transaction: Transaction999}
	var status string
	var problems []string
	for _, seg := range tree.Segments {
		switch seg.ID {
		case "AK1":
			ack.ControlNumber = seg.Element(2)
		case "IK3":
			problems = append(problems, fmt.Sprintf("segment %s at %s: error %s", seg.Element(1), seg.Element(2), seg.Element(4)))
		case "IK4":
			problems = append(problems, fmt.Sprintf("element %s: error %s", seg.Element(1), seg.Element(3)))
		case "IK5":
			if status == "" {
				status = seg.Element(1)
			}
		case "AK9":
			if status == "" {
				status = seg.Element(1)
			}
		}
	}
	if ack.ControlNumber == "" || status == "" {
		return ack, fmt.Errorf("%w: 999 requires AK1 and IK5 or AK9", ErrMalformedAck)
	}

	ack.Accepted = status == "A" || status == "E"
	if !ack.Accepted {
		ack.Reason = "rejected (" + status + ")"
		if len(problems) > 0 {
			ack.Reason += ": " + strings.Join(problems, "; ")
		}
	}
	return ack, nil
}

// read277 uses the claim-level TRN and the first STC. Category codes A0, A1, A2
// and A5 mean the claim was accepted for adjudication.
func read277(tree *SegmentTree) (Acknowledgment, error) {
	ack := Acknowledgment{Transaction: Transaction277}
	d := tree.Delimiters
	var category, message string
	for _, seg := range tree.Segments {
		switch seg.ID {
		case "TRN":
			if seg.Element(1) == "2" {
				ack.ClaimID = seg.Element(2)
			}
		case "STC":
			if category == "" {
				category = seg.Component(1, 1, d)
				message = seg.Element(12)
				if message == "" {
					message = seg.Element(1)
				}
			}
		}
	}
	if category == "" {
		return ack, fmt.Errorf("%w: 277 requires STC", ErrMalformedAck)
	}

	switch category {
	case "A0", "A1", "A2", "A5":
		ack.Accepted = true
	default:
		ack.Reason = "rejected (" + category + "): " + message
	}
	return ack, nil
}

// RemittanceAdvice is one CLP claim payment from an 835.
type RemittanceAdvice struct {
	ClaimID     string `json:"claim_id"`
	StatusCode  string `json:"status_code"`
	ChargeCents int64  `json:"charge_cents"`
	PaidCents   int64  `json:"paid_cents"`
}

// Denied reports a CLP02 of 4 (denied).
func (r RemittanceAdvice) Denied() bool {
	return r.StatusCode == "4"
}

// ReadRemittance reads every CLP claim payment of an 835 interchange.
func ReadRemittance(raw string) ([]RemittanceAdvice, error) {
	tree := Parse(raw)
	if kind := transactionType(tree); kind != Transaction835 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransaction, kind)
	}
	var out []RemittanceAdvice
	for _, seg := range tree.Segments {
		if seg.ID != "CLP" {
			continue
		}
		charge, err := x12.ParseAmount(seg.Element(3))
		if err != nil {
			return nil, fmt.Errorf("CLP03 at segment %d: %w", seg.Index, err)
		}
		paid, err := x12.ParseAmount(seg.Element(4))
		if err != nil {
			return nil, fmt.Errorf("CLP04 at segment %d: %w", seg.Index, err)
		}
		out = append(out, RemittanceAdvice{
			ClaimID:     seg.Element(1),
			StatusCode:  seg.Element(2),
			ChargeCents: charge,
			PaidCents:   paid,
		})
	}
	return out, nil
}
