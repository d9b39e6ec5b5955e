package decoder

import (
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/claimwise/internal/claim/claimtest"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/edi/encoder"
	"github.com/smallbiznis/claimwise/internal/edi/x12"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, claim domain.Claim) string {
	t.Helper()
	env := encoder.EnvelopeFromConfig(claimtest.EDIConfig(), time.Date(2024, 5, 7, 9, 30, 0, 0, time.UTC), domain.ControlNumbers{})
	out, err := encoder.New(nil).Encode(claim, env)
	require.NoError(t, err)
	return out
}

func codes(diags []x12.ParseDiagnostic) []x12.DiagnosticCode {
	out := make([]x12.DiagnosticCode, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

func TestParseIsByteExact(t *testing.T) {
	raw := encode(t, claimtest.Claim(1, 7))

	for name, input := range map[string]string{
		"compact":  raw,
		"newlines": strings.ReplaceAll(raw, "~", "~\n"),
		"crlf":     strings.ReplaceAll(raw, "~", "~\r\n"),
	} {
		t.Run(name, func(t *testing.T) {
			tree := Parse(input)
			assert.Empty(t, tree.Diagnostics())
			assert.Equal(t, input, tree.String())
		})
	}
}

func TestRoundTrip(t *testing.T) {
	claim := claimtest.Claim(1, 7)
	claim.Diagnoses = domain.AssignPointers([]string{"F80.2", "R47.1"})
	claim.ServiceLines = append(claim.ServiceLines, domain.ServiceLine{
		CPT:               "92526",
		DiagnosisPointers: []string{"B", "A"},
		Units:             1,
		ChargeCents:       10077,
		ServiceDate:       claimtest.ServiceDate.AddDate(0, 0, 1),
	})

	view, diags := ExtractClaim(Parse(encode(t, claim)))
	require.Empty(t, diags)

	subscriber := claim.Subscriber
	subscriber.Relationship = "18"

	assert.Equal(t, claim.ID.String(), view.ClaimID)
	assert.Equal(t, claim.Control, view.Control)
	assert.Equal(t, claim.BillingProvider, view.BillingProvider)
	require.NotNil(t, view.RenderingProvider)
	assert.Equal(t, claim.RenderingProvider, *view.RenderingProvider)
	assert.Equal(t, subscriber, view.Subscriber)
	assert.Equal(t, claim.Payer, view.Payer)
	assert.Equal(t, claim.PlaceOfService, view.PlaceOfService)
	assert.Equal(t, "1", view.Frequency)
	assert.Equal(t, []domain.DiagnosisCode(claim.Diagnoses), view.Diagnoses)
	assert.Equal(t, []domain.ServiceLine(claim.ServiceLines), view.ServiceLines)
	assert.Equal(t, claim.TotalCharge(), view.TotalChargeCents)
	assert.Equal(t, view.TotalChargeCents, view.LineChargeTotal())
}

func TestParseCustomDelimiters(t *testing.T) {
	raw := strings.NewReplacer("*", "|", ":", ">").Replace(encode(t, claimtest.Claim(1, 7)))

	tree := Parse(raw)
	require.Empty(t, tree.Diagnostics())
	assert.Equal(t, byte('|'), tree.Delimiters.Element)

	view, diags := ExtractClaim(tree)
	require.Empty(t, diags)
	assert.Equal(t, []string{"GN"}, view.ServiceLines[0].Modifiers)
}

func TestHierarchy(t *testing.T) {
	tree := Parse(encode(t, claimtest.Claim(1, 7)))

	require.Len(t, tree.Levels, 1)
	root := tree.Levels[0]
	assert.Equal(t, LevelBillingProvider, root.LevelCode)
	require.Len(t, root.Children, 1)
	sub := root.Children[0]
	assert.Equal(t, LevelSubscriber, sub.LevelCode)
	assert.Equal(t, "1", sub.ParentID)

	clm := tree.Find("CLM", "")
	require.Len(t, clm, 1)
	assert.Contains(t, sub.Segments, clm[0])
	assert.Equal(t, "2", tree.Segments[clm[0]].Level)

	nm85 := tree.Find("NM1", "85")
	require.Len(t, nm85, 1)
	assert.Equal(t, "1", tree.Segments[nm85[0]].Level)
	assert.Empty(t, tree.Segments[tree.Find("BHT", "")[0]].Level)

	node, ok := tree.Node("2")
	require.True(t, ok)
	assert.Same(t, sub, node)
}

func TestParseIsTolerant(t *testing.T) {
	raw := encode(t, claimtest.Claim(1, 7))
	raw = strings.Replace(raw, "DMG*", "ZZZ*1~@@*X~DMG*", 1)

	tree := Parse(raw)
	assert.Equal(t, raw, tree.String())

	zzz := tree.Find("ZZZ", "")
	require.Len(t, zzz, 1)
	assert.Equal(t, []x12.DiagnosticCode{x12.UnknownSegment}, codes(tree.Segments[zzz[0]].Diagnostics))
	assert.Equal(t, []x12.DiagnosticCode{x12.MalformedSegment}, codes(tree.Segments[zzz[0]+1].Diagnostics))

	se := tree.Find("SE", "")[0]
	assert.Equal(t, []x12.DiagnosticCode{x12.SegmentCountMismatch}, codes(tree.Segments[se].Diagnostics))

	view, diags := ExtractClaim(tree)
	assert.Empty(t, diags)
	assert.Equal(t, "1", view.ClaimID)
	assert.Equal(t, "M", view.Subscriber.Gender)
}

func TestParseEnvelopeDiagnostics(t *testing.T) {
	raw := encode(t, claimtest.Claim(1, 7))

	t.Run("control_mismatch", func(t *testing.T) {
		bad := strings.Replace(raw, "IEA*1*000000007", "IEA*1*000000008", 1)
		bad = strings.Replace(bad, "SE*27*0008", "SE*27*0009", 1)
		tree := Parse(bad)
		assert.Equal(t, []x12.DiagnosticCode{x12.ControlNumberMismatch, x12.ControlNumberMismatch}, codes(tree.Diagnostics()))
	})

	t.Run("missing_trailer", func(t *testing.T) {
		bad := raw[:strings.Index(raw, "GE*")]
		tree := Parse(bad)
		assert.Equal(t, []x12.DiagnosticCode{x12.MissingEnvelope, x12.MissingEnvelope}, codes(tree.Diagnostics()))
	})

	t.Run("no_isa", func(t *testing.T) {
		bad := raw[strings.Index(raw, "ST*"):strings.Index(raw, "GE*")]
		tree := Parse(bad)
		diags := tree.Diagnostics()
		require.NotEmpty(t, diags)
		assert.Equal(t, x12.MissingEnvelope, diags[0].Code)
		assert.Equal(t, bad, tree.String())
	})

	t.Run("unterminated", func(t *testing.T) {
		bad := strings.TrimSuffix(raw, "~")
		tree := Parse(bad)
		assert.Equal(t, []x12.DiagnosticCode{x12.MalformedSegment}, codes(tree.Diagnostics()))
		assert.Equal(t, bad, tree.String())
	})

	t.Run("hierarchy", func(t *testing.T) {
		bad := strings.Replace(raw, "HL*2*1*22*0", "HL*2*9*22*0", 1)
		tree := Parse(bad)
		assert.Equal(t, []x12.DiagnosticCode{x12.InvalidHierarchy, x12.InvalidHierarchy}, codes(tree.Diagnostics()))
	})
}

func TestExtractReportsUnreadableValues(t *testing.T) {
	raw := encode(t, claimtest.Claim(1, 7))
	raw = strings.Replace(raw, "DTP*472*D8*20240506", "DTP*472*D8*2024-05-06", 1)
	raw = strings.Replace(raw, "*91.78*UN*", "*91.7.8*UN*", 1)

	view, diags := ExtractClaim(Parse(raw))
	require.Len(t, diags, 2)
	assert.Equal(t, "SV1", diags[0].SegmentID)
	assert.Equal(t, 2, diags[0].Element)
	assert.Equal(t, "DTP", diags[1].SegmentID)
	assert.True(t, view.ServiceLines[0].ServiceDate.IsZero())
}

const ack999Accepted = "ISA*00*          *00*          *ZZ*CLEARINGHOUSE  *ZZ*CLAIMWISE      *240507*1000*^*00501*000000101*0*T*:~" +
	"GS*FA*CLEARINGHOUSE*CLAIMWISE*20240507*1000*101*X*005010X231A1~" +
	"ST*999*0001*005010X231A1~AK1*HC*7*005010X222A1~AK2*837*0008*005010X222A1~IK5*A~AK9*A*1*1*1~SE*6*0001~" +
	"GE*1*101~IEA*1*000000101~"

func TestReadAcknowledgment999(t *testing.T) {
	require.Empty(t, Parse(ack999Accepted).Diagnostics())

	ack, err := ReadAcknowledgment(ack999Accepted)
	require.NoError(t, err)
	assert.Equal(t, Acknowledgment{Transaction: Transaction999, ControlNumber: "7", Accepted: true}, ack)

	rejected := strings.Replace(ack999Accepted, "IK5*A~AK9*A*1*1*1~SE*6*0001",
		"IK3*NM1*10**8~IK4*9*67*7*MISSINGNPI~IK5*R*5~AK9*R*1*1*0~SE*8*0001", 1)
	ack, err = ReadAcknowledgment(rejected)
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, "rejected (R): segment NM1 at 10: error 8; element 9: error 7", ack.Reason)

	_, err = ReadAcknowledgment(strings.Replace(ack999Accepted, "AK1*HC*7*005010X222A1~", "", 1))
	assert.ErrorIs(t, err, ErrMalformedAck)
}

func TestReadAcknowledgment277(t *testing.T) {
	accepted := "ST*277*0001*005010X214~TRN*2*1~STC*A1:20*20240508*WQ*91.78~SE*4*0001~"
	ack, err := ReadAcknowledgment(accepted)
	require.NoError(t, err)
	assert.True(t, ack.Accepted)
	assert.Equal(t, "1", ack.ClaimID)

	rejected := "ST*277*0001*005010X214~TRN*2*1~STC*A7:562:85*20240508*U*91.78" + strings.Repeat("*", 8) + "NPI INVALID~SE*4*0001~"
	ack, err = ReadAcknowledgment(rejected)
	require.NoError(t, err)
	assert.False(t, ack.Accepted)
	assert.Equal(t, "rejected (A7): NPI INVALID", ack.Reason)

	_, err = ReadAcknowledgment("ST*837*0001~SE*2*0001~")
	assert.ErrorIs(t, err, ErrUnsupportedTransaction)
}

func TestReadRemittance(t *testing.T) {
	raw := "ST*835*0001~BPR*I*50*C*ACH~CLP*1*1*91.78*50**12*PAYERCLAIM~CLP*2*4*100*0~SE*5*0001~"
	advice, err := ReadRemittance(raw)
	require.NoError(t, err)
	require.Len(t, advice, 2)
	assert.Equal(t, RemittanceAdvice{ClaimID: "1", StatusCode: "1", ChargeCents: 9178, PaidCents: 5000}, advice[0])
	assert.True(t, advice[1].Denied())
}
