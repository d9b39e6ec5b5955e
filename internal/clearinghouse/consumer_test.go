package clearinghouse

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type receiverSpy struct {
	byControl map[string]domain.Ack
	byRef     map[domain.ClaimRef]domain.Ack
	err       error
}

func newReceiverSpy() *receiverSpy {
	return &receiverSpy{byControl: map[string]domain.Ack{}, byRef: map[domain.ClaimRef]domain.Ack{}}
}

func (r *receiverSpy) Get(_ context.Context, id snowflake.ID) (domain.Claim, error) {
	if r.err != nil {
		return domain.Claim{}, r.err
	}
	return domain.Claim{ID: id, Revision: 4, Status: domain.ClaimStatusSubmitted}, nil
}

func (r *receiverSpy) ReceiveAck(_ context.Context, ref domain.ClaimRef, ack domain.Ack) (domain.Claim, error) {
	r.byRef[ref] = ack
	return domain.Claim{ID: ref.ID}, r.err
}

func (r *receiverSpy) ReceiveAckByControlNumber(_ context.Context, cn string, ack domain.Ack) (domain.Claim, error) {
	r.byControl[cn] = ack
	return domain.Claim{}, r.err
}

type deliverySpy struct {
	acked, nacked, requeued bool
}

func (d *deliverySpy) Ack(bool) error { d.acked = true; return nil }

func (d *deliverySpy) Nack(_ bool, requeue bool) error {
	d.nacked, d.requeued = true, requeue
	return nil
}

const ack999 = "ISA*00*          *00*          *ZZ*CLEARINGHOUSE  *ZZ*CLAIMWISE      *240507*1000*^*00501*000000101*0*T*:~" +
	"GS*FA*CLEARINGHOUSE*CLAIMWISE*20240507*1000*101*X*005010X231A1~" +
	"ST*999*0001*005010X231A1~AK1*HC*7*005010X222A1~AK2*837*0008*005010X222A1~IK5*A~AK9*A*1*1*1~SE*6*0001~" +
	"GE*1*101~IEA*1*000000101~"

func TestDecodeAck(t *testing.T) {
	msg, err := DecodeAck([]byte(`{"control_number":" 000000008 ","accepted":false,"reason":"NPI invalid"}`))
	require.NoError(t, err)
	assert.Equal(t, AckMessage{ControlNumber: "000000008", Reason: "NPI invalid"}, msg)

	msg, err = DecodeAck([]byte(`{"accepted":false,"x12":"` + ack999 + `"}`))
	require.NoError(t, err)
	assert.True(t, msg.Accepted)
	assert.Equal(t, "7", msg.ControlNumber)

	msg, err = DecodeAck([]byte(`{"x12":"ST*277*0001*005010X214~TRN*2*1~STC*A1:20*20240508*WQ*91.78~SE*4*0001~"}`))
	require.NoError(t, err)
	assert.Equal(t, "1", msg.ClaimID)
	assert.True(t, msg.Accepted)

	for _, body := range []string{`not json`, `{"accepted":true}`, `{"x12":"ST*837*0001~SE*2*0001~"}`} {
		_, err := DecodeAck([]byte(body))
		assert.ErrorIs(t, err, ErrMalformedMessage, body)
	}
}

func TestHandleRoutesByControlNumberOrClaimID(t *testing.T) {
	spy := newReceiverSpy()
	c := NewAckConsumer(nil, "claims.acks", spy, zap.NewNop(), metrics.NewNop())

	require.NoError(t, c.Handle(context.Background(), []byte(`{"control_number":"000000008","accepted":true}`)))
	assert.Equal(t, domain.Ack{Accepted: true}, spy.byControl["000000008"])

	require.NoError(t, c.Handle(context.Background(), []byte(`{"claim_id":"42","accepted":false,"reason":"denied"}`)))
	assert.Equal(t, domain.Ack{Reason: "denied"}, spy.byRef[domain.ClaimRef{ID: 42, Revision: 4}])

	err := c.Handle(context.Background(), []byte(`{"claim_id":"abc","accepted":true}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestSettle(t *testing.T) {
	c := NewAckConsumer(nil, "claims.acks", newReceiverSpy(), zap.NewNop(), nil)
	cases := map[string]struct {
		err                     error
		result                  string
		acked, nacked, requeued bool
	}{
		"applied":    {nil, ackResultApplied, true, false, false},
		"malformed":  {ErrMalformedMessage, ackResultMalformed, false, true, false},
		"not_found":  {domain.ErrClaimNotFound, ackResultDropped, false, true, false},
		"transition": {domain.ErrInvalidTransition, ackResultDropped, false, true, false},
		"database":   {errors.New("connection reset"), ackResultRetry, false, true, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d := &deliverySpy{}
			assert.Equal(t, tc.result, c.settle(d, tc.err))
			assert.Equal(t, tc.acked, d.acked)
			assert.Equal(t, tc.nacked, d.nacked)
			assert.Equal(t, tc.requeued, d.requeued)
		})
	}
}

func TestStartWithoutConnection(t *testing.T) {
	c := NewAckConsumer(nil, "claims.acks", newReceiverSpy(), nil, nil)
	assert.Error(t, c.Start(context.Background()))
	assert.NoError(t, c.Stop(context.Background()))
}

func TestDeliveryContextCorrelation(t *testing.T) {
	fromHeader := deliveryContext(context.Background(), amqp.Delivery{
		CorrelationId: "property-id",
		Headers:       amqp.Table{"x-correlation-id": "header-id"},
	})
	assert.Equal(t, "header-id", correlation.ExtractCorrelationID(fromHeader))

	fromProperty := deliveryContext(context.Background(), amqp.Delivery{CorrelationId: "property-id"})
	assert.Equal(t, "property-id", correlation.ExtractCorrelationID(fromProperty))

	generated := deliveryContext(context.Background(), amqp.Delivery{})
	assert.NotEmpty(t, correlation.ExtractCorrelationID(generated))
}

func TestHeaderCarrier(t *testing.T) {
	h := headerCarrier(amqp.Table{"traceparent": "00-abc-def-01", "attempt": int32(2)})
	assert.Equal(t, "00-abc-def-01", h.Get("Traceparent"))
	assert.Equal(t, "", h.Get("attempt"))
	assert.Equal(t, "", h.Get("missing"))

	h.Set("tracestate", "claimwise=1")
	assert.Equal(t, "claimwise=1", h.Get("tracestate"))
	assert.ElementsMatch(t, []string{"traceparent", "attempt", "tracestate"}, h.Keys())

	var empty headerCarrier
	empty.Set("k", "v")
	assert.Empty(t, empty.Keys())
}
