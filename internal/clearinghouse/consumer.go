package clearinghouse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/goccy/go-json"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/edi/decoder"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

var ErrMalformedMessage = errors.New("malformed_ack_message")

// AckMessage is the queue payload. When X12 carries a raw 999 or 277 its
// outcome takes precedence over Accepted and Reason.
type AckMessage struct {
	ControlNumber string `json:"control_number,omitempty"`
	ClaimID       string `json:"claim_id,omitempty"`
	Accepted      bool   `json:"accepted"`
	Reason        string `json:"reason,omitempty"`
	X12           string `json:"x12,omitempty"`
}

// AckReceiver is the part of the claim service the consumer drives.
type AckReceiver interface {
	Get(ctx context.Context, id snowflake.ID) (domain.Claim, error)
	ReceiveAck(ctx context.Context, ref domain.ClaimRef, ack domain.Ack) (domain.Claim, error)
	ReceiveAckByControlNumber(ctx context.Context, controlNumber string, ack domain.Ack) (domain.Claim, error)
}

const (
	ackResultApplied   = "applied"
	ackResultMalformed = "malformed"
	ackResultDropped   = "dropped"
	ackResultRetry     = "retry"
)

type AckConsumer struct {
	conn     *amqp.Connection
	queue    string
	prefetch int
	receiver AckReceiver
	log      *zap.Logger
	metrics  *metrics.Metrics

	mu   sync.Mutex
	ch   *amqp.Channel
	done chan struct{}
}

func NewAckConsumer(conn *amqp.Connection, queue string, receiver AckReceiver, log *zap.Logger, m *metrics.Metrics) *AckConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &AckConsumer{
		conn:     conn,
		queue:    queue,
		prefetch: 10,
		receiver: receiver,
		log:      log.Named("clearinghouse.acks"),
		metrics:  m,
	}
}

// DecodeAck turns a queue payload into the claim lookup key and outcome.
func DecodeAck(body []byte) (AckMessage, error) {
	var msg AckMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return AckMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if strings.TrimSpace(msg.X12) != "" {
		ack, err := decoder.ReadAcknowledgment(msg.X12)
		if err != nil {
			return AckMessage{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		msg.Accepted = ack.Accepted
		msg.Reason = ack.Reason
		if ack.ControlNumber != "" {
			msg.ControlNumber = ack.ControlNumber
		}
		if ack.ClaimID != "" {
			msg.ClaimID = ack.ClaimID
		}
	}
	msg.ControlNumber = strings.TrimSpace(msg.ControlNumber)
	msg.ClaimID = strings.TrimSpace(msg.ClaimID)
	if msg.ControlNumber == "" && msg.ClaimID == "" {
		return AckMessage{}, fmt.Errorf("%w: neither control_number nor claim_id", ErrMalformedMessage)
	}
	return msg, nil
}

// Handle applies one acknowledgment to its claim.
func (c *AckConsumer) Handle(ctx context.Context, body []byte) error {
	msg, err := DecodeAck(body)
	if err != nil {
		return err
	}
	ack := domain.Ack{Accepted: msg.Accepted, Reason: msg.Reason}

	if msg.ControlNumber != "" {
		_, err = c.receiver.ReceiveAckByControlNumber(ctx, msg.ControlNumber, ack)
		return err
	}
	id, err := snowflake.ParseString(msg.ClaimID)
	if err != nil {
		return fmt.Errorf("%w: claim_id %q", ErrMalformedMessage, msg.ClaimID)
	}
	claim, err := c.receiver.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = c.receiver.ReceiveAck(ctx, claim.Ref(), ack)
	return err
}

type settler interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// settle acks applied messages and drops those that can never apply.
// Everything else goes back on the queue.
func (c *AckConsumer) settle(d settler, err error) string {
	result := ackResultApplied
	switch {
	case err == nil:
		_ = d.Ack(false)
		return result
	case errors.Is(err, ErrMalformedMessage):
		result = ackResultMalformed
	case errors.Is(err, domain.ErrClaimNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrClaimImmutable),
		errors.Is(err, domain.ErrInvalidControlNumber):
		result = ackResultDropped
	default:
		_ = d.Nack(false, true)
		return ackResultRetry
	}
	_ = d.Nack(false, false)
	return result
}

// Start declares the queue and consumes it until Stop or ctx ends.
func (c *AckConsumer) Start(ctx context.Context) error {
	if c.conn == nil {
		return errors.New("amqp connection not configured")
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return err
	}
	deliveries, err := ch.Consume(c.queue, "claimwise-acks", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}

	c.mu.Lock()
	c.ch = ch
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.loop(context.WithoutCancel(ctx), deliveries, c.done)
	c.log.Info("acknowledgment consumer started", zap.String("queue", c.queue))
	return nil
}

func (c *AckConsumer) loop(ctx context.Context, deliveries <-chan amqp.Delivery, done chan struct{}) {
	defer close(done)
	for d := range deliveries {
		msgCtx := deliveryContext(ctx, d)
		err := c.Handle(msgCtx, d.Body)
		result := c.settle(d, err)
		c.metrics.IncAcknowledgement(result)
		if err != nil {
			c.log.Warn("acknowledgment not applied",
				zap.String("result", result),
				zap.Uint64("delivery_tag", d.DeliveryTag),
				zap.Error(err),
			)
		}
	}
}

// deliveryContext continues the trace and correlation id the publisher put
// in the message headers. The AMQP correlation-id property is the fallback.
func deliveryContext(ctx context.Context, d amqp.Delivery) context.Context {
	headers := headerCarrier(d.Headers)
	if headers.Get(correlation.HeaderName) == "" {
		ctx = correlation.ContextWithCorrelationID(ctx, d.CorrelationId)
	}
	return correlation.Extract(ctx, headers)
}

// headerCarrier exposes string AMQP headers to the otel propagator.
type headerCarrier amqp.Table

func (h headerCarrier) Get(key string) string {
	for k, v := range h {
		if strings.EqualFold(k, key) {
			s, _ := v.(string)
			return s
		}
	}
	return ""
}

func (h headerCarrier) Set(key, value string) {
	if h != nil {
		h[key] = value
	}
}

func (h headerCarrier) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// Stop closes the channel and waits for the in-flight delivery.
func (c *AckConsumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	ch, done := c.ch, c.done
	c.ch = nil
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	err := ch.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
