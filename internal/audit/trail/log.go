// Package trail is the append-only, capacity-bounded audit ring. Entries are
// sealed before they are stored in memory or written to the store.
package trail

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/claimwise/internal/actorcontext"
	"github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	DefaultCapacity      = 1000
	DefaultFallbackLimit = 1000
)

type Options struct {
	Capacity      int
	CompactEvery  int
	FallbackLimit int
	// KeyConfigured is false when the sealer runs on an ephemeral key.
	KeyConfigured bool
	// OnDegraded is called, under the write lock, whenever a record cannot be
	// persisted.
	OnDegraded func(ctx context.Context, err error)
}

type Log struct {
	mu sync.RWMutex

	sealer  *Sealer
	store   domain.Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
	opts    Options
	entropy io.Reader

	ring  []domain.Record
	start int
	size  int
	seq   uint64
	last  []byte

	fallback []domain.Record
	dropped  int
	appends  int
}

func New(sealer *Sealer, store domain.Store, clk clock.Clock, log *zap.Logger, m *metrics.Metrics, opts Options) *Log {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.FallbackLimit <= 0 {
		opts.FallbackLimit = DefaultFallbackLimit
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{
		sealer:  sealer,
		store:   store,
		clock:   clk,
		log:     log.Named("audit.trail"),
		metrics: m,
		opts:    opts,
		entropy: ulid.Monotonic(rand.Reader, 0),
		ring:    make([]domain.Record, opts.Capacity),
	}
}

// Append seals entry, stores it in the ring and persists it. A persistence
// failure keeps the record in the fallback buffer and returns
// ErrAuditDegraded; the entry is still part of the log.
func (l *Log) Append(ctx context.Context, entry domain.Entry) (domain.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), l.entropy)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("audit entry id: %w", err)
	}
	entry.ID = id.String()
	entry.Sequence = l.seq + 1
	entry.Timestamp = now
	entry.Metadata = copyMetadata(entry.Metadata)

	rec, err := l.sealer.Seal(entry, l.last)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("seal audit entry: %w", err)
	}
	l.seq = entry.Sequence
	l.last = rec.Chain
	l.push(rec)
	l.metrics.IncAuditAppend()

	// The write outlives the caller: a cancelled request still leaves its
	// audit record behind.
	ctx = context.WithoutCancel(ctx)
	if err := l.persist(ctx, rec); err != nil {
		return entry, err
	}

	l.appends++
	if l.opts.CompactEvery > 0 && l.appends%l.opts.CompactEvery == 0 {
		l.compact(ctx)
	}
	return entry, nil
}

func (l *Log) persist(ctx context.Context, rec domain.Record) error {
	if l.store == nil {
		return nil
	}
	if err := l.flush(ctx); err != nil {
		l.buffer(rec)
		return l.degraded(ctx, err)
	}
	if err := l.store.Append(ctx, rec); err != nil {
		l.buffer(rec)
		return l.degraded(ctx, err)
	}
	return nil
}

// flush writes pending fallback records oldest first.
func (l *Log) flush(ctx context.Context) error {
	if len(l.fallback) == 0 {
		return nil
	}
	flushed := 0
	for len(l.fallback) > 0 {
		if err := l.store.Append(ctx, l.fallback[0]); err != nil {
			l.metrics.SetAuditPending(len(l.fallback))
			return err
		}
		l.fallback = l.fallback[1:]
		flushed++
	}
	l.fallback = nil
	l.metrics.SetAuditPending(0)
	l.log.Info("audit fallback buffer flushed", zap.Int("records", flushed))
	return nil
}

func (l *Log) buffer(rec domain.Record) {
	if len(l.fallback) >= l.opts.FallbackLimit {
		lost := l.fallback[0]
		l.fallback = l.fallback[1:]
		l.dropped++
		l.metrics.IncAuditDegraded(metrics.AuditDegradedDropped, len(l.fallback))
		l.log.Error("audit fallback buffer full, oldest record dropped",
			zap.Uint64("sequence", lost.Sequence),
			zap.Int("dropped_total", l.dropped),
		)
	}
	l.fallback = append(l.fallback, rec)
}

func (l *Log) degraded(ctx context.Context, cause error) error {
	err := fmt.Errorf("%w: %w", domain.ErrAuditDegraded, cause)
	l.metrics.IncAuditDegraded(metrics.AuditDegradedStore, len(l.fallback))
	l.log.Error("AuditDegraded: audit record kept in fallback buffer",
		zap.Int("pending", len(l.fallback)),
		zap.Uint64("sequence", l.seq),
		zap.Error(cause),
	)
	if l.opts.OnDegraded != nil {
		l.opts.OnDegraded(ctx, err)
	}
	return err
}

func (l *Log) compact(ctx context.Context) {
	if l.store == nil || l.size == 0 {
		return
	}
	oldest := l.ring[l.start].Sequence
	if err := l.store.Compact(ctx, oldest); err != nil {
		l.log.Warn("audit compaction failed", zap.Uint64("oldest_retained", oldest), zap.Error(err))
	}
}

func (l *Log) push(rec domain.Record) {
	capacity := len(l.ring)
	if l.size < capacity {
		l.ring[(l.start+l.size)%capacity] = rec
		l.size++
		return
	}
	l.ring[l.start] = rec
	l.start = (l.start + 1) % capacity
}

// snapshot copies the ring oldest first. Callers hold at least a read lock.
func (l *Log) snapshot() []domain.Record {
	out := make([]domain.Record, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.ring[(l.start+i)%len(l.ring)])
	}
	return out
}

// Read decrypts the ring oldest first after verifying the chain.
func (l *Log) Read(ctx context.Context) ([]domain.Entry, error) {
	l.mu.RLock()
	recs := l.snapshot()
	l.mu.RUnlock()

	if err := l.sealer.VerifyChain(recs); err != nil {
		return nil, err
	}
	entries := make([]domain.Entry, 0, len(recs))
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := l.sealer.Open(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Load restores the ring from the store. The stored chain must verify under
// the current key.
func (l *Log) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.Latest(ctx, len(l.ring))
	if err != nil {
		return fmt.Errorf("load audit records: %w", err)
	}
	if err := l.sealer.VerifyChain(recs); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.start, l.size = 0, 0
	for _, rec := range recs {
		l.push(rec)
	}
	if n := len(recs); n > 0 {
		l.seq = recs[n-1].Sequence
		l.last = recs[n-1].Chain
	}
	l.log.Info("audit log restored", zap.Int("records", len(recs)), zap.Uint64("sequence", l.seq))
	return nil
}

// ValidateCompliance reports on the log without writing to it.
func (l *Log) ValidateCompliance(ctx context.Context) domain.ComplianceReport {
	l.mu.RLock()
	recs := l.snapshot()
	pending := len(l.fallback)
	dropped := l.dropped
	capacity := len(l.ring)
	l.mu.RUnlock()

	_, actorResolved := actorcontext.ActorFromContext(ctx)
	report := domain.ComplianceReport{
		KeyPresent:      l.opts.KeyConfigured,
		NonEmpty:        len(recs) > 0,
		ActorResolved:   actorResolved,
		Size:            len(recs),
		Capacity:        capacity,
		WithinRetention: len(recs) <= capacity,
		Degraded:        pending > 0 || dropped > 0,
		Pending:         pending,
		Dropped:         dropped,
		ChainIntact:     l.sealer.VerifyChain(recs) == nil,
		CheckedAt:       l.clock.Now().UTC(),
	}

	issues := []struct {
		ok  bool
		msg string
	}{
		{report.KeyPresent, "encryption key is not configured"},
		{report.NonEmpty, "audit log is empty"},
		{report.ActorResolved, "no actor on the request"},
		{report.WithinRetention, "audit log exceeds its capacity"},
		{!report.Degraded, "audit records are pending or were dropped"},
		{report.ChainIntact, "audit hash chain does not verify"},
	}
	for _, issue := range issues {
		if !issue.ok {
			report.Issues = append(report.Issues, issue.msg)
		}
	}
	report.Compliant = len(report.Issues) == 0
	return report
}

// Len is the number of entries currently retained.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

func copyMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
