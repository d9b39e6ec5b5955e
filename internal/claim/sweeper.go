package claim

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const sweepBatch = 200

type pendingAckExpirer interface {
	ExpirePendingAcks(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// AckSweeper periodically moves claims whose acknowledgment never arrived
// from Submitted to Error.
type AckSweeper struct {
	claims   pendingAckExpirer
	clock    clock.Clock
	log      *zap.Logger
	timeout  time.Duration
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAckSweeper(claims pendingAckExpirer, clk clock.Clock, log *zap.Logger, timeout, interval time.Duration) *AckSweeper {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &AckSweeper{
		claims:   claims,
		clock:    clk,
		log:      log.Named("claim.ack_sweeper"),
		timeout:  timeout,
		interval: interval,
	}
}

// Sweep expires every claim past the timeout, in batches, and returns how
// many moved.
func (s *AckSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().Add(-s.timeout)
	total := 0
	for {
		n, err := s.claims.ExpirePendingAcks(ctx, cutoff, sweepBatch)
		total += n
		if err != nil || n < sweepBatch {
			return total, err
		}
	}
}

func (s *AckSweeper) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("acknowledgment sweeper started",
		zap.Duration("timeout", s.timeout),
		zap.Duration("interval", s.interval),
	)
	return nil
}

func (s *AckSweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				s.log.Error("expire pending acknowledgments", zap.Error(err))
			}
			if n > 0 {
				s.log.Warn("claims moved to error without acknowledgment", zap.Int("count", n))
			}
		}
	}
}

func (s *AckSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sweeperParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Claims    domain.Service
	Clock     clock.Clock `optional:"true"`
	Log       *zap.Logger
}

func registerAckSweeper(p sweeperParams) {
	cfg := p.Config.Clearinghouse
	if cfg.AckTimeout <= 0 {
		return
	}
	sweeper := NewAckSweeper(p.Claims, p.Clock, p.Log, cfg.AckTimeout, cfg.AckSweepInterval)
	p.Lifecycle.Append(fx.Hook{
		OnStart: sweeper.Start,
		OnStop:  sweeper.Stop,
	})
}
