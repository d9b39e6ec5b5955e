package audit

import (
	"context"

	"github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/audit/repository"
	"github.com/smallbiznis/claimwise/internal/audit/service"
	"github.com/smallbiznis/claimwise/internal/audit/trail"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewStore),
	fx.Provide(NewTrail),
	fx.Provide(service.NewService),
	fx.Invoke(registerHooks),
)

type TrailParams struct {
	fx.In

	Config  config.Config
	Store   domain.Store
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// NewTrail builds the audit ring. Without a configured key an ephemeral one
// is generated; the compliance report then flags the missing key.
func NewTrail(p TrailParams) (*trail.Log, error) {
	key, err := trail.ParseKey(p.Config.Audit.EncryptionKey)
	if err != nil {
		return nil, err
	}
	configured := key != nil
	if !configured {
		if p.Config.IsProduction() {
			p.Log.Error("AUDIT_ENCRYPTION_KEY is not set; audit records will not survive a restart")
		} else {
			p.Log.Warn("AUDIT_ENCRYPTION_KEY is not set, using an ephemeral key")
		}
		if key, err = trail.GenerateKey(); err != nil {
			return nil, err
		}
	}
	sealer, err := trail.NewSealer(key)
	if err != nil {
		return nil, err
	}
	return trail.New(sealer, p.Store, p.Clock, p.Log, p.Metrics, trail.Options{
		Capacity:      p.Config.Audit.Capacity,
		CompactEvery:  p.Config.Audit.CompactEvery,
		FallbackLimit: p.Config.Audit.FallbackLimit,
		KeyConfigured: configured,
	}), nil
}

// registerHooks restores the ring on start. A chain that does not verify
// under the current key is logged and the ring starts empty.
func registerHooks(lc fx.Lifecycle, l *trail.Log, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := l.Load(ctx); err != nil {
				log.Named("audit").Error("audit log not restored", zap.Error(err))
			}
			return nil
		},
	})
}
