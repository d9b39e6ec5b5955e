package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/claimwise/internal/actorcontext"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/audit/masking"
	"github.com/smallbiznis/claimwise/internal/audit/trail"
	"github.com/smallbiznis/claimwise/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type Params struct {
	fx.In

	Log   *zap.Logger
	Trail *trail.Log
}

type Service struct {
	log   *zap.Logger
	trail *trail.Log
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		log:   p.Log.Named("audit.service"),
		trail: p.Trail,
	}
}

// AuditLog appends one entry for the actor on ctx. A degraded store is
// reported through the returned error; the entry is retained either way.
func (s *Service) AuditLog(ctx context.Context, action, resourceType, resourceID string, outcome auditdomain.Outcome, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}
	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		resourceType = "unknown"
	}
	if outcome == "" {
		outcome = auditdomain.OutcomeSuccess
	}

	actor := actorcontext.ActorOrSystem(ctx)
	payload := masking.MaskPHI(metadata)
	if cid := correlation.ExtractCorrelationID(ctx); cid != "" {
		if payload == nil {
			payload = map[string]any{}
		}
		payload["correlation_id"] = cid
	}

	_, err := s.trail.Append(ctx, auditdomain.Entry{
		ActorID:      actor.ID,
		SessionID:    actor.SessionID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   strings.TrimSpace(resourceID),
		Outcome:      outcome,
		Metadata:     payload,
	})
	if err != nil {
		if errors.Is(err, auditdomain.ErrAuditDegraded) {
			s.log.Warn("audit entry kept in memory only",
				zap.String("action", action),
				zap.String("resource_id", resourceID),
				zap.Error(err),
			)
		} else {
			s.log.Error("failed to write audit log", zap.String("action", action), zap.Error(err))
		}
		return err
	}
	return nil
}

// List returns matching entries newest first.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	entries, err := s.trail.Read(ctx)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	action := strings.TrimSpace(req.Action)
	resourceType := strings.TrimSpace(req.ResourceType)
	resourceID := strings.TrimSpace(req.ResourceID)

	out := make([]auditdomain.Entry, 0, limit)
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := entries[i]
		if action != "" && e.Action != action {
			continue
		}
		if resourceType != "" && e.ResourceType != resourceType {
			continue
		}
		if resourceID != "" && e.ResourceID != resourceID {
			continue
		}
		out = append(out, e)
	}
	return auditdomain.ListAuditLogResponse{Entries: out}, nil
}

func (s *Service) Compliance(ctx context.Context) auditdomain.ComplianceReport {
	return s.trail.ValidateCompliance(ctx)
}
