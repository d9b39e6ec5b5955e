package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/claim/validation"
	"github.com/smallbiznis/claimwise/internal/clearinghouse"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/codetable"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/edi/encoder"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"github.com/smallbiznis/claimwise/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const resourceClaim = "claim"

const (
	ActionCreate     = "claim.create"
	ActionCorrect    = "claim.correct"
	ActionValidate   = "claim.validate"
	ActionReady      = "claim.ready"
	ActionSubmit     = "claim.submit"
	ActionAck        = "claim.ack"
	ActionRemittance = "claim.remittance"
	ActionResubmit   = "claim.resubmit"
	ActionRequeue    = "claim.requeue"
	ActionAckTimeout = "claim.ack_timeout"
)

// Submitter hands an encoded interchange to the clearinghouse.
type Submitter interface {
	Submit(ctx context.Context, sub clearinghouse.Submission) (clearinghouse.Receipt, error)
}

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Repo      domain.Repository
	Tables    *codetable.Tables
	Payers    *config.PayerRulesHolder
	Config    config.Config
	Submitter Submitter
	AuditSvc  auditdomain.Service
	Clock     clock.Clock
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	repo      domain.Repository
	tables    *codetable.Tables
	validator *validation.Validator
	encoder   *encoder.Encoder
	payers    *config.PayerRulesHolder
	edi       config.EDIConfig
	submitter Submitter
	auditSvc  auditdomain.Service
	clock     clock.Clock
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) domain.Service {
	tables := p.Tables
	if tables == nil {
		tables = codetable.Default()
	}
	payers := p.Payers
	if payers == nil {
		payers = config.NewStaticPayerRulesHolder(config.DefaultPayerRules())
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	v := validation.New(tables)
	return &Service{
		db:  p.DB,
		log: p.Log.Named("claim.service"),

		genID:     p.GenID,
		repo:      p.Repo,
		tables:    tables,
		validator: v,
		encoder:   encoder.New(v),
		payers:    payers,
		edi:       p.Config.EDI,
		submitter: p.Submitter,
		auditSvc:  p.AuditSvc,
		clock:     clk,
		metrics:   p.Metrics,
	}
}

// Create builds a Draft claim from a completed session.
func (s *Service) Create(ctx context.Context, event domain.SessionBillingEvent) (domain.Claim, error) {
	claim, err := s.claimFromEvent(event)
	if err != nil {
		s.audit(ctx, ActionCreate, "", auditdomain.OutcomeRejected, map[string]any{
			"patient_id": event.PatientID,
			"error":      err.Error(),
		})
		return domain.Claim{}, err
	}

	if err := s.repo.Insert(ctx, s.db, &claim); err != nil {
		s.audit(ctx, ActionCreate, claim.ID.String(), auditdomain.OutcomeFailure, map[string]any{"error": err.Error()})
		return domain.Claim{}, err
	}

	s.audit(ctx, ActionCreate, claim.ID.String(), auditdomain.OutcomeSuccess, map[string]any{
		"patient_id":   claim.PatientID,
		"status":       string(claim.Status),
		"total_charge": claim.TotalCharge(),
		"lines":        len(claim.ServiceLines),
	})
	return claim, nil
}

func (s *Service) claimFromEvent(event domain.SessionBillingEvent) (domain.Claim, error) {
	if strings.TrimSpace(event.PatientID) == "" {
		return domain.Claim{}, fmt.Errorf("%w: patient_id is required", domain.ErrInvalidClaim)
	}
	if len(event.Services) == 0 {
		return domain.Claim{}, domain.ErrMissingServiceLines
	}
	if len(event.Services) > domain.MaxServiceLines {
		return domain.Claim{}, fmt.Errorf("%w: more than %d service lines", domain.ErrInvalidClaim, domain.MaxServiceLines)
	}
	if len(event.Diagnoses) == 0 {
		return domain.Claim{}, domain.ErrMissingDiagnoses
	}

	lines := make([]domain.ServiceLine, 0, len(event.Services))
	for _, svc := range event.Services {
		charge := svc.ChargeCents
		if charge == 0 {
			// Sessions without an explicit charge bill at the fee schedule rate.
			if cpt, ok := s.tables.CPT(svc.CPT); ok {
				charge = cpt.RateCents * int64(svc.Units)
			}
		}
		lines = append(lines, domain.ServiceLine{
			CPT:               codetable.NormalizeCPT(svc.CPT),
			Modifiers:         append([]string(nil), svc.Modifiers...),
			DiagnosisPointers: append([]string(nil), svc.DiagnosisPointers...),
			Units:             svc.Units,
			ChargeCents:       charge,
			ServiceDate:       svc.ServiceDate.UTC(),
		})
	}

	rendering := event.BillingProvider
	if event.RenderingProvider != nil {
		rendering = *event.RenderingProvider
	}

	now := s.clock.Now().UTC()
	return domain.Claim{
		ID:                 s.genID.Generate(),
		PatientID:          strings.TrimSpace(event.PatientID),
		SessionID:          event.SessionID,
		PlaceOfService:     event.PlaceOfService,
		OnsetDate:          event.OnsetDate,
		BillingProvider:    event.BillingProvider,
		RenderingProvider:  rendering,
		Subscriber:         event.Subscriber,
		Payer:              event.Payer,
		Diagnoses:          domain.AssignPointers(event.Diagnoses),
		ServiceLines:       lines,
		PriorAuthorization: event.PriorAuthorization,
		Status:             domain.ClaimStatusDraft,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.Claim, error) {
	claim, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.Claim{}, err
	}
	return *claim, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID string) ([]domain.Claim, error) {
	items, err := s.repo.ListByPatient(ctx, s.db, patientID)
	if err != nil {
		return nil, err
	}
	claims := make([]domain.Claim, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		claims = append(claims, *item)
	}
	return claims, nil
}

// Correct patches an editable claim. A Validated claim returns to Draft and
// must be validated again.
func (s *Service) Correct(ctx context.Context, ref domain.ClaimRef, req domain.CorrectClaimRequest) (domain.Claim, error) {
	var from domain.ClaimStatus
	claim, err := s.mutate(ctx, ref, func(claim *domain.Claim) error {
		if req.Empty() {
			return fmt.Errorf("%w: no changes", domain.ErrInvalidClaim)
		}
		if !claim.Status.Editable() {
			return notEditable(claim.Status)
		}
		if err := applyCorrection(claim, req); err != nil {
			return err
		}
		from = claim.Status
		claim.Status = domain.ClaimStatusDraft
		claim.Version++
		return nil
	})
	if err != nil {
		s.auditErr(ctx, ActionCorrect, ref, err, nil)
		return claim, err
	}
	if from != claim.Status {
		s.metrics.IncTransition(from, claim.Status)
	}
	s.audit(ctx, ActionCorrect, ref.ID.String(), auditdomain.OutcomeSuccess, map[string]any{
		"from":    string(from),
		"to":      string(claim.Status),
		"version": claim.Version,
	})
	return claim, nil
}

func applyCorrection(claim *domain.Claim, req domain.CorrectClaimRequest) error {
	if req.PlaceOfService != nil {
		claim.PlaceOfService = *req.PlaceOfService
	}
	if req.Subscriber != nil {
		claim.Subscriber = *req.Subscriber
	}
	if req.BillingProvider != nil {
		claim.BillingProvider = *req.BillingProvider
	}
	if req.RenderingProvider != nil {
		claim.RenderingProvider = *req.RenderingProvider
	}
	if req.Payer != nil {
		claim.Payer = *req.Payer
	}
	if req.Diagnoses != nil {
		if len(req.Diagnoses) == 0 {
			return domain.ErrMissingDiagnoses
		}
		claim.Diagnoses = domain.AssignPointers(req.Diagnoses)
	}
	if req.ServiceLines != nil {
		if len(req.ServiceLines) == 0 {
			return domain.ErrMissingServiceLines
		}
		if len(req.ServiceLines) > domain.MaxServiceLines {
			return fmt.Errorf("%w: more than %d service lines", domain.ErrInvalidClaim, domain.MaxServiceLines)
		}
		claim.ServiceLines = append([]domain.ServiceLine(nil), req.ServiceLines...)
	}
	if req.PriorAuthorization != nil {
		auth := *req.PriorAuthorization
		claim.PriorAuthorization = &auth
	}
	return nil
}

// mutate loads the claim at ref, applies fn and persists the result under an
// optimistic revision check. The returned claim is the stored state on error.
func (s *Service) mutate(ctx context.Context, ref domain.ClaimRef, fn func(*domain.Claim) error) (domain.Claim, error) {
	return s.mutateTx(ctx, ref, func(_ *gorm.DB, claim *domain.Claim) error { return fn(claim) })
}

// mutateTx is mutate for callbacks that read inside the same transaction.
func (s *Service) mutateTx(ctx context.Context, ref domain.ClaimRef, fn func(*gorm.DB, *domain.Claim) error) (domain.Claim, error) {
	var out domain.Claim
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		claim, err := s.load(ctx, tx, ref)
		if err != nil {
			return err
		}
		out = *claim
		if err := fn(tx, claim); err != nil {
			return err
		}
		claim.UpdatedAt = s.clock.Now().UTC()
		if err := s.repo.Update(ctx, tx, claim, ref.Revision); err != nil {
			return err
		}
		out = *claim
		return nil
	})
	return out, err
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, ref domain.ClaimRef) (*domain.Claim, error) {
	if ref.ID == 0 {
		return nil, domain.ErrClaimNotFound
	}
	claim, err := s.repo.FindByID(ctx, tx, ref.ID)
	if err != nil {
		return nil, err
	}
	if claim.Revision != ref.Revision {
		return nil, fmt.Errorf("%w: claim %s is at revision %d, not %d",
			domain.ErrConcurrentModification, claim.ID, claim.Revision, ref.Revision)
	}
	return claim, nil
}

// transition moves claim to the next status when the lifecycle allows it.
func transition(claim *domain.Claim, to domain.ClaimStatus) error {
	if claim.Status.IsTerminal() {
		return fmt.Errorf("%w: claim is %s", domain.ErrClaimImmutable, claim.Status)
	}
	if !domain.CanTransition(claim.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, claim.Status, to)
	}
	claim.Status = to
	return nil
}

func notEditable(status domain.ClaimStatus) error {
	if status.IsTerminal() {
		return fmt.Errorf("%w: claim is %s", domain.ErrClaimImmutable, status)
	}
	return fmt.Errorf("%w: claim is %s", domain.ErrInvalidTransition, status)
}

// audit records one entry. The write outlives ctx, and a degraded audit log
// never fails the claim operation.
func (s *Service) audit(ctx context.Context, action, resourceID string, outcome auditdomain.Outcome, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.AuditLog(context.WithoutCancel(ctx), action, resourceClaim, resourceID, outcome, metadata); err != nil {
		if errors.Is(err, auditdomain.ErrAuditDegraded) {
			return
		}
		ctxlogger.WithContext(ctx, s.log).Error("audit write failed",
			zap.String("action", action),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
	}
}

func (s *Service) auditErr(ctx context.Context, action string, ref domain.ClaimRef, err error, metadata map[string]any) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["error"] = err.Error()
	metadata["revision"] = ref.Revision
	s.audit(ctx, action, ref.ID.String(), outcomeFor(err), metadata)
}

// outcomeFor separates business rejections from infrastructure failures.
func outcomeFor(err error) auditdomain.Outcome {
	switch {
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrClaimImmutable),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrClaimNotFound),
		errors.Is(err, domain.ErrInvalidClaim),
		errors.Is(err, domain.ErrMissingDiagnoses),
		errors.Is(err, domain.ErrMissingServiceLines),
		errors.Is(err, domain.ErrInvalidRemittance),
		errors.Is(err, domain.ErrInvalidControlNumber),
		errors.Is(err, encoder.ErrEncoding):
		return auditdomain.OutcomeRejected
	default:
		return auditdomain.OutcomeFailure
	}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}
