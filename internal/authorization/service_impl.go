package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/claimwise/internal/actorcontext"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectClaim    = "claim"
	ObjectEDI      = "edi"
	ObjectAuditLog = "audit_log"
)

const (
	ActionClaimView       = "claim.view"
	ActionClaimCreate     = "claim.create"
	ActionClaimCorrect    = "claim.correct"
	ActionClaimValidate   = "claim.validate"
	ActionClaimReady      = "claim.ready"
	ActionClaimSubmit     = "claim.submit"
	ActionClaimAck        = "claim.ack"
	ActionClaimRemittance = "claim.remittance"
	ActionClaimResubmit   = "claim.resubmit"
	ActionClaimRequeue    = "claim.requeue"
	ActionClaimExport     = "claim.export"

	ActionEDIParse    = "edi.parse"
	ActionEDIDiagnose = "edi.diagnose"
	ActionEDIFix      = "edi.fix"

	ActionAuditLogView       = "audit_log.view"
	ActionAuditLogCompliance = "audit_log.compliance"
)

const (
	RoleBiller    = "biller"
	RoleTherapist = "therapist"
	RoleAuditor   = "auditor"
	RoleSystem    = "system"
)

var knownRoles = map[string]bool{
	RoleBiller:    true,
	RoleTherapist: true,
	RoleAuditor:   true,
	RoleSystem:    true,
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer loads policies from the casbin_rule table, seeding the role
// grants on every start.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := dropActorGroupings(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor actorcontext.Actor, object string, action string) error {
	actorID := strings.TrimSpace(actor.ID)
	if actorID == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	role := strings.ToLower(strings.TrimSpace(actor.Role))
	if !knownRoles[role] {
		s.auditDenied(ctx, actorID, role, object, action)
		return fmt.Errorf("%w: %q", ErrUnknownRole, actor.Role)
	}

	// The role comes with each request, so it is enforced as the subject
	// directly and no per-actor state is stored.
	allowed, err := s.enforcer.Enforce("role:"+role, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID, role, object, action string) {
	if s.auditSvc == nil {
		return
	}
	err := s.auditSvc.AuditLog(ctx, "authorization.denied", "authorization", object, auditdomain.OutcomeRejected, map[string]any{
		"object":   object,
		"action":   action,
		"role":     role,
		"actor_id": actorID,
	})
	if err != nil {
		s.log.Warn("audit authorization denial", zap.String("action", action), zap.Error(err))
	}
}

// dropActorGroupings removes actor to role links written by earlier
// releases, which bound each actor to the last role it presented.
func dropActorGroupings(enforcer *casbin.SyncedEnforcer) error {
	rules, err := enforcer.GetGroupingPolicy()
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if len(rule) == 0 || !strings.HasPrefix(rule[0], "actor:") {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		if _, err := enforcer.RemoveGroupingPolicy(params...); err != nil {
			return err
		}
	}
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Therapists document sessions and fix their own claims.
		{"role:therapist", ObjectClaim, ActionClaimView},
		{"role:therapist", ObjectClaim, ActionClaimCreate},
		{"role:therapist", ObjectClaim, ActionClaimCorrect},
		{"role:therapist", ObjectClaim, ActionClaimValidate},

		// Billers run the whole claim lifecycle and the EDI tools.
		{"role:biller", ObjectClaim, "*"},
		{"role:biller", ObjectEDI, "*"},

		// Auditors read.
		{"role:auditor", ObjectClaim, ActionClaimView},
		{"role:auditor", ObjectClaim, ActionClaimExport},
		{"role:auditor", ObjectAuditLog, ActionAuditLogView},
		{"role:auditor", ObjectAuditLog, ActionAuditLogCompliance},

		// Background consumers and integrations.
		{"role:system", ObjectClaim, "*"},
		{"role:system", ObjectEDI, "*"},
		{"role:system", ObjectAuditLog, "*"},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy[0], policy[1], policy[2])
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	return nil
}
