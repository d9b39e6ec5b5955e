package authorization

import (
	"context"
	"sync"
	"testing"

	"github.com/casbin/casbin/v2"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/claimwise/internal/actorcontext"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type auditRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (a *auditRecorder) AuditLog(_ context.Context, action, _, _ string, _ auditdomain.Outcome, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
	return nil
}

func (a *auditRecorder) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (a *auditRecorder) Compliance(context.Context) auditdomain.ComplianceReport {
	return auditdomain.ComplianceReport{}
}

func newService(t *testing.T) (Service, *auditRecorder) {
	t.Helper()
	svc, audit, _ := newServiceWithEnforcer(t)
	return svc, audit
}

func newServiceWithEnforcer(t *testing.T) (Service, *auditRecorder, *casbin.SyncedEnforcer) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	enforcer, err := NewEnforcer(conn)
	require.NoError(t, err)
	audit := &auditRecorder{}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer, AuditSvc: audit}), audit, enforcer
}

func TestRoleGrants(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		role    string
		object  string
		action  string
		allowed bool
	}{
		{RoleTherapist, ObjectClaim, ActionClaimCreate, true},
		{RoleTherapist, ObjectClaim, ActionClaimCorrect, true},
		{RoleTherapist, ObjectClaim, ActionClaimSubmit, false},
		{RoleTherapist, ObjectAuditLog, ActionAuditLogView, false},
		{RoleBiller, ObjectClaim, ActionClaimSubmit, true},
		{RoleBiller, ObjectClaim, ActionClaimRemittance, true},
		{RoleBiller, ObjectEDI, ActionEDIFix, true},
		{RoleBiller, ObjectAuditLog, ActionAuditLogView, false},
		{RoleAuditor, ObjectAuditLog, ActionAuditLogCompliance, true},
		{RoleAuditor, ObjectClaim, ActionClaimView, true},
		{RoleAuditor, ObjectClaim, ActionClaimCorrect, false},
		{RoleSystem, ObjectClaim, ActionClaimAck, true},
	}
	for _, tc := range cases {
		t.Run(tc.role+"/"+tc.action, func(t *testing.T) {
			err := svc.Authorize(ctx, actorcontext.Actor{ID: "u-" + tc.role, Role: tc.role}, tc.object, tc.action)
			if tc.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestRoleIsTakenFromEachRequest(t *testing.T) {
	svc, _, enforcer := newServiceWithEnforcer(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Authorize(ctx, actorcontext.Actor{ID: "u1", Role: RoleBiller}, ObjectClaim, ActionClaimSubmit))
		}()
		go func() {
			defer wg.Done()
			err := svc.Authorize(ctx, actorcontext.Actor{ID: "u1", Role: RoleTherapist}, ObjectClaim, ActionClaimSubmit)
			assert.ErrorIs(t, err, ErrForbidden)
		}()
	}
	wg.Wait()

	groupings, err := enforcer.GetGroupingPolicy()
	require.NoError(t, err)
	assert.Empty(t, groupings)
}

func TestActorGroupingsAreDroppedOnLoad(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	first, err := NewEnforcer(conn)
	require.NoError(t, err)
	_, err = first.AddGroupingPolicy("actor:u1", "role:biller")
	require.NoError(t, err)

	second, err := NewEnforcer(conn)
	require.NoError(t, err)
	groupings, err := second.GetGroupingPolicy()
	require.NoError(t, err)
	assert.Empty(t, groupings)
}

func TestDenialsAreAudited(t *testing.T) {
	svc, audit := newService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, actorcontext.Actor{ID: "u1", Role: "janitor"}, ObjectClaim, ActionClaimView), ErrUnknownRole)
	assert.ErrorIs(t, svc.Authorize(ctx, actorcontext.Actor{ID: "u2", Role: RoleAuditor}, ObjectClaim, ActionClaimSubmit), ErrForbidden)
	assert.Equal(t, []string{"authorization.denied", "authorization.denied"}, audit.actions)
}

func TestAuthorizeRejectsIncompleteRequests(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, actorcontext.Actor{Role: RoleBiller}, ObjectClaim, ActionClaimView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, actorcontext.Actor{ID: "u1", Role: RoleBiller}, "", ActionClaimView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, actorcontext.Actor{ID: "u1", Role: RoleBiller}, ObjectClaim, " "), ErrInvalidAction)
}
