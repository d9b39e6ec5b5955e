package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/claimwise/internal/audit/domain"
	"github.com/smallbiznis/claimwise/internal/claim/claimtest"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/internal/claim/repository"
	"github.com/smallbiznis/claimwise/internal/clearinghouse"
	"github.com/smallbiznis/claimwise/internal/clock"
	"github.com/smallbiznis/claimwise/internal/config"
	"github.com/smallbiznis/claimwise/internal/edi/encoder"
	"github.com/smallbiznis/claimwise/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockSubmitter struct {
	mock.Mock
}

func (m *mockSubmitter) Submit(ctx context.Context, sub clearinghouse.Submission) (clearinghouse.Receipt, error) {
	args := m.Called(ctx, sub)
	return args.Get(0).(clearinghouse.Receipt), args.Error(1)
}

type auditEntry struct {
	Action     string
	ResourceID string
	Outcome    auditdomain.Outcome
	Metadata   map[string]any
}

type auditSpy struct {
	mu      sync.Mutex
	entries []auditEntry
	err     error
}

func (a *auditSpy) AuditLog(_ context.Context, action, _ string, resourceID string, outcome auditdomain.Outcome, metadata map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, auditEntry{Action: action, ResourceID: resourceID, Outcome: outcome, Metadata: metadata})
	return a.err
}

func (a *auditSpy) List(context.Context, auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func (a *auditSpy) Compliance(context.Context) auditdomain.ComplianceReport {
	return auditdomain.ComplianceReport{}
}

func (a *auditSpy) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func (a *auditSpy) last() auditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.entries[len(a.entries)-1]
}

type fixture struct {
	svc       *Service
	db        *gorm.DB
	submitter *mockSubmitter
	audit     *auditSpy
	clock     *clock.FakeClock
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Claim{}, &domain.ControlSequence{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		db:        conn,
		submitter: &mockSubmitter{},
		audit:     &auditSpy{},
		clock:     clock.NewFakeClock(time.Date(2024, 5, 7, 9, 30, 0, 0, time.UTC)),
	}
	f.svc = NewService(ServiceParam{
		DB:        conn,
		Log:       zap.NewNop(),
		GenID:     node,
		Repo:      repository.Provide(),
		Config:    config.Config{EDI: claimtest.EDIConfig()},
		Submitter: f.submitter,
		AuditSvc:  f.audit,
		Clock:     f.clock,
		Metrics:   metrics.NewNop(),
	}).(*Service)
	return f
}

// ready walks a fresh claim to ReadyToSubmit.
func (f *fixture) ready(t *testing.T) domain.Claim {
	t.Helper()
	return f.readyFor(t, "patient-1")
}

func (f *fixture) readyFor(t *testing.T, patientID string) domain.Claim {
	t.Helper()
	ctx := context.Background()
	claim, err := f.svc.Create(ctx, claimtest.Event(patientID))
	require.NoError(t, err)
	claim, errs, err := f.svc.Validate(ctx, claim.Ref())
	require.NoError(t, err)
	require.Empty(t, errs)
	claim, err = f.svc.MarkReadyToSubmit(ctx, claim.Ref())
	require.NoError(t, err)
	return claim
}

func (f *fixture) submitted(t *testing.T) domain.Claim {
	t.Helper()
	return f.submittedFor(t, "patient-1")
}

func (f *fixture) submittedFor(t *testing.T, patientID string) domain.Claim {
	t.Helper()
	f.submitter.On("Submit", mock.Anything, mock.Anything).Return(clearinghouse.Receipt{Attempts: 1}, nil).Once()
	claim, err := f.svc.Submit(context.Background(), f.readyFor(t, patientID).Ref())
	require.NoError(t, err)
	return claim
}

func TestLifecycleToPaid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	claim, err := f.svc.Create(ctx, claimtest.Event("patient-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusDraft, claim.Status)
	assert.Equal(t, int64(9178), claim.TotalCharge())
	assert.Equal(t, "A", claim.Diagnoses[0].Pointer)

	claim, errs, err := f.svc.Validate(ctx, claim.Ref())
	require.NoError(t, err)
	require.Empty(t, errs)
	assert.Equal(t, domain.ClaimStatusValidated, claim.Status)

	claim, err = f.svc.MarkReadyToSubmit(ctx, claim.Ref())
	require.NoError(t, err)

	f.submitter.On("Submit", mock.Anything, mock.MatchedBy(func(sub clearinghouse.Submission) bool {
		return sub.ControlNumber == "000000001" && sub.ClaimID == claim.ID.String()
	})).Return(clearinghouse.Receipt{ControlNumber: "000000001", Attempts: 1}, nil).Once()

	claim, err = f.svc.Submit(ctx, claim.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusSubmitted, claim.Status)
	assert.Equal(t, domain.NewControlNumbers(1), claim.Control)
	require.NotNil(t, claim.SubmittedAt)

	payload, err := f.svc.Encode(ctx, claim.ID)
	require.NoError(t, err)
	assert.Contains(t, payload, "SV1*HC:92507:GN*91.78*UN*1***1~")
	assert.Contains(t, payload, "HI*ABK:F802~")
	f.submitter.AssertExpectations(t)
	sent := f.submitter.Calls[0].Arguments.Get(1).(clearinghouse.Submission)
	assert.Equal(t, payload, sent.Payload)

	claim, err = f.svc.ReceiveAckByControlNumber(ctx, "000000001", domain.Ack{Accepted: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusAccepted, claim.Status)

	claim, err = f.svc.ReceiveRemittance(ctx, claim.Ref(), 8000)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusPaid, claim.Status)
	require.NotNil(t, claim.Remittance)
	assert.Equal(t, int64(1178), claim.Remittance.AdjustmentCents)
	assert.True(t, claim.Remittance.Partial)

	assert.Equal(t, []string{
		ActionCreate, ActionValidate, ActionReady, ActionSubmit, ActionAck, ActionRemittance,
	}, f.audit.actions())
}

func TestValidateSurfacesErrorsAndStaysDraft(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	event := claimtest.Event("patient-1")
	event.Diagnoses = []string{"F80.2", "F80.0"}
	event.Services[0].DiagnosisPointers = []string{"C"}
	claim, err := f.svc.Create(ctx, event)
	require.NoError(t, err)

	validated, errs, err := f.svc.Validate(ctx, claim.Ref())
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.KindDiagnosisPointerOutOfRange, errs[0].Kind)
	assert.Equal(t, domain.ClaimStatusDraft, validated.Status)
	assert.Equal(t, claim.Revision, validated.Revision)

	last := f.audit.last()
	assert.Equal(t, ActionValidate, last.Action)
	assert.Equal(t, auditdomain.OutcomeRejected, last.Outcome)

	_, errsAgain, err := f.svc.Validate(ctx, claim.Ref())
	require.NoError(t, err)
	assert.Equal(t, errs, errsAgain)
}

func TestDuplicateClaimIsCaughtAcrossClaims(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.ready(t)
	second, err := f.svc.Create(ctx, claimtest.Event("patient-1"))
	require.NoError(t, err)

	_, errs, err := f.svc.Validate(ctx, second.Ref())
	require.NoError(t, err)
	kinds := make([]domain.ValidationKind, 0, len(errs))
	for _, e := range errs {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, domain.KindDuplicateClaim)
}

func TestStaleRevisionIsRejected(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	claim, err := f.svc.Create(ctx, claimtest.Event("patient-1"))
	require.NoError(t, err)
	stale := claim.Ref()

	_, _, err = f.svc.Validate(ctx, stale)
	require.NoError(t, err)

	_, _, err = f.svc.Validate(ctx, stale)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, auditdomain.OutcomeRejected, f.audit.last().Outcome)
}

func TestNoShortcutToPaid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	claim, err := f.svc.Create(ctx, claimtest.Event("patient-1"))
	require.NoError(t, err)

	_, err = f.svc.ReceiveRemittance(ctx, claim.Ref(), 9178)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.ReceiveAck(ctx, claim.Ref(), domain.Ack{Accepted: true})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Submit(ctx, claim.Ref())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.MarkReadyToSubmit(ctx, claim.Ref())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusDraft, stored.Status)
	assert.Equal(t, claim.Revision, stored.Revision)
	assert.Len(t, f.audit.actions(), 5)
}

func TestOverpaidRemittanceSettlesWithNegativeAdjustment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	claim := f.submitted(t)
	claim, err := f.svc.ReceiveAck(ctx, claim.Ref(), domain.Ack{Accepted: true})
	require.NoError(t, err)

	_, err = f.svc.ReceiveRemittance(ctx, claim.Ref(), -1)
	assert.ErrorIs(t, err, domain.ErrInvalidRemittance)

	paid, err := f.svc.ReceiveRemittance(ctx, claim.Ref(), 9278)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusPaid, paid.Status)
	require.NotNil(t, paid.Remittance)
	assert.Equal(t, int64(9278), paid.Remittance.PaidCents)
	assert.Equal(t, int64(-100), paid.Remittance.AdjustmentCents)
	assert.True(t, paid.Remittance.Overpaid)
	assert.False(t, paid.Remittance.Partial)

	last := f.audit.last()
	assert.Equal(t, ActionRemittance, last.Action)
	assert.Equal(t, auditdomain.OutcomeSuccess, last.Outcome)
	assert.Equal(t, true, last.Metadata["overpaid"])

	_, err = f.svc.Correct(ctx, paid.Ref(), domain.CorrectClaimRequest{Diagnoses: []string{"F80.0"}})
	assert.ErrorIs(t, err, domain.ErrClaimImmutable)
}

func TestExactRemittanceHasNoAdjustment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	claim := f.submitted(t)
	claim, err := f.svc.ReceiveAck(ctx, claim.Ref(), domain.Ack{Accepted: true})
	require.NoError(t, err)

	paid, err := f.svc.ReceiveRemittance(ctx, claim.Ref(), 9178)
	require.NoError(t, err)
	assert.False(t, paid.Remittance.Partial)
	assert.False(t, paid.Remittance.Overpaid)
	assert.Zero(t, paid.Remittance.AdjustmentCents)
}

func TestDeniedClaimIsResubmittedAsNewDraft(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	claim := f.submitted(t)
	denied, err := f.svc.ReceiveAck(ctx, claim.Ref(), domain.Ack{Accepted: false, Reason: "NPI INVALID"})
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusDenied, denied.Status)
	require.NotNil(t, denied.DenialReason)
	assert.Equal(t, "NPI INVALID", *denied.DenialReason)

	_, err = f.svc.Correct(ctx, denied.Ref(), domain.CorrectClaimRequest{Diagnoses: []string{"F80.0"}})
	assert.ErrorIs(t, err, domain.ErrClaimImmutable)

	next, err := f.svc.Resubmit(ctx, denied.Ref())
	require.NoError(t, err)
	assert.NotEqual(t, denied.ID, next.ID)
	assert.Equal(t, domain.ClaimStatusDraft, next.Status)
	require.NotNil(t, next.ResubmissionOf)
	assert.Equal(t, denied.ID, *next.ResubmissionOf)
	assert.Equal(t, denied.Version+1, next.Version)
	assert.False(t, next.Control.Assigned())

	orig, err := f.svc.Get(ctx, denied.ID)
	require.NoError(t, err)
	assert.Equal(t, denied.Revision, orig.Revision)
	assert.Equal(t, domain.ClaimStatusDenied, orig.Status)

	// The replacement does not collide with the claim it replaces.
	next, errs, err := f.svc.Validate(ctx, next.Ref())
	require.NoError(t, err)
	assert.Empty(t, errs)
	next, err = f.svc.MarkReadyToSubmit(ctx, next.Ref())
	require.NoError(t, err)

	f.submitter.On("Submit", mock.Anything, mock.Anything).Return(clearinghouse.Receipt{Attempts: 1}, nil).Once()
	next, err = f.svc.Submit(ctx, next.Ref())
	require.NoError(t, err)
	payload, err := f.svc.Encode(ctx, next.ID)
	require.NoError(t, err)
	assert.Contains(t, payload, "CLM*"+next.ID.String()+"*91.78***11:B:7*Y*A*Y*Y~")
	assert.Equal(t, domain.NewControlNumbers(2), next.Control)
}

func TestCorrectReturnsValidatedClaimToDraft(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	claim, err := f.svc.Create(ctx, claimtest.Event("patient-1"))
	require.NoError(t, err)
	claim, _, err = f.svc.Validate(ctx, claim.Ref())
	require.NoError(t, err)
	require.Equal(t, domain.ClaimStatusValidated, claim.Status)

	pos := "02"
	corrected, err := f.svc.Correct(ctx, claim.Ref(), domain.CorrectClaimRequest{PlaceOfService: &pos})
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusDraft, corrected.Status)
	assert.Equal(t, 2, corrected.Version)
	assert.Equal(t, "02", corrected.PlaceOfService)

	_, err = f.svc.Correct(ctx, corrected.Ref(), domain.CorrectClaimRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidClaim)
}

func TestPermanentRejectionLeavesClaimReady(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.ready(t)

	rejection := &domain.SubmissionError{ControlNumber: "000000001", Attempts: 1, Permanent: true, Err: clearinghouse.ErrRejected}
	f.submitter.On("Submit", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { assert.Equal(t, domain.ClaimStatusSubmitted, f.storedStatus(t, claim.ID)) }).
		Return(clearinghouse.Receipt{}, rejection).Once()

	after, err := f.svc.Submit(ctx, claim.Ref())
	var subErr *domain.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.True(t, subErr.Permanent)
	assert.Equal(t, domain.ClaimStatusReadyToSubmit, after.Status)
	assert.Nil(t, after.SubmittedAt)
	require.NotNil(t, after.LastError)
	assert.Equal(t, domain.ClaimStatusReadyToSubmit, f.storedStatus(t, claim.ID))

	last := f.audit.last()
	assert.Equal(t, ActionSubmit, last.Action)
	assert.Equal(t, auditdomain.OutcomeRejected, last.Outcome)
	assert.Equal(t, 1, countAction(f.audit, ActionSubmit))
}

func TestExhaustedRetriesMoveToErrorAndRequeueKeepsControlNumbers(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.ready(t)

	exhausted := &domain.SubmissionError{ControlNumber: "000000001", Attempts: 5, Err: clearinghouse.ErrUnavailable}
	f.submitter.On("Submit", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { assert.Equal(t, domain.ClaimStatusSubmitted, f.storedStatus(t, claim.ID)) }).
		Return(clearinghouse.Receipt{}, exhausted).Once()

	failed, err := f.svc.Submit(ctx, claim.Ref())
	require.Error(t, err)
	assert.Equal(t, domain.ClaimStatusError, failed.Status)
	payload := *failed.Payload

	last := f.audit.last()
	assert.Equal(t, auditdomain.OutcomeFailure, last.Outcome)
	assert.Equal(t, []string{
		string(domain.ClaimStatusReadyToSubmit), string(domain.ClaimStatusSubmitted), string(domain.ClaimStatusError),
	}, last.Metadata["path"])

	requeued, err := f.svc.Requeue(ctx, failed.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusReadyToSubmit, requeued.Status)
	assert.Nil(t, requeued.LastError)

	f.submitter.On("Submit", mock.Anything, mock.Anything).Return(clearinghouse.Receipt{Attempts: 1}, nil).Once()
	submitted, err := f.svc.Submit(ctx, requeued.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusSubmitted, submitted.Status)
	assert.Equal(t, domain.NewControlNumbers(1), submitted.Control)

	first := f.submitter.Calls[0].Arguments.Get(1).(clearinghouse.Submission)
	second := f.submitter.Calls[1].Arguments.Get(1).(clearinghouse.Submission)
	assert.Equal(t, first.ControlNumber, second.ControlNumber)
	assert.Equal(t, payload, second.Payload)

	_, err = f.svc.Requeue(ctx, submitted.Ref())
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelledSubmissionStaysSubmitted(t *testing.T) {
	f := setup(t)
	claim := f.ready(t)

	ctx, cancel := context.WithCancel(context.Background())
	pending := &domain.SubmissionError{ControlNumber: "000000001", Attempts: 1, Err: context.Canceled}
	f.submitter.On("Submit", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(clearinghouse.Receipt{}, pending).Once()

	after, err := f.svc.Submit(ctx, claim.Ref())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.ClaimStatusSubmitted, after.Status)

	stored, err := f.svc.Get(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusSubmitted, stored.Status)

	last := f.audit.last()
	assert.Equal(t, ActionSubmit, last.Action)
	assert.Equal(t, true, last.Metadata["pending"])

	// Submitting again resumes the same interchange.
	f.submitter.On("Submit", mock.Anything, mock.Anything).Return(clearinghouse.Receipt{Attempts: 1}, nil).Once()
	resumed, err := f.svc.Submit(context.Background(), stored.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusSubmitted, resumed.Status)
	first := f.submitter.Calls[0].Arguments.Get(1).(clearinghouse.Submission)
	second := f.submitter.Calls[1].Arguments.Get(1).(clearinghouse.Submission)
	assert.Equal(t, first.ControlNumber, second.ControlNumber)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, []string{string(domain.ClaimStatusSubmitted)}, f.audit.last().Metadata["path"])
}

func TestRejectedResumeMovesToError(t *testing.T) {
	f := setup(t)
	claim := f.submitted(t)

	rejection := &domain.SubmissionError{ControlNumber: "000000001", Attempts: 1, Permanent: true, Err: clearinghouse.ErrRejected}
	f.submitter.On("Submit", mock.Anything, mock.Anything).Return(clearinghouse.Receipt{}, rejection).Once()

	after, err := f.svc.Submit(context.Background(), claim.Ref())
	require.Error(t, err)
	assert.Equal(t, domain.ClaimStatusError, after.Status)
	require.NotNil(t, after.LastError)
}

func TestPendingAckExpiresToError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	stale := f.submitted(t)
	f.clock.Advance(48 * time.Hour)
	fresh := f.submittedFor(t, "patient-2")
	f.clock.Advance(30 * time.Hour)

	n, err := f.svc.ExpirePendingAcks(ctx, f.clock.Now().Add(-72*time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := f.svc.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusError, expired.Status)
	require.NotNil(t, expired.LastError)
	assert.Contains(t, *expired.LastError, "no acknowledgment since")
	assert.Equal(t, domain.ClaimStatusSubmitted, f.storedStatus(t, fresh.ID))

	last := f.audit.last()
	assert.Equal(t, ActionAckTimeout, last.Action)
	assert.Equal(t, string(domain.ClaimStatusError), last.Metadata["to"])

	// A second sweep finds nothing left to expire.
	n, err = f.svc.ExpirePendingAcks(ctx, f.clock.Now().Add(-72*time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)

	requeued, err := f.svc.Requeue(ctx, expired.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusReadyToSubmit, requeued.Status)
	assert.Equal(t, stale.Control, requeued.Control)
}

type countingClient struct {
	mu    sync.Mutex
	calls int
}

func (c *countingClient) Submit(context.Context, clearinghouse.Submission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func TestRepeatedSubmissionIsDeliveredOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	client := &countingClient{}
	f.svc.submitter = clearinghouse.NewSubmitter(client, clearinghouse.NewMemoryStore(f.clock),
		clearinghouse.RetryPolicy{MaxAttempts: 1}, f.clock, zap.NewNop(), nil)

	claim := f.ready(t)
	submitted, err := f.svc.Submit(ctx, claim.Ref())
	require.NoError(t, err)

	again, err := f.svc.Submit(ctx, submitted.Ref())
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusSubmitted, again.Status)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, true, f.audit.last().Metadata["duplicate"])
}

func TestEncodingFailureLeavesClaimUnchanged(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	claim := f.ready(t)

	// Break the claim behind the state machine's back.
	require.NoError(t, f.db.Model(&domain.Claim{}).Where("id = ?", claim.ID).
		Update("place_of_service", "").Error)

	after, err := f.svc.Submit(ctx, claim.Ref())
	assert.ErrorIs(t, err, encoder.ErrEncoding)
	assert.Equal(t, domain.ClaimStatusReadyToSubmit, after.Status)
	assert.False(t, after.Control.Assigned())
	f.submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
	assert.Equal(t, auditdomain.OutcomeRejected, f.audit.last().Outcome)
}

func TestAckByUnknownControlNumberIsAudited(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.ReceiveAckByControlNumber(ctx, "000000042", domain.Ack{Accepted: true})
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)
	_, err = f.svc.ReceiveAckByControlNumber(ctx, "ABC", domain.Ack{Accepted: true})
	assert.ErrorIs(t, err, domain.ErrInvalidControlNumber)
	assert.Equal(t, []string{ActionAck, ActionAck}, f.audit.actions())
}

func TestDegradedAuditDoesNotFailTransition(t *testing.T) {
	f := setup(t)
	f.audit.err = auditdomain.ErrAuditDegraded

	claim, err := f.svc.Create(context.Background(), claimtest.Event("patient-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusDraft, claim.Status)
}

func TestCreateRejectsIncompleteSessions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	event := claimtest.Event("patient-1")
	event.Services = nil
	_, err := f.svc.Create(ctx, event)
	assert.ErrorIs(t, err, domain.ErrMissingServiceLines)

	event = claimtest.Event("patient-1")
	event.Diagnoses = nil
	_, err = f.svc.Create(ctx, event)
	assert.ErrorIs(t, err, domain.ErrMissingDiagnoses)

	event = claimtest.Event("patient-1")
	event.Services[0].ChargeCents = 0
	claim, err := f.svc.Create(ctx, event)
	require.NoError(t, err)
	assert.Positive(t, claim.TotalCharge(), "missing charges bill at the fee schedule rate")

	assert.Equal(t, []string{ActionCreate, ActionCreate, ActionCreate}, f.audit.actions())
}

func (f *fixture) storedStatus(t *testing.T, id snowflake.ID) domain.ClaimStatus {
	t.Helper()
	var claim domain.Claim
	require.NoError(t, f.db.Where("id = ?", id).First(&claim).Error)
	return claim.Status
}

func countAction(a *auditSpy, action string) int {
	n := 0
	for _, got := range a.actions() {
		if got == action {
			n++
		}
	}
	return n
}
