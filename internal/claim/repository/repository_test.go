package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&domain.Claim{}, &domain.ControlSequence{}))
	return conn
}

func newClaim(node *snowflake.Node, patientID string) *domain.Claim {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Claim{
		ID:             node.Generate(),
		PatientID:      patientID,
		PlaceOfService: "11",
		Diagnoses:      domain.AssignPointers([]string{"F80.2"}),
		ServiceLines: []domain.ServiceLine{{
			CPT:               "92507",
			Modifiers:         []string{"GN"},
			DiagnosisPointers: []string{"A"},
			Units:             1,
			ChargeCents:       9178,
			ServiceDate:       now,
		}},
		Status:    domain.ClaimStatusDraft,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsertAndFind(t *testing.T) {
	conn := setupDB(t)
	node, _ := snowflake.NewNode(1)
	r := Provide()
	ctx := context.Background()

	claim := newClaim(node, "patient-1")
	require.NoError(t, r.Insert(ctx, conn, claim))

	loaded, err := r.FindByID(ctx, conn, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, claim.PatientID, loaded.PatientID)
	assert.Equal(t, int64(9178), loaded.TotalCharge())
	assert.Equal(t, "A", loaded.Diagnoses[0].Pointer)
	assert.Equal(t, []string{"GN"}, loaded.ServiceLines[0].Modifiers)

	_, err = r.FindByID(ctx, conn, node.Generate())
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)
}

func TestUpdateRejectsStaleRevision(t *testing.T) {
	conn := setupDB(t)
	node, _ := snowflake.NewNode(1)
	r := Provide()
	ctx := context.Background()

	claim := newClaim(node, "patient-1")
	require.NoError(t, r.Insert(ctx, conn, claim))

	first := *claim
	first.Status = domain.ClaimStatusValidated
	require.NoError(t, r.Update(ctx, conn, &first, 0))
	assert.Equal(t, int64(1), first.Revision)

	stale := *claim
	stale.Status = domain.ClaimStatusDraft
	err := r.Update(ctx, conn, &stale, 0)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, int64(0), stale.Revision)

	loaded, err := r.FindByID(ctx, conn, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusValidated, loaded.Status)
	assert.Equal(t, int64(1), loaded.Revision)

	missing := newClaim(node, "patient-2")
	assert.ErrorIs(t, r.Update(ctx, conn, missing, 0), domain.ErrClaimNotFound)
}

func TestNextControlNumberIsMonotonic(t *testing.T) {
	conn := setupDB(t)
	r := Provide()
	ctx := context.Background()

	first, err := r.NextControlNumber(ctx, conn)
	require.NoError(t, err)
	second, err := r.NextControlNumber(ctx, conn)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestFindByInterchangeControl(t *testing.T) {
	conn := setupDB(t)
	node, _ := snowflake.NewNode(1)
	r := Provide()
	ctx := context.Background()

	claim := newClaim(node, "patient-1")
	claim.Control = domain.NewControlNumbers(7)
	require.NoError(t, r.Insert(ctx, conn, claim))

	loaded, err := r.FindByInterchangeControl(ctx, conn, 7)
	require.NoError(t, err)
	assert.Equal(t, claim.ID, loaded.ID)

	_, err = r.FindByInterchangeControl(ctx, conn, 8)
	assert.ErrorIs(t, err, domain.ErrClaimNotFound)

	list, err := r.ListByPatient(ctx, conn, "patient-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestListSubmittedBefore(t *testing.T) {
	conn := setupDB(t)
	node, _ := snowflake.NewNode(1)
	r := Provide()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	insert := func(patientID string, status domain.ClaimStatus, submittedAt *time.Time) *domain.Claim {
		claim := newClaim(node, patientID)
		claim.Status = status
		claim.SubmittedAt = submittedAt
		require.NoError(t, r.Insert(ctx, conn, claim))
		return claim
	}
	early, late := base, base.Add(48*time.Hour)
	older := insert("patient-1", domain.ClaimStatusSubmitted, &early)
	insert("patient-2", domain.ClaimStatusSubmitted, &late)
	insert("patient-3", domain.ClaimStatusAccepted, &early)
	insert("patient-4", domain.ClaimStatusReadyToSubmit, nil)

	pending, err := r.ListSubmittedBefore(ctx, conn, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, older.ID, pending[0].ID)

	pending, err = r.ListSubmittedBefore(ctx, conn, base.Add(72*time.Hour), 1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, older.ID, pending[0].ID)

	pending, err = r.ListSubmittedBefore(ctx, conn, base.Add(72*time.Hour), 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
