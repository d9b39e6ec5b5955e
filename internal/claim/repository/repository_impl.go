package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/claimwise/internal/claim/domain"
	"github.com/smallbiznis/claimwise/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	interchangeSequence     = "interchange"
	controlInterchangeIndex = "ux_claims_control_interchange"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, claim *domain.Claim) error {
	if claim == nil {
		return domain.ErrInvalidClaim
	}
	if err := conn.WithContext(ctx).Create(claim).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return fmt.Errorf("claim %s already exists: %w", claim.ID, domain.ErrInvalidClaim)
		}
		return err
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Claim, error) {
	var claim domain.Claim
	err := conn.WithContext(ctx).Where("id = ?", id).First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *repo) FindByInterchangeControl(ctx context.Context, conn *gorm.DB, control int64) (*domain.Claim, error) {
	if control <= 0 {
		return nil, domain.ErrInvalidControlNumber
	}
	var claim domain.Claim
	err := conn.WithContext(ctx).
		Where("control_interchange = ?", control).
		Order("id desc").
		First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

func (r *repo) ListByPatient(ctx context.Context, conn *gorm.DB, patientID string) ([]*domain.Claim, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, nil
	}
	var claims []*domain.Claim
	if err := conn.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("created_at asc, id asc").
		Find(&claims).Error; err != nil {
		return nil, err
	}
	return claims, nil
}

func (r *repo) ListSubmittedBefore(ctx context.Context, conn *gorm.DB, cutoff time.Time, limit int) ([]*domain.Claim, error) {
	if limit <= 0 {
		return nil, nil
	}
	var claims []*domain.Claim
	if err := conn.WithContext(ctx).
		Where("status = ? AND submitted_at IS NOT NULL AND submitted_at < ?", domain.ClaimStatusSubmitted, cutoff.UTC()).
		Order("submitted_at asc, id asc").
		Limit(limit).
		Find(&claims).Error; err != nil {
		return nil, err
	}
	return claims, nil
}

func (r *repo) Update(ctx context.Context, conn *gorm.DB, claim *domain.Claim, expectedRevision int64) error {
	if claim == nil || claim.ID == 0 {
		return domain.ErrInvalidClaim
	}

	claim.Revision = expectedRevision + 1
	res := conn.WithContext(ctx).
		Model(claim).
		Where("revision = ?", expectedRevision).
		Select("*").
		Updates(claim)
	if res.Error != nil {
		claim.Revision = expectedRevision
		if db.IsDuplicateOn(res.Error, controlInterchangeIndex, "claims.control_interchange") {
			return fmt.Errorf("interchange %d is taken: %w", claim.Control.Interchange, domain.ErrInvalidControlNumber)
		}
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	claim.Revision = expectedRevision
	var count int64
	if err := conn.WithContext(ctx).Model(&domain.Claim{}).Where("id = ?", claim.ID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrClaimNotFound
	}
	return domain.ErrConcurrentModification
}

func (r *repo) NextControlNumber(ctx context.Context, conn *gorm.DB) (int64, error) {
	var value int64
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&domain.ControlSequence{Name: interchangeSequence, Value: 0}).Error; err != nil {
			return err
		}
		if err := tx.Exec(
			`UPDATE control_sequences SET value = value + 1 WHERE name = ?`,
			interchangeSequence,
		).Error; err != nil {
			return err
		}
		return tx.Raw(
			`SELECT value FROM control_sequences WHERE name = ?`,
			interchangeSequence,
		).Scan(&value).Error
	})
	if err != nil {
		return 0, err
	}
	if value <= 0 || value > 999999999 {
		return 0, domain.ErrInvalidControlNumber
	}
	return value, nil
}
