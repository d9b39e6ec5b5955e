package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, claim *Claim) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Claim, error)
	FindByInterchangeControl(ctx context.Context, db *gorm.DB, control int64) (*Claim, error)
	ListByPatient(ctx context.Context, db *gorm.DB, patientID string) ([]*Claim, error)
	// ListSubmittedBefore returns up to limit Submitted claims handed off
	// before cutoff, oldest first.
	ListSubmittedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]*Claim, error)
	// Update persists claim when the stored revision still equals expectedRevision
	// and returns ErrConcurrentModification otherwise.
	Update(ctx context.Context, db *gorm.DB, claim *Claim, expectedRevision int64) error
	NextControlNumber(ctx context.Context, db *gorm.DB) (int64, error)
}

// ControlSequence backs the monotonically increasing interchange control number.
type ControlSequence struct {
	Name  string `gorm:"primaryKey;type:text"`
	Value int64  `gorm:"not null"`
}

// TableName sets the database table name.
func (ControlSequence) TableName() string { return "control_sequences" }
