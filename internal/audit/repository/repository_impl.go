package repository

import (
	"context"

	"github.com/smallbiznis/claimwise/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rec *domain.Record) error {
	if rec == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO audit_records (
			sequence, entry_id, nonce, ciphertext, prev, chain, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Sequence,
		rec.EntryID,
		rec.Nonce,
		rec.Ciphertext,
		rec.Prev,
		rec.Chain,
		rec.CreatedAt,
	).Error
}

func (r *repo) DeleteBefore(ctx context.Context, db *gorm.DB, sequence uint64) (int64, error) {
	res := db.WithContext(ctx).Where("sequence < ?", sequence).Delete(&domain.Record{})
	return res.RowsAffected, res.Error
}

// Latest returns up to limit records in ascending sequence order.
func (r *repo) Latest(ctx context.Context, db *gorm.DB, limit int) ([]domain.Record, error) {
	var recs []domain.Record
	stmt := db.WithContext(ctx).Model(&domain.Record{}).Order("sequence desc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&recs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

type store struct {
	db   *gorm.DB
	repo domain.Repository
}

// NewStore binds the repository to a connection.
func NewStore(db *gorm.DB, repo domain.Repository) domain.Store {
	return &store{db: db, repo: repo}
}

func (s *store) Append(ctx context.Context, rec domain.Record) error {
	return s.repo.Insert(ctx, s.db, &rec)
}

func (s *store) Compact(ctx context.Context, oldestRetained uint64) error {
	_, err := s.repo.DeleteBefore(ctx, s.db, oldestRetained)
	return err
}

func (s *store) Latest(ctx context.Context, limit int) ([]domain.Record, error) {
	return s.repo.Latest(ctx, s.db, limit)
}
