package domain

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type ListAuditLogRequest struct {
	Action       string
	ResourceType string
	ResourceID   string
	Limit        int
}

type ListAuditLogResponse struct {
	Entries []Entry `json:"entries"`
}

type Service interface {
	AuditLog(ctx context.Context, action, resourceType, resourceID string, outcome Outcome, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
	Compliance(ctx context.Context) ComplianceReport
}

// Repository persists sealed records.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rec *Record) error
	DeleteBefore(ctx context.Context, db *gorm.DB, sequence uint64) (int64, error)
	Latest(ctx context.Context, db *gorm.DB, limit int) ([]Record, error)
}

// Store is the durable side of the audit log.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Compact(ctx context.Context, oldestRetained uint64) error
	Latest(ctx context.Context, limit int) ([]Record, error)
}

var (
	ErrInvalidAction = errors.New("invalid_action")
	ErrAuditDegraded = errors.New("audit_degraded")
	ErrChainBroken   = errors.New("audit_chain_broken")
	ErrUnsealFailed  = errors.New("audit_unseal_failed")
	ErrInvalidKey    = errors.New("invalid_audit_key")
)
