package domain

import "time"

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeRejected Outcome = "rejected"
)

const ActorTypeSystem = "system"

// Entry is one immutable audit event. ID, Sequence and Timestamp are assigned
// by the log on append.
type Entry struct {
	ID           string         `json:"id"`
	Sequence     uint64         `json:"sequence"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      string         `json:"actor_id"`
	SessionID    string         `json:"session_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Outcome      Outcome        `json:"outcome"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Record is the sealed form of an Entry as held in memory and at rest. Chain
// is the HMAC over Prev and the sealed payload.
type Record struct {
	Sequence   uint64    `gorm:"primaryKey;autoIncrement:false"`
	EntryID    string    `gorm:"not null;uniqueIndex"`
	Nonce      []byte    `gorm:"not null"`
	Ciphertext []byte    `gorm:"not null"`
	Prev       []byte
	Chain      []byte    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Record) TableName() string {
	return "audit_records"
}

// ComplianceReport is a read-only snapshot of the log's health.
type ComplianceReport struct {
	KeyPresent      bool      `json:"key_present"`
	NonEmpty        bool      `json:"non_empty"`
	ActorResolved   bool      `json:"actor_resolved"`
	Size            int       `json:"size"`
	Capacity        int       `json:"capacity"`
	WithinRetention bool      `json:"within_retention"`
	Degraded        bool      `json:"degraded"`
	Pending         int       `json:"pending"`
	Dropped         int       `json:"dropped"`
	ChainIntact     bool      `json:"chain_intact"`
	Compliant       bool      `json:"compliant"`
	Issues          []string  `json:"issues,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}
