package forensics

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// IntegrityStatus is the verification state of a stored artifact.
type IntegrityStatus string

const (
	IntegrityVerified  IntegrityStatus = "verified"
	IntegrityTampered  IntegrityStatus = "tampered"
	IntegrityCorrupted IntegrityStatus = "corrupted"
	IntegrityUnknown   IntegrityStatus = "unknown"
)

// EvidenceType classifies the artifact.
type EvidenceType string

const (
	EvidenceTransactionTrace EvidenceType = "transaction_trace"
	EvidenceAddressReport    EvidenceType = "address_report"
	EvidenceScreenshot       EvidenceType = "screenshot"
	EvidenceDocument         EvidenceType = "document"
	EvidenceExport           EvidenceType = "data_export"
	EvidenceOther            EvidenceType = "other"
)

// EvidenceItem is a content-addressed artifact attached to a case. The item
// owns its custody chain and its storage artifact; every other component
// holds the id and goes through the vault.
type EvidenceItem struct {
	ID              uuid.UUID         `json:"id"`
	CaseID          uuid.UUID         `json:"case_id"`
	Type            EvidenceType      `json:"type"`
	Source          string            `json:"source"`
	Collector       string            `json:"collector"`
	Digest          string            `json:"digest"`
	Size            int64             `json:"size"`
	Integrity       IntegrityStatus   `json:"integrity"`
	Custody         CustodyChain      `json:"custody"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	StoragePath     string            `json:"storage_path"`
	Backups         []string          `json:"backups,omitempty"`
	CollectedDate   time.Time         `json:"collected_date"`
	LastVerified    *time.Time        `json:"last_verified,omitempty"`
}

// Digest computes the canonical SHA-256 digest of evidence bytes
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NewEvidenceItem creates an item for the given bytes; the custody genesis
// entry is seeded by the vault on put.
func NewEvidenceItem(caseID uuid.UUID, evidenceType EvidenceType, source, collector string, data []byte) (*EvidenceItem, error) {
	if caseID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_CASE_ID", "evidence must belong to a case")
	}
	if len(data) == 0 {
		return nil, errors.NewValidationError("EMPTY_EVIDENCE", "evidence bytes are required")
	}
	if collector == "" {
		return nil, errors.NewValidationError("MISSING_COLLECTOR", "collector identity is required")
	}
	if evidenceType == "" {
		evidenceType = EvidenceOther
	}
	return &EvidenceItem{
		ID:            uuid.New(),
		CaseID:        caseID,
		Type:          evidenceType,
		Source:        source,
		Collector:     collector,
		Digest:        Digest(data),
		Size:          int64(len(data)),
		Integrity:     IntegrityUnknown,
		Metadata:      make(map[string]string),
		CollectedDate: time.Now().UTC(),
	}, nil
}

// CheckIntegrity compares stored bytes against the recorded digest and
// updates the integrity status. Mismatches mark the item tampered; they are
// never silently repaired.
func (e *EvidenceItem) CheckIntegrity(stored []byte) IntegrityStatus {
	now := time.Now().UTC()
	e.LastVerified = &now
	switch {
	case stored == nil:
		e.Integrity = IntegrityCorrupted
	case Digest(stored) == e.Digest:
		e.Integrity = IntegrityVerified
	default:
		e.Integrity = IntegrityTampered
	}
	return e.Integrity
}

// IsUsable reports whether the artifact can back findings
func (e *EvidenceItem) IsUsable() bool {
	return e.Integrity == IntegrityVerified || e.Integrity == IntegrityUnknown
}
