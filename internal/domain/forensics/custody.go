package forensics

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// CustodyAction enumerates what happened to an evidence artifact.
type CustodyAction string

const (
	ActionCollected   CustodyAction = "collected"
	ActionTransferred CustodyAction = "transferred"
	ActionAnalyzed    CustodyAction = "analyzed"
	ActionStored      CustodyAction = "stored"
	ActionPresented   CustodyAction = "presented"
	ActionReturned    CustodyAction = "returned"
	ActionDestroyed   CustodyAction = "destroyed"
)

// IsValid checks the action against the closed set
func (a CustodyAction) IsValid() bool {
	switch a {
	case ActionCollected, ActionTransferred, ActionAnalyzed, ActionStored,
		ActionPresented, ActionReturned, ActionDestroyed:
		return true
	default:
		return false
	}
}

// CustodyEntry is one link of the tamper-evident chain-of-custody log.
// EntryHash commits to the entry's content plus the previous entry's hash,
// so recomputing from genesis must reproduce the stored head hash.
type CustodyEntry struct {
	ID            uuid.UUID     `json:"id"`
	Actor         string        `json:"actor"`
	Action        CustodyAction `json:"action"`
	Location      string        `json:"location,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
	TimestampNano int64         `json:"timestamp_nano"`
	PreviousHash  string        `json:"previous_hash"`
	EntryHash     string        `json:"entry_hash"`

	immutable bool
}

// NewCustodyEntry creates a mutable entry; ComputeHash seals it.
func NewCustodyEntry(actor string, action CustodyAction, location, notes string) (*CustodyEntry, error) {
	if actor == "" {
		return nil, errors.NewValidationError("MISSING_ACTOR", "custody actor is required")
	}
	if !action.IsValid() {
		return nil, errors.NewValidationError("INVALID_CUSTODY_ACTION",
			fmt.Sprintf("unknown custody action: %s", action))
	}
	now := time.Now().UTC()
	return &CustodyEntry{
		ID:            uuid.New(),
		Actor:         actor,
		Action:        action,
		Location:      location,
		Notes:         notes,
		Timestamp:     now,
		TimestampNano: now.UnixNano(),
	}, nil
}

// ComputeHash seals the entry against the previous chain head. The hash is
// SHA-256 over a deterministic JSON projection of the immutable fields.
func (e *CustodyEntry) ComputeHash(previousHash string) (string, error) {
	if e.immutable {
		return "", errors.NewIntegrityError("ENTRY_IMMUTABLE",
			"cannot recompute hash of a sealed custody entry")
	}
	e.PreviousHash = previousHash
	digest, err := custodyDigest(e)
	if err != nil {
		return "", err
	}
	e.EntryHash = digest
	e.immutable = true
	return e.EntryHash, nil
}

// IsSealed reports whether the entry hash has been fixed
func (e *CustodyEntry) IsSealed() bool {
	return e.immutable
}

func custodyDigest(e *CustodyEntry) (string, error) {
	hashData := map[string]interface{}{
		"id":             e.ID.String(),
		"actor":          e.Actor,
		"action":         string(e.Action),
		"location":       e.Location,
		"notes":          e.Notes,
		"timestamp_nano": e.TimestampNano,
		"previous_hash":  e.PreviousHash,
	}
	jsonBytes, err := json.Marshal(hashData)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal custody hash data").WithCause(err)
	}
	sum := sha256.Sum256(jsonBytes)
	return fmt.Sprintf("%x", sum), nil
}

// CustodyChain is the append-only per-evidence log.
type CustodyChain struct {
	Entries []*CustodyEntry `json:"entries"`
}

// Head returns the current head hash, empty for a fresh chain
func (c *CustodyChain) Head() string {
	if len(c.Entries) == 0 {
		return ""
	}
	return c.Entries[len(c.Entries)-1].EntryHash
}

// Append seals the entry against the chain head. The caller must supply the
// head hash it observed; a mismatch means a concurrent append or tampering
// and is rejected rather than silently rebased.
func (c *CustodyChain) Append(entry *CustodyEntry, observedHead string) error {
	if entry == nil {
		return errors.NewValidationError("NIL_ENTRY", "custody entry is required")
	}
	if observedHead != c.Head() {
		return errors.ErrCustodyHeadStale
	}
	if _, err := entry.ComputeHash(c.Head()); err != nil {
		return err
	}
	c.Entries = append(c.Entries, entry)
	return nil
}

// Verify recomputes every entry hash from genesis and compares against the
// stored values. Any divergence is reported as an integrity violation.
func (c *CustodyChain) Verify() error {
	prev := ""
	for i, entry := range c.Entries {
		if entry.PreviousHash != prev {
			return errors.NewIntegrityError("CUSTODY_CHAIN_BROKEN",
				fmt.Sprintf("entry %d previous hash mismatch", i))
		}
		expect, err := custodyDigest(entry)
		if err != nil {
			return err
		}
		if expect != entry.EntryHash {
			return errors.NewIntegrityError("CUSTODY_HASH_MISMATCH",
				fmt.Sprintf("entry %d hash does not recompute", i))
		}
		prev = entry.EntryHash
	}
	return nil
}

// IsComplete reports whether the chain starts with a collected action and has
// no custody gaps. Used by court-defensibility scoring.
func (c *CustodyChain) IsComplete() bool {
	if len(c.Entries) == 0 {
		return false
	}
	return c.Entries[0].Action == ActionCollected && c.Verify() == nil
}
