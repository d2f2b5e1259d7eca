package pattern

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// Kind names a behavioural pattern the detector can emit.
type Kind string

const (
	KindPeelingChain   Kind = "peeling_chain"
	KindMixerContact   Kind = "mixer_interaction"
	KindRapidMovement  Kind = "rapid_movement"
	KindLayering       Kind = "layering"
	KindBridgeHop      Kind = "bridge_hop"
	KindSanctionsTouch Kind = "sanctions_touch"
)

// IsValid checks the kind against the closed set
func (k Kind) IsValid() bool {
	switch k {
	case KindPeelingChain, KindMixerContact, KindRapidMovement,
		KindLayering, KindBridgeHop, KindSanctionsTouch:
		return true
	default:
		return false
	}
}

// Match is an immutable detected pattern instance. A later, strictly
// stronger detection over the same transaction set supersedes the original
// by reference; the original is never mutated.
type Match struct {
	ID           uuid.UUID          `json:"id"`
	Kind         Kind               `json:"kind"`
	Confidence   float64            `json:"confidence"`
	Transactions []string           `json:"transactions"`
	Addresses    []chain.AddressKey `json:"addresses"`
	WindowStart  time.Time          `json:"window_start"`
	WindowEnd    time.Time          `json:"window_end"`
	Evidence     string             `json:"evidence"`
	Supersedes   *uuid.UUID         `json:"supersedes,omitempty"`
	DetectedAt   time.Time          `json:"detected_at"`

	// DedupKey commits to (kind, participating transaction set)
	DedupKey string `json:"dedup_key"`
}

// NewMatch validates and creates a pattern match
func NewMatch(kind Kind, confidence float64, txHashes []string, addrs []chain.AddressKey, windowStart, windowEnd time.Time, evidence string) (*Match, error) {
	if !kind.IsValid() {
		return nil, errors.NewValidationError("INVALID_PATTERN_KIND", "unknown pattern kind")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewValidationError("INVALID_CONFIDENCE", "confidence must be within [0,1]")
	}
	if len(txHashes) == 0 {
		return nil, errors.NewValidationError("EMPTY_TX_SET", "a match needs at least one transaction")
	}
	if windowEnd.Before(windowStart) {
		return nil, errors.NewValidationError("INVALID_WINDOW", "window end precedes window start")
	}
	return &Match{
		ID:           uuid.New(),
		Kind:         kind,
		Confidence:   confidence,
		Transactions: txHashes,
		Addresses:    addrs,
		WindowStart:  windowStart.UTC(),
		WindowEnd:    windowEnd.UTC(),
		Evidence:     evidence,
		DetectedAt:   time.Now().UTC(),
		DedupKey:     DedupKey(kind, txHashes),
	}, nil
}

// DedupKey derives the idempotence key for a (kind, transaction set) pair.
// The set is order-insensitive.
func DedupKey(kind Kind, txHashes []string) string {
	sorted := make([]string, len(txHashes))
	copy(sorted, txHashes)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(string(kind) + "|" + strings.Join(sorted, ",")))
	return hex.EncodeToString(h[:])
}

// Supersede creates a new match over the same set that references this one.
// The new match must be strictly stronger.
func (m *Match) Supersede(confidence float64, evidence string) (*Match, error) {
	if confidence <= m.Confidence {
		return nil, errors.NewSemanticError("NOT_STRONGER",
			"superseding match must carry strictly higher confidence")
	}
	next, err := NewMatch(m.Kind, confidence, m.Transactions, m.Addresses, m.WindowStart, m.WindowEnd, evidence)
	if err != nil {
		return nil, err
	}
	id := m.ID
	next.Supersedes = &id
	return next, nil
}
