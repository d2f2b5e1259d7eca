package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// EntityType classifies a real-world actor behind a cluster of addresses.
type EntityType string

const (
	TypeExchange      EntityType = "exchange"
	TypeMixer         EntityType = "mixer"
	TypeDarknetMarket EntityType = "darknet_market"
	TypeSanctioned    EntityType = "sanctioned"
	TypeGambling      EntityType = "gambling"
	TypeMiningPool    EntityType = "mining_pool"
	TypeBridge        EntityType = "bridge"
	TypeIndividual    EntityType = "individual"
	TypeUnknown       EntityType = "unknown"
)

// Entity is a cluster of addresses attributed to the same actor. Addresses
// belong to at most one entity at a time; membership changes are recorded in
// the append-only link log, never by mutating history.
type Entity struct {
	ID          uuid.UUID          `json:"id"`
	Name        string             `json:"name,omitempty"`
	Type        EntityType         `json:"type"`
	Confidence  float64            `json:"confidence"`
	Addresses   []chain.AddressKey `json:"addresses"`
	Evidence    []uuid.UUID        `json:"evidence,omitempty"`
	CreatedDate time.Time          `json:"created_date"`
	LastUpdated time.Time          `json:"last_updated"`
}

// NewEntity creates an entity cluster
func NewEntity(entityType EntityType, confidence float64) (*Entity, error) {
	if entityType == "" {
		entityType = TypeUnknown
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewValidationError("INVALID_CONFIDENCE", "confidence must be within [0,1]")
	}
	now := time.Now().UTC()
	return &Entity{
		ID:          uuid.New(),
		Type:        entityType,
		Confidence:  confidence,
		CreatedDate: now,
		LastUpdated: now,
	}, nil
}

// LinkReason names the heuristic that produced an address-to-address link.
type LinkReason string

const (
	ReasonCoSpend      LinkReason = "co_spend"
	ReasonCommonChange LinkReason = "common_change"
	ReasonSharedLabel  LinkReason = "shared_label"
	ReasonPatternCooc  LinkReason = "pattern_co_occurrence"
	ReasonGazetteer    LinkReason = "known_service_gazetteer"
	ReasonManual       LinkReason = "manual"
	ReasonAdminSplit   LinkReason = "admin_split"
)

// LinkRecord is one entry of the append-only clustering log. The union-find
// state is fully reconstructible by replaying these records in order; any
// in-memory index is a cache.
type LinkRecord struct {
	ID         uuid.UUID        `json:"id"`
	A          chain.AddressKey `json:"a"`
	B          chain.AddressKey `json:"b"`
	Reason     LinkReason       `json:"reason"`
	Confidence float64          `json:"confidence"`
	Split      bool             `json:"split"`
	Actor      string           `json:"actor,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// NewLinkRecord validates and creates a clustering log entry
func NewLinkRecord(a, b chain.AddressKey, reason LinkReason, confidence float64) (*LinkRecord, error) {
	if a == b {
		return nil, errors.NewValidationError("SELF_LINK", "cannot link an address to itself")
	}
	if confidence < 0 || confidence > 1 {
		return nil, errors.NewValidationError("INVALID_CONFIDENCE", "confidence must be within [0,1]")
	}
	if reason == "" {
		return nil, errors.NewValidationError("MISSING_REASON", "link reason is required")
	}
	return &LinkRecord{
		ID:         uuid.New(),
		A:          a,
		B:          b,
		Reason:     reason,
		Confidence: confidence,
		RecordedAt: time.Now().UTC(),
	}, nil
}

// LabelKind classifies an external tag source.
type LabelKind string

const (
	LabelSanctions    LabelKind = "sanctions"
	LabelKnownService LabelKind = "known_service"
	LabelThreatFeed   LabelKind = "threat_feed"
	LabelAnalyst      LabelKind = "analyst"
)

// Label is a typed tag from an external source attached to an address or
// entity, with provenance for evidentiary use.
type Label struct {
	ID             uuid.UUID        `json:"id"`
	Kind           LabelKind        `json:"kind"`
	Value          string           `json:"value"`
	Source         string           `json:"source"`
	Target         chain.AddressKey `json:"target"`
	FetchedAt      time.Time        `json:"fetched_at"`
	ProvenanceHash string           `json:"provenance_hash"`
}

// NewLabel validates and creates a label
func NewLabel(kind LabelKind, value, source string, target chain.AddressKey, provenance string) (*Label, error) {
	if value == "" {
		return nil, errors.NewValidationError("MISSING_LABEL_VALUE", "label value is required")
	}
	if source == "" {
		return nil, errors.NewValidationError("MISSING_LABEL_SOURCE", "label source is required")
	}
	return &Label{
		ID:             uuid.New(),
		Kind:           kind,
		Value:          value,
		Source:         source,
		Target:         target,
		FetchedAt:      time.Now().UTC(),
		ProvenanceHash: provenance,
	}, nil
}

// IsSanctions reports whether the label marks a sanctions list match
func (l *Label) IsSanctions() bool {
	return l.Kind == LabelSanctions
}
