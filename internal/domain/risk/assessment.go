package risk

import (
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// TargetType identifies what a risk assessment applies to.
type TargetType string

const (
	TargetAddress     TargetType = "address"
	TargetEntity      TargetType = "entity"
	TargetTransaction TargetType = "transaction"
)

// Factor names one additive contribution to a risk score.
type Factor string

const (
	FactorSanctions    Factor = "sanctions_match"
	FactorLabels       Factor = "label_severity"
	FactorPatterns     Factor = "pattern_exposure"
	FactorCounterparty Factor = "counterparty_risk"
	FactorAge          Factor = "age"
	FactorVolume       Factor = "volume_profile"
)

// Assessment is a snapshot of a target's risk at a point in time. Scores are
// deterministic given the target's persisted state and the config version.
type Assessment struct {
	ID            uuid.UUID          `json:"id"`
	TargetType    TargetType         `json:"target_type"`
	TargetID      string             `json:"target_id"`
	Score         float64            `json:"score"`
	Factors       map[Factor]float64 `json:"factors"`
	ConfigVersion string             `json:"config_version"`
	Assessor      string             `json:"assessor"`
	AssessedAt    time.Time          `json:"assessed_at"`
}

// NewAssessment validates and creates a risk snapshot
func NewAssessment(targetType TargetType, targetID string, score float64, factors map[Factor]float64, configVersion, assessor string) (*Assessment, error) {
	if targetID == "" {
		return nil, errors.NewValidationError("MISSING_TARGET", "assessment target is required")
	}
	if score < 0 || score > 1 {
		return nil, errors.NewValidationError("SCORE_OUT_OF_RANGE", "risk score must be within [0,1]")
	}
	if configVersion == "" {
		return nil, errors.NewValidationError("MISSING_CONFIG_VERSION", "scoring config version is required")
	}
	return &Assessment{
		ID:            uuid.New(),
		TargetType:    targetType,
		TargetID:      targetID,
		Score:         score,
		Factors:       factors,
		ConfigVersion: configVersion,
		Assessor:      assessor,
		AssessedAt:    time.Now().UTC(),
	}, nil
}

// Config is the versioned scoring configuration. The recognised options are
// the full closed set; anything else in the config source is rejected.
type Config struct {
	Version           string             `json:"version" koanf:"version"`
	LabelWeights      map[string]float64 `json:"label_weights" koanf:"label_weights"`
	PatternWeights    map[string]float64 `json:"pattern_weights" koanf:"pattern_weights"`
	CounterpartyDecay float64            `json:"counterparty_decay" koanf:"counterparty_decay"`
	MinConfidence     float64            `json:"min_confidence" koanf:"min_confidence"`
	ScoreClamp        float64            `json:"score_clamp" koanf:"score_clamp"`
	MaxHops           int                `json:"max_hops" koanf:"max_hops"`

	// PublishThreshold and PublishEpsilon bound assessment write
	// amplification: a snapshot is stored when the score crosses the
	// threshold or moves more than epsilon since the last stored one.
	PublishThreshold float64 `json:"publish_threshold" koanf:"publish_threshold"`
	PublishEpsilon   float64 `json:"publish_epsilon" koanf:"publish_epsilon"`
}

// DefaultConfig returns the baseline scoring configuration
func DefaultConfig() Config {
	return Config{
		Version: "v1",
		LabelWeights: map[string]float64{
			"sanctions":     1.0,
			"threat_feed":   0.6,
			"known_service": 0.1,
			"analyst":       0.4,
		},
		PatternWeights: map[string]float64{
			"peeling_chain":     0.3,
			"mixer_interaction": 0.7,
			"rapid_movement":    0.4,
			"layering":          0.5,
			"bridge_hop":        0.3,
			"sanctions_touch":   0.9,
		},
		CounterpartyDecay: 0.5,
		MinConfidence:     0.1,
		ScoreClamp:        1.0,
		MaxHops:           2,
		PublishThreshold:  0.7,
		PublishEpsilon:    0.05,
	}
}

// Validate checks config bounds
func (c Config) Validate() error {
	if c.Version == "" {
		return errors.NewValidationError("MISSING_CONFIG_VERSION", "risk config version is required")
	}
	if c.CounterpartyDecay < 0 || c.CounterpartyDecay > 1 {
		return errors.NewValidationError("INVALID_DECAY", "counterparty_decay must be within [0,1]")
	}
	if c.ScoreClamp <= 0 || c.ScoreClamp > 1 {
		return errors.NewValidationError("INVALID_CLAMP", "score_clamp must be within (0,1]")
	}
	if c.MaxHops < 0 {
		return errors.NewValidationError("INVALID_HOPS", "max_hops must be non-negative")
	}
	return nil
}
