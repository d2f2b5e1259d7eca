package court

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
)

// RecordStore persists compliance assessments.
type RecordStore interface {
	SaveComplianceRecord(ctx context.Context, record *forensics.CourtComplianceRecord) error
	ListComplianceRecords(ctx context.Context, caseID uuid.UUID) ([]*forensics.CourtComplianceRecord, error)
}

// requirementCheck evaluates one registry criterion against an item.
type requirementCheck func(item *forensics.EvidenceItem) bool

// registryEntry couples a requirement with its predicate.
type registryEntry struct {
	req   forensics.Requirement
	check requirementCheck
}

// Assessor scores evidence defensibility for a venue. The compliance score
// weighs registry requirement fulfilment at 70%, relevance at 15% and
// reliability at 15%; the registry dominates because its top-precedence
// entries already cover custody and integrity.
type Assessor struct {
	store    RecordStore
	registry map[string][]registryEntry
	logger   *zap.Logger
}

const (
	weightRequirements = 0.70
	weightRelevance    = 0.15
	weightReliability  = 0.15
)

// NewAssessor builds the assessor with the built-in requirements registry
func NewAssessor(store RecordStore, logger *zap.Logger) *Assessor {
	a := &Assessor{
		store:    store,
		registry: make(map[string][]registryEntry),
		logger:   logger,
	}
	a.registerDefaults()
	return a
}

func (a *Assessor) registerDefaults() {
	base := []registryEntry{
		{
			req: forensics.Requirement{
				ID:          "custody-complete",
				Description: "chain of custody starts at collection and verifies end to end",
				Precedence:  1, Weight: 0.35,
			},
			check: func(item *forensics.EvidenceItem) bool {
				return item.Custody.IsComplete()
			},
		},
		{
			req: forensics.Requirement{
				ID:          "digest-recorded",
				Description: "content digest recorded at collection time",
				Precedence:  2, Weight: 0.20,
			},
			check: func(item *forensics.EvidenceItem) bool {
				return item.Digest != ""
			},
		},
		{
			req: forensics.Requirement{
				ID:          "collector-identified",
				Description: "collecting party is identified",
				Precedence:  3, Weight: 0.15,
			},
			check: func(item *forensics.EvidenceItem) bool {
				return item.Collector != ""
			},
		},
		{
			req: forensics.Requirement{
				ID:          "source-documented",
				Description: "origin of the artifact is documented",
				Precedence:  4, Weight: 0.15,
			},
			check: func(item *forensics.EvidenceItem) bool {
				return item.Source != ""
			},
		},
		{
			req: forensics.Requirement{
				ID:          "recently-verified",
				Description: "integrity verified within the last 30 days",
				Precedence:  5, Weight: 0.15,
			},
			check: func(item *forensics.EvidenceItem) bool {
				return item.LastVerified != nil &&
					time.Since(*item.LastVerified) < 30*24*time.Hour
			},
		},
	}
	a.registry["default"] = base

	// Criminal venues additionally demand a verified artifact on record
	criminal := append([]registryEntry{}, base...)
	criminal = append(criminal, registryEntry{
		req: forensics.Requirement{
			ID:           "integrity-verified",
			Jurisdiction: "default",
			CourtType:    forensics.CourtCriminal,
			Description:  "artifact integrity currently verified",
			Precedence:   6, Weight: 0.20,
		},
		check: func(item *forensics.EvidenceItem) bool {
			return item.Integrity == forensics.IntegrityVerified
		},
	})
	a.registry["default/criminal"] = criminal
}

func (a *Assessor) requirementsFor(jurisdiction string, courtType forensics.CourtType) []registryEntry {
	if entries, ok := a.registry[jurisdiction+"/"+string(courtType)]; ok {
		return entries
	}
	if entries, ok := a.registry[jurisdiction]; ok {
		return entries
	}
	if entries, ok := a.registry["default/"+string(courtType)]; ok {
		return entries
	}
	return a.registry["default"]
}

// AssessEvidence scores one item for the venue and persists the record.
func (a *Assessor) AssessEvidence(ctx context.Context, item *forensics.EvidenceItem, jurisdiction string, courtType forensics.CourtType, standard forensics.LegalStandard) (*forensics.CourtComplianceRecord, error) {
	if item == nil {
		return nil, errors.NewValidationError("NIL_EVIDENCE", "evidence item is required")
	}
	if jurisdiction == "" {
		jurisdiction = "default"
	}

	entries := a.requirementsFor(jurisdiction, courtType)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].req.Precedence < entries[j].req.Precedence
	})

	// A tampered or corrupted artifact authenticates nothing, so it can
	// fulfil no requirement regardless of its paperwork
	usable := item.IsUsable()

	var met, missing []string
	var gained, possible float64
	for _, entry := range entries {
		possible += entry.req.Weight
		if usable && entry.check(item) {
			met = append(met, entry.req.ID)
			gained += entry.req.Weight
		} else {
			missing = append(missing, entry.req.ID)
		}
	}
	requirementScore := 0.0
	if possible > 0 {
		requirementScore = 100 * gained / possible
	}

	reliability := reliabilityScore(item)
	relevance := relevanceScore(item)
	compliance := weightReliability*reliability +
		weightRelevance*relevance +
		weightRequirements*requirementScore

	record := &forensics.CourtComplianceRecord{
		ID:               uuid.New(),
		CaseID:           item.CaseID,
		EvidenceID:       &item.ID,
		Jurisdiction:     jurisdiction,
		CourtType:        courtType,
		Standard:         standard,
		RequirementsMet:  met,
		RequirementsMiss: missing,
		RelevanceScore:   relevance,
		ReliabilityScore: reliability,
		ComplianceScore:  compliance,
		Verdict:          forensics.VerdictFor(compliance),
		Challenges:       anticipateChallenges(item, relevance),
		AssessedAt:       time.Now().UTC(),
	}

	if err := a.store.SaveComplianceRecord(ctx, record); err != nil {
		return nil, err
	}
	a.logger.Info("evidence assessed",
		zap.String("evidence_id", item.ID.String()),
		zap.Float64("compliance", compliance),
		zap.String("verdict", string(record.Verdict)))
	return record, nil
}

// AssessCase scores a whole case as the weakest of its items: opposing
// counsel attacks the weakest link, not the average.
func (a *Assessor) AssessCase(ctx context.Context, caseID uuid.UUID, items []*forensics.EvidenceItem, jurisdiction string, courtType forensics.CourtType, standard forensics.LegalStandard) (*forensics.CourtComplianceRecord, error) {
	if len(items) == 0 {
		return nil, errors.NewValidationError("NO_EVIDENCE", "case has no evidence to assess")
	}

	var weakest *forensics.CourtComplianceRecord
	var challenges []forensics.Challenge
	for _, item := range items {
		record, err := a.AssessEvidence(ctx, item, jurisdiction, courtType, standard)
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, record.Challenges...)
		if weakest == nil || record.ComplianceScore < weakest.ComplianceScore {
			weakest = record
		}
	}

	record := &forensics.CourtComplianceRecord{
		ID:               uuid.New(),
		CaseID:           caseID,
		Jurisdiction:     weakest.Jurisdiction,
		CourtType:        courtType,
		Standard:         standard,
		RequirementsMet:  weakest.RequirementsMet,
		RequirementsMiss: weakest.RequirementsMiss,
		RelevanceScore:   weakest.RelevanceScore,
		ReliabilityScore: weakest.ReliabilityScore,
		ComplianceScore:  weakest.ComplianceScore,
		Verdict:          forensics.VerdictFor(weakest.ComplianceScore),
		Challenges:       challenges,
		AssessedAt:       time.Now().UTC(),
	}
	if err := a.store.SaveComplianceRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// History returns stored assessments for a case
func (a *Assessor) History(ctx context.Context, caseID uuid.UUID) ([]*forensics.CourtComplianceRecord, error) {
	return a.store.ListComplianceRecords(ctx, caseID)
}

func reliabilityScore(item *forensics.EvidenceItem) float64 {
	switch item.Integrity {
	case forensics.IntegrityTampered, forensics.IntegrityCorrupted:
		return 0
	}
	score := 100.0
	if !item.Custody.IsComplete() {
		score -= 50
	}
	if item.Integrity == forensics.IntegrityUnknown {
		score -= 25
	}
	if item.Collector == "" {
		score -= 15
	}
	if score < 0 {
		score = 0
	}
	return score
}

func relevanceScore(item *forensics.EvidenceItem) float64 {
	switch item.Type {
	case forensics.EvidenceTransactionTrace, forensics.EvidenceAddressReport:
		return 90
	case forensics.EvidenceExport:
		return 80
	case forensics.EvidenceDocument:
		return 70
	case forensics.EvidenceScreenshot:
		return 60
	default:
		return 50
	}
}

func anticipateChallenges(item *forensics.EvidenceItem, relevance float64) []forensics.Challenge {
	var challenges []forensics.Challenge
	if !item.Custody.IsComplete() {
		challenges = append(challenges, forensics.Challenge{
			Kind:       forensics.ChallengeChainOfCustody,
			Severity:   "high",
			Likelihood: 0.9,
			Basis:      "custody chain is incomplete or fails verification",
		})
	}
	if item.Integrity != forensics.IntegrityVerified {
		challenges = append(challenges, forensics.Challenge{
			Kind:       forensics.ChallengeAuthentication,
			Severity:   "high",
			Likelihood: 0.8,
			Basis:      "artifact integrity is not currently verified",
		})
	}
	if item.Source == "" {
		challenges = append(challenges, forensics.Challenge{
			Kind:       forensics.ChallengeHearsay,
			Severity:   "medium",
			Likelihood: 0.5,
			Basis:      "origin of the artifact is undocumented",
		})
	}
	if relevance < 70 {
		challenges = append(challenges, forensics.Challenge{
			Kind:       forensics.ChallengeRelevance,
			Severity:   "low",
			Likelihood: 0.3,
			Basis:      "artifact type is weakly probative on its own",
		})
	}
	return challenges
}
