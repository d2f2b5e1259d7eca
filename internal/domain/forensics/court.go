package forensics

import (
	"time"

	"github.com/google/uuid"
)

// LegalStandard is the quantum of proof a case must satisfy.
type LegalStandard string

const (
	StandardPreponderance      LegalStandard = "preponderance"
	StandardClearAndConvincing LegalStandard = "clear_and_convincing"
	StandardBeyondReasonable   LegalStandard = "beyond_reasonable_doubt"
)

// CourtType identifies the venue category.
type CourtType string

const (
	CourtCriminal       CourtType = "criminal"
	CourtCivil          CourtType = "civil"
	CourtAdministrative CourtType = "administrative"
)

// AdmissibilityVerdict is the outcome of a defensibility assessment.
type AdmissibilityVerdict string

const (
	VerdictAdmissible   AdmissibilityVerdict = "admissible"
	VerdictConditional  AdmissibilityVerdict = "conditional"
	VerdictUnderReview  AdmissibilityVerdict = "under_review"
	VerdictInadmissible AdmissibilityVerdict = "inadmissible"
)

// Requirement is one admissibility criterion from the requirements registry,
// ordered by precedence within its jurisdiction.
type Requirement struct {
	ID           string        `json:"id"`
	Jurisdiction string        `json:"jurisdiction"`
	CourtType    CourtType     `json:"court_type,omitempty"`
	Standard     LegalStandard `json:"standard,omitempty"`
	Description  string        `json:"description"`
	Precedence   int           `json:"precedence"`
	Weight       float64       `json:"weight"`
}

// ChallengeKind names an anticipated objection to the evidence.
type ChallengeKind string

const (
	ChallengeHearsay        ChallengeKind = "hearsay"
	ChallengeAuthentication ChallengeKind = "authentication"
	ChallengeRelevance      ChallengeKind = "relevance"
	ChallengeChainOfCustody ChallengeKind = "chain_of_custody"
)

// Challenge is an anticipated objection with estimated severity/likelihood.
type Challenge struct {
	Kind       ChallengeKind `json:"kind"`
	Severity   string        `json:"severity"`
	Likelihood float64       `json:"likelihood"`
	Basis      string        `json:"basis"`
}

// CourtComplianceRecord is the persisted result of assessing evidence (or a
// whole case) against a jurisdiction, court type and legal standard.
type CourtComplianceRecord struct {
	ID               uuid.UUID            `json:"id"`
	CaseID           uuid.UUID            `json:"case_id"`
	EvidenceID       *uuid.UUID           `json:"evidence_id,omitempty"`
	Jurisdiction     string               `json:"jurisdiction"`
	CourtType        CourtType            `json:"court_type"`
	Standard         LegalStandard        `json:"standard"`
	RequirementsMet  []string             `json:"requirements_met"`
	RequirementsMiss []string             `json:"requirements_missing"`
	RelevanceScore   float64              `json:"relevance_score"`
	ReliabilityScore float64              `json:"reliability_score"`
	ComplianceScore  float64              `json:"compliance_score"`
	Verdict          AdmissibilityVerdict `json:"verdict"`
	Challenges       []Challenge          `json:"challenges,omitempty"`
	AssessedAt       time.Time            `json:"assessed_at"`
}

// VerdictFor maps a compliance score to an admissibility verdict
func VerdictFor(score float64) AdmissibilityVerdict {
	switch {
	case score >= 90:
		return VerdictAdmissible
	case score >= 70:
		return VerdictConditional
	case score >= 50:
		return VerdictUnderReview
	default:
		return VerdictInadmissible
	}
}
