package court

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
)

type memRecordStore struct {
	records []*forensics.CourtComplianceRecord
}

func (s *memRecordStore) SaveComplianceRecord(ctx context.Context, record *forensics.CourtComplianceRecord) error {
	s.records = append(s.records, record)
	return nil
}

func (s *memRecordStore) ListComplianceRecords(ctx context.Context, caseID uuid.UUID) ([]*forensics.CourtComplianceRecord, error) {
	var out []*forensics.CourtComplianceRecord
	for _, r := range s.records {
		if r.CaseID == caseID {
			out = append(out, r)
		}
	}
	return out, nil
}

// strongItem builds an item with complete custody and verified integrity
func strongItem(t *testing.T) *forensics.EvidenceItem {
	t.Helper()
	item, err := forensics.NewEvidenceItem(uuid.New(), forensics.EvidenceTransactionTrace,
		"collector-api", "analyst@example.com", []byte("trace data"))
	require.NoError(t, err)

	genesis, err := forensics.NewCustodyEntry("analyst@example.com", forensics.ActionCollected, "vault", "stored")
	require.NoError(t, err)
	require.NoError(t, item.Custody.Append(genesis, ""))

	item.CheckIntegrity([]byte("trace data"))
	return item
}

func TestAssessStrongEvidenceAdmissible(t *testing.T) {
	store := &memRecordStore{}
	assessor := NewAssessor(store, zap.NewNop())

	record, err := assessor.AssessEvidence(context.Background(), strongItem(t),
		"US", forensics.CourtCivil, forensics.StandardPreponderance)
	require.NoError(t, err)

	assert.Equal(t, forensics.VerdictAdmissible, record.Verdict)
	assert.GreaterOrEqual(t, record.ComplianceScore, 90.0)
	assert.Empty(t, record.RequirementsMiss)
	assert.Empty(t, record.Challenges)
	assert.Len(t, store.records, 1)
}

func TestAssessTamperedEvidenceInadmissible(t *testing.T) {
	assessor := NewAssessor(&memRecordStore{}, zap.NewNop())

	item := strongItem(t)
	item.CheckIntegrity([]byte("altered"))
	require.Equal(t, forensics.IntegrityTampered, item.Integrity)

	record, err := assessor.AssessEvidence(context.Background(), item,
		"US", forensics.CourtCriminal, forensics.StandardBeyondReasonable)
	require.NoError(t, err)

	assert.Equal(t, forensics.VerdictInadmissible, record.Verdict)
	assert.Zero(t, record.ReliabilityScore)

	kinds := make(map[forensics.ChallengeKind]bool)
	for _, ch := range record.Challenges {
		kinds[ch.Kind] = true
	}
	assert.True(t, kinds[forensics.ChallengeAuthentication])
}

func TestAssessMissingCustodyDrawsChallenge(t *testing.T) {
	assessor := NewAssessor(&memRecordStore{}, zap.NewNop())

	item, err := forensics.NewEvidenceItem(uuid.New(), forensics.EvidenceScreenshot,
		"", "analyst@example.com", []byte("img"))
	require.NoError(t, err)

	record, err := assessor.AssessEvidence(context.Background(), item,
		"", forensics.CourtCivil, forensics.StandardPreponderance)
	require.NoError(t, err)

	assert.Contains(t, record.RequirementsMiss, "custody-complete")
	assert.NotEqual(t, forensics.VerdictAdmissible, record.Verdict)

	var custodyChallenge *forensics.Challenge
	for i := range record.Challenges {
		if record.Challenges[i].Kind == forensics.ChallengeChainOfCustody {
			custodyChallenge = &record.Challenges[i]
		}
	}
	require.NotNil(t, custodyChallenge)
	assert.InDelta(t, 0.9, custodyChallenge.Likelihood, 1e-9)
}

func TestCriminalVenueDemandsVerifiedIntegrity(t *testing.T) {
	assessor := NewAssessor(&memRecordStore{}, zap.NewNop())

	item := strongItem(t)
	item.Integrity = forensics.IntegrityUnknown
	now := time.Now().UTC()
	item.LastVerified = &now

	civil, err := assessor.AssessEvidence(context.Background(), item,
		"default", forensics.CourtCivil, forensics.StandardPreponderance)
	require.NoError(t, err)
	criminal, err := assessor.AssessEvidence(context.Background(), item,
		"default", forensics.CourtCriminal, forensics.StandardBeyondReasonable)
	require.NoError(t, err)

	assert.NotContains(t, civil.RequirementsMiss, "integrity-verified")
	assert.Contains(t, criminal.RequirementsMiss, "integrity-verified")
	assert.Less(t, criminal.ComplianceScore, civil.ComplianceScore)
}

func TestAssessCaseTakesWeakestItem(t *testing.T) {
	store := &memRecordStore{}
	assessor := NewAssessor(store, zap.NewNop())
	caseID := uuid.New()

	strong := strongItem(t)
	weak, err := forensics.NewEvidenceItem(uuid.New(), forensics.EvidenceOther,
		"", "analyst@example.com", []byte("misc"))
	require.NoError(t, err)

	record, err := assessor.AssessCase(context.Background(), caseID,
		[]*forensics.EvidenceItem{strong, weak},
		"US", forensics.CourtCivil, forensics.StandardPreponderance)
	require.NoError(t, err)

	assert.Equal(t, caseID, record.CaseID)
	assert.NotEqual(t, forensics.VerdictAdmissible, record.Verdict,
		"case verdict tracks the weakest item")

	history, err := assessor.History(context.Background(), caseID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestAssessCaseRequiresEvidence(t *testing.T) {
	assessor := NewAssessor(&memRecordStore{}, zap.NewNop())
	_, err := assessor.AssessCase(context.Background(), uuid.New(), nil,
		"US", forensics.CourtCivil, forensics.StandardPreponderance)
	assert.Error(t, err)
}
