package evidence

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

type memIndex struct {
	items map[uuid.UUID]*forensics.EvidenceItem
}

func newMemIndex() *memIndex {
	return &memIndex{items: make(map[uuid.UUID]*forensics.EvidenceItem)}
}

func (m *memIndex) SaveEvidence(ctx context.Context, item *forensics.EvidenceItem) error {
	m.items[item.ID] = item
	return nil
}

func (m *memIndex) GetEvidence(ctx context.Context, id uuid.UUID) (*forensics.EvidenceItem, error) {
	item, ok := m.items[id]
	if !ok {
		return nil, errors.NewNotFoundError("evidence")
	}
	return item, nil
}

func (m *memIndex) ListEvidence(ctx context.Context, caseID uuid.UUID) ([]*forensics.EvidenceItem, error) {
	var out []*forensics.EvidenceItem
	for _, item := range m.items {
		if item.CaseID == caseID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memIndex) AllEvidence(ctx context.Context) ([]*forensics.EvidenceItem, error) {
	var out []*forensics.EvidenceItem
	for _, item := range m.items {
		out = append(out, item)
	}
	return out, nil
}

type openGate struct{ blocked map[uuid.UUID]bool }

func (g *openGate) AcceptsEvidence(ctx context.Context, caseID uuid.UUID) error {
	if g.blocked != nil && g.blocked[caseID] {
		return errors.NewSemanticError("CASE_FROZEN", "case no longer accepts evidence")
	}
	return nil
}

func newTestVault(t *testing.T) (*Vault, *memIndex) {
	t.Helper()
	index := newMemIndex()
	vault, err := NewVault(t.TempDir(), []string{t.TempDir()}, index, &openGate{}, zap.NewNop(), telemetry.NewNopMetrics())
	require.NoError(t, err)
	return vault, index
}

func TestVaultPutAndGetRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()
	caseID := uuid.New()
	payload := []byte("transaction trace export")

	item, err := vault.Put(ctx, caseID, forensics.EvidenceTransactionTrace,
		"collector-api", "analyst@example.com", payload, map[string]string{"chain": "bitcoin"})
	require.NoError(t, err)

	assert.Equal(t, forensics.Digest(payload), item.Digest)
	assert.Equal(t, forensics.IntegrityVerified, item.Integrity)
	require.Len(t, item.Custody.Entries, 1)
	assert.Equal(t, forensics.ActionCollected, item.Custody.Entries[0].Action)

	// Sharded layout: <root>/<id[0:2]>/<id>.evidence
	assert.Equal(t, item.ID.String()[:2], filepath.Base(filepath.Dir(item.StoragePath)))

	got, data, err := vault.Get(ctx, item.ID, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.Equal(t, item.ID, got.ID)

	// Reads leave a custody trail
	require.Len(t, got.Custody.Entries, 2)
	access := got.Custody.Entries[1]
	assert.Equal(t, forensics.ActionAnalyzed, access.Action)
	assert.Equal(t, "reviewer@example.com", access.Actor)
	require.NoError(t, got.Custody.Verify())
}

func TestVaultPutRespectsCaseGate(t *testing.T) {
	index := newMemIndex()
	caseID := uuid.New()
	gate := &openGate{blocked: map[uuid.UUID]bool{caseID: true}}
	vault, err := NewVault(t.TempDir(), nil, index, gate, zap.NewNop(), telemetry.NewNopMetrics())
	require.NoError(t, err)

	_, err = vault.Put(context.Background(), caseID, forensics.EvidenceDocument,
		"upload", "analyst@example.com", []byte("doc"), nil)
	require.Error(t, err)
	assert.Empty(t, index.items)
}

func TestVaultVerifyDetectsTampering(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	item, err := vault.Put(ctx, uuid.New(), forensics.EvidenceDocument,
		"upload", "analyst@example.com", []byte("original"), nil)
	require.NoError(t, err)

	verified, err := vault.Verify(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, forensics.IntegrityVerified, verified.Integrity)
	require.NotNil(t, verified.LastVerified)

	// Overwrite the artifact on disk behind the vault's back
	require.NoError(t, os.WriteFile(item.StoragePath, []byte("altered"), 0o640))

	tampered, err := vault.Verify(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, forensics.IntegrityTampered, tampered.Integrity)
	assert.False(t, tampered.IsUsable())
}

func TestVaultVerifyDetectsMissingArtifact(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	item, err := vault.Put(ctx, uuid.New(), forensics.EvidenceDocument,
		"upload", "analyst@example.com", []byte("payload"), nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(item.StoragePath))

	verified, err := vault.Verify(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, forensics.IntegrityCorrupted, verified.Integrity)
}

func TestVaultCustodyAppendRejectsStaleHead(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	item, err := vault.Put(ctx, uuid.New(), forensics.EvidenceDocument,
		"upload", "analyst@example.com", []byte("payload"), nil)
	require.NoError(t, err)
	head := item.Custody.Head()

	_, err = vault.RecordCustody(ctx, item.ID, "analyst@example.com",
		forensics.ActionAnalyzed, "lab", "first analysis", head)
	require.NoError(t, err)

	// A second append against the old head is rejected
	_, err = vault.RecordCustody(ctx, item.ID, "other@example.com",
		forensics.ActionTransferred, "offsite", "move", head)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindIntegrity))
}

func TestVaultBackup(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	item, err := vault.Put(ctx, uuid.New(), forensics.EvidenceExport,
		"export", "analyst@example.com", []byte("csv data"), nil)
	require.NoError(t, err)

	backed, err := vault.Backup(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, backed.Backups, 1)

	copyBytes, err := os.ReadFile(backed.Backups[0])
	require.NoError(t, err)
	assert.Equal(t, forensics.Digest([]byte("csv data")), forensics.Digest(copyBytes))

	// Backing up again does not duplicate the location
	again, err := vault.Backup(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, again.Backups, 1)
}

func TestVaultReconcile(t *testing.T) {
	vault, _ := newTestVault(t)
	ctx := context.Background()

	healthy, err := vault.Put(ctx, uuid.New(), forensics.EvidenceDocument,
		"upload", "analyst@example.com", []byte("healthy"), nil)
	require.NoError(t, err)

	tampered, err := vault.Put(ctx, uuid.New(), forensics.EvidenceDocument,
		"upload", "analyst@example.com", []byte("target"), nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(tampered.StoragePath, []byte("changed"), 0o640))

	// An orphan file nothing references
	orphanPath := filepath.Join(filepath.Dir(healthy.StoragePath), uuid.NewString()+".evidence")
	require.NoError(t, os.WriteFile(orphanPath, []byte("stray"), 0o640))

	report, err := vault.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Verified)
	assert.Equal(t, []uuid.UUID{tampered.ID}, report.Tampered)
	assert.Equal(t, []string{orphanPath}, report.Orphans)
}
