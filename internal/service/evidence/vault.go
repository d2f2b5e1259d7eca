package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// IndexStore persists evidence metadata. Artifact bytes live in the vault's
// filesystem tree; the index is the authority on which artifacts exist.
type IndexStore interface {
	SaveEvidence(ctx context.Context, item *forensics.EvidenceItem) error
	GetEvidence(ctx context.Context, id uuid.UUID) (*forensics.EvidenceItem, error)
	ListEvidence(ctx context.Context, caseID uuid.UUID) ([]*forensics.EvidenceItem, error)
	AllEvidence(ctx context.Context) ([]*forensics.EvidenceItem, error)
}

// CaseGate answers whether a case currently accepts new evidence.
type CaseGate interface {
	AcceptsEvidence(ctx context.Context, caseID uuid.UUID) error
}

// ReconciliationReport summarises one vault scan.
type ReconciliationReport struct {
	Scanned  int         `json:"scanned"`
	Verified int         `json:"verified"`
	Tampered []uuid.UUID `json:"tampered,omitempty"`
	Missing  []uuid.UUID `json:"missing,omitempty"`
	Orphans  []string    `json:"orphans,omitempty"`
}

// Vault is the content-addressed evidence store. Artifacts are written once
// under <root>/<id[0:2]>/<id>.evidence via a temp file and rename, so a
// partially written artifact is never visible under its final path.
type Vault struct {
	root       string
	backupDirs []string
	index      IndexStore
	gate       CaseGate
	logger     *zap.Logger
	metrics    *telemetry.Metrics
}

// NewVault creates the vault root if needed
func NewVault(root string, backupDirs []string, index IndexStore, gate CaseGate, logger *zap.Logger, metrics *telemetry.Metrics) (*Vault, error) {
	if root == "" {
		return nil, errors.NewValidationError("MISSING_VAULT_ROOT", "vault root directory is required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.NewInternalError("creating vault root").WithCause(err)
	}
	return &Vault{
		root:       root,
		backupDirs: backupDirs,
		index:      index,
		gate:       gate,
		logger:     logger,
		metrics:    metrics,
	}, nil
}

func (v *Vault) artifactPath(root string, id uuid.UUID) string {
	name := id.String()
	return filepath.Join(root, name[:2], name+".evidence")
}

// Put stores a new artifact: bytes to disk first, custody genesis, then the
// index record. Failure before the index write leaves at most an unreferenced
// file, cleaned up by reconciliation; the index never references bytes that
// were not fully written.
func (v *Vault) Put(ctx context.Context, caseID uuid.UUID, evidenceType forensics.EvidenceType, source, collector string, data []byte, metadata map[string]string) (*forensics.EvidenceItem, error) {
	if err := v.gate.AcceptsEvidence(ctx, caseID); err != nil {
		return nil, err
	}

	item, err := forensics.NewEvidenceItem(caseID, evidenceType, source, collector, data)
	if err != nil {
		return nil, err
	}
	for k, val := range metadata {
		item.Metadata[k] = val
	}
	item.StoragePath = v.artifactPath(v.root, item.ID)

	if err := writeAtomic(item.StoragePath, data); err != nil {
		return nil, err
	}

	genesis, err := forensics.NewCustodyEntry(collector, forensics.ActionCollected, source,
		fmt.Sprintf("artifact stored, digest %s", item.Digest))
	if err != nil {
		return nil, err
	}
	if err := item.Custody.Append(genesis, ""); err != nil {
		return nil, err
	}
	item.Integrity = forensics.IntegrityVerified

	if err := v.index.SaveEvidence(ctx, item); err != nil {
		return nil, err
	}
	v.logger.Info("evidence stored",
		zap.String("evidence_id", item.ID.String()),
		zap.String("case_id", caseID.String()),
		zap.Int64("size", item.Size))
	return item, nil
}

// Get returns the item's metadata and bytes, recording the access on the
// custody chain.
func (v *Vault) Get(ctx context.Context, id uuid.UUID, actor string) (*forensics.EvidenceItem, []byte, error) {
	item, data, err := v.read(ctx, id)
	if err != nil {
		return item, data, err
	}

	access, err := forensics.NewCustodyEntry(actor, forensics.ActionAnalyzed, "vault", "artifact accessed")
	if err != nil {
		return nil, nil, err
	}
	if err := item.Custody.Append(access, item.Custody.Head()); err != nil {
		return nil, nil, err
	}
	if err := v.index.SaveEvidence(ctx, item); err != nil {
		return nil, nil, err
	}
	return item, data, nil
}

func (v *Vault) read(ctx context.Context, id uuid.UUID) (*forensics.EvidenceItem, []byte, error) {
	item, err := v.index.GetEvidence(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(item.StoragePath)
	if err != nil {
		if os.IsNotExist(err) {
			return item, nil, errors.NewIntegrityError("ARTIFACT_MISSING",
				"evidence artifact is missing from the vault")
		}
		return nil, nil, errors.NewInternalError("reading evidence artifact").WithCause(err)
	}
	return item, data, nil
}

// RecordCustody appends a custody event to the item's chain. The caller
// passes the head hash it observed so concurrent appends are rejected, not
// interleaved.
func (v *Vault) RecordCustody(ctx context.Context, id uuid.UUID, actor string, action forensics.CustodyAction, location, notes, observedHead string) (*forensics.EvidenceItem, error) {
	item, err := v.index.GetEvidence(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, err := forensics.NewCustodyEntry(actor, action, location, notes)
	if err != nil {
		return nil, err
	}
	if err := item.Custody.Append(entry, observedHead); err != nil {
		return nil, err
	}
	if err := v.index.SaveEvidence(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Verify re-reads the artifact, checks it against the recorded digest and
// verifies the custody chain. Results are recorded, never repaired.
func (v *Vault) Verify(ctx context.Context, id uuid.UUID) (*forensics.EvidenceItem, error) {
	item, err := v.index.GetEvidence(ctx, id)
	if err != nil {
		return nil, err
	}

	data, readErr := os.ReadFile(item.StoragePath)
	if readErr != nil && !os.IsNotExist(readErr) {
		return nil, errors.NewInternalError("reading evidence artifact").WithCause(readErr)
	}
	status := item.CheckIntegrity(data)
	v.metrics.EvidenceVerifies.WithLabelValues(string(status)).Inc()

	if err := item.Custody.Verify(); err != nil {
		item.Integrity = forensics.IntegrityTampered
		v.logger.Warn("custody chain verification failed",
			zap.String("evidence_id", id.String()),
			zap.Error(err))
	}
	if item.Integrity != forensics.IntegrityVerified {
		v.logger.Warn("evidence integrity check failed",
			zap.String("evidence_id", id.String()),
			zap.String("status", string(item.Integrity)))
	}

	if err := v.index.SaveEvidence(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// Backup copies the artifact into every configured backup directory and
// records the copies on the item.
func (v *Vault) Backup(ctx context.Context, id uuid.UUID) (*forensics.EvidenceItem, error) {
	if len(v.backupDirs) == 0 {
		return nil, errors.NewValidationError("NO_BACKUP_DIRS", "no backup locations configured")
	}
	item, data, err := v.read(ctx, id)
	if err != nil {
		return nil, err
	}

	for _, dir := range v.backupDirs {
		path := v.artifactPath(dir, id)
		if err := writeAtomic(path, data); err != nil {
			return nil, err
		}
		if !contains(item.Backups, path) {
			item.Backups = append(item.Backups, path)
		}
	}
	if err := v.index.SaveEvidence(ctx, item); err != nil {
		return nil, err
	}
	v.logger.Info("evidence backed up",
		zap.String("evidence_id", id.String()),
		zap.Int("locations", len(v.backupDirs)))
	return item, nil
}

// Reconcile scans the whole vault: every indexed item is verified, and files
// on disk with no index record are reported as orphans.
func (v *Vault) Reconcile(ctx context.Context) (*ReconciliationReport, error) {
	items, err := v.index.AllEvidence(ctx)
	if err != nil {
		return nil, err
	}

	report := &ReconciliationReport{}
	referenced := make(map[string]bool, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		referenced[item.StoragePath] = true
		report.Scanned++

		verified, err := v.Verify(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		switch verified.Integrity {
		case forensics.IntegrityVerified:
			report.Verified++
		case forensics.IntegrityCorrupted:
			report.Missing = append(report.Missing, item.ID)
		default:
			report.Tampered = append(report.Tampered, item.ID)
		}
	}

	walkErr := filepath.Walk(v.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".evidence" {
			return nil
		}
		if !referenced[path] {
			report.Orphans = append(report.Orphans, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, errors.NewInternalError("walking vault tree").WithCause(walkErr)
	}

	v.logger.Info("vault reconciliation complete",
		zap.Int("scanned", report.Scanned),
		zap.Int("verified", report.Verified),
		zap.Int("tampered", len(report.Tampered)),
		zap.Int("missing", len(report.Missing)),
		zap.Int("orphans", len(report.Orphans)))
	return report, nil
}

// List returns the evidence attached to a case
func (v *Vault) List(ctx context.Context, caseID uuid.UUID) ([]*forensics.EvidenceItem, error) {
	return v.index.ListEvidence(ctx, caseID)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.NewInternalError("creating artifact directory").WithCause(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.NewInternalError("creating temp artifact").WithCause(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.NewInternalError("writing artifact").WithCause(err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.NewInternalError("syncing artifact").WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewInternalError("closing artifact").WithCause(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.NewInternalError("publishing artifact").WithCause(err)
	}
	return nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
