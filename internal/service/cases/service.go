package cases

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
)

// Repository persists cases. Save must be a full-row upsert so the audit log
// travels with the case; the evidence counter moves through its own atomic
// operation so concurrent attachments never lose an increment.
type Repository interface {
	SaveCase(ctx context.Context, c *forensics.Case) error
	GetCase(ctx context.Context, id uuid.UUID) (*forensics.Case, error)
	ListCases(ctx context.Context, filter Filter) ([]*forensics.Case, error)
	IncrementEvidenceCount(ctx context.Context, id uuid.UUID) error
}

// Filter narrows case listings.
type Filter struct {
	Status       forensics.CaseStatus
	Priority     forensics.Priority
	Investigator string
	Limit        int
	Offset       int
}

// Vault is the evidence surface the case service drives.
type Vault interface {
	Put(ctx context.Context, caseID uuid.UUID, evidenceType forensics.EvidenceType, source, collector string, data []byte, metadata map[string]string) (*forensics.EvidenceItem, error)
	List(ctx context.Context, caseID uuid.UUID) ([]*forensics.EvidenceItem, error)
}

// Service owns the case lifecycle: creation, transitions, notes and evidence
// attachment. Transition legality lives on the domain type; the service adds
// persistence and the evidence counter.
type Service struct {
	repo   Repository
	vault  Vault
	logger *zap.Logger
}

// NewService creates the case service
func NewService(repo Repository, vault Vault, logger *zap.Logger) *Service {
	return &Service{repo: repo, vault: vault, logger: logger}
}

// BindVault attaches the vault after construction. The vault's case gate
// points back at this service, so wiring happens in two steps.
func (s *Service) BindVault(vault Vault) {
	s.vault = vault
}

// Create opens a new case
func (s *Service) Create(ctx context.Context, title, description string, priority forensics.Priority, investigator, jurisdiction, actor string) (*forensics.Case, error) {
	c, err := forensics.NewCase(title, priority, actor)
	if err != nil {
		return nil, err
	}
	c.Description = description
	c.Investigator = investigator
	c.Jurisdiction = jurisdiction
	if err := s.repo.SaveCase(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("case created",
		zap.String("case_id", c.ID.String()),
		zap.String("priority", string(c.Priority)))
	return c, nil
}

// Get loads one case
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*forensics.Case, error) {
	return s.repo.GetCase(ctx, id)
}

// List returns cases matching the filter
func (s *Service) List(ctx context.Context, filter Filter) ([]*forensics.Case, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListCases(ctx, filter)
}

// Transition moves a case through its lifecycle and persists the result
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to forensics.CaseStatus, actor, reason string, isAdmin bool) (*forensics.Case, error) {
	c, err := s.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.Transition(to, actor, reason, isAdmin); err != nil {
		return nil, err
	}
	if err := s.repo.SaveCase(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info("case transitioned",
		zap.String("case_id", id.String()),
		zap.String("to", string(to)),
		zap.String("actor", actor))
	return c, nil
}

// AddNote appends an investigator note
func (s *Service) AddNote(ctx context.Context, id uuid.UUID, actor, note string) (*forensics.Case, error) {
	c, err := s.repo.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.AddNote(actor, note); err != nil {
		return nil, err
	}
	if err := s.repo.SaveCase(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AttachEvidence stores an artifact against the case and bumps its evidence
// counter. The vault's case gate rejects frozen cases before any bytes land.
func (s *Service) AttachEvidence(ctx context.Context, id uuid.UUID, evidenceType forensics.EvidenceType, source, collector string, data []byte, metadata map[string]string) (*forensics.EvidenceItem, error) {
	item, err := s.vault.Put(ctx, id, evidenceType, source, collector, data, metadata)
	if err != nil {
		return nil, err
	}
	if err := s.repo.IncrementEvidenceCount(ctx, id); err != nil {
		return nil, err
	}
	return item, nil
}

// Evidence lists the case's attached artifacts
func (s *Service) Evidence(ctx context.Context, id uuid.UUID) ([]*forensics.EvidenceItem, error) {
	if _, err := s.repo.GetCase(ctx, id); err != nil {
		return nil, err
	}
	return s.vault.List(ctx, id)
}

// AcceptsEvidence implements the vault's case gate
func (s *Service) AcceptsEvidence(ctx context.Context, caseID uuid.UUID) error {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if !c.AcceptsEvidence() {
		return errors.NewSemanticError("CASE_FROZEN",
			"archived cases no longer accept evidence")
	}
	return nil
}
