package rest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/cases"
)

type createCaseRequest struct {
	Title        string `json:"title" validate:"required"`
	Description  string `json:"description"`
	Priority     string `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	Investigator string `json:"investigator"`
	Jurisdiction string `json:"jurisdiction"`
}

func (h *Handler) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Priority == "" {
		req.Priority = string(forensics.PriorityMedium)
	}
	c, err := h.cases.Create(r.Context(), req.Title, req.Description,
		forensics.Priority(req.Priority), req.Investigator, req.Jurisdiction, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := cases.Filter{
		Status:       forensics.CaseStatus(query.Get("status")),
		Priority:     forensics.Priority(query.Get("priority")),
		Investigator: query.Get("investigator"),
	}
	filter.Limit, _ = strconv.Atoi(query.Get("limit"))
	filter.Offset, _ = strconv.Atoi(query.Get("offset"))

	list, err := h.cases.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": list, "count": len(list)})
}

func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.cases.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

func (h *Handler) handleTransitionCase(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req transitionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.cases.Transition(r.Context(), id, forensics.CaseStatus(req.Status),
		actorFrom(r), req.Reason, isAdmin(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type noteRequest struct {
	Note string `json:"note" validate:"required"`
}

func (h *Handler) handleAddCaseNote(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req noteRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	c, err := h.cases.AddNote(r.Context(), id, actorFrom(r), req.Note)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type attachEvidenceRequest struct {
	Type     string            `json:"type"`
	Source   string            `json:"source"`
	Data     string            `json:"data" validate:"required"`
	Metadata map[string]string `json:"metadata"`
}

func (h *Handler) handleAttachEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req attachEvidenceRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		writeError(w, h.logger,
			errors.NewValidationError("INVALID_DATA", "evidence data must be base64"))
		return
	}
	item, err := h.cases.AttachEvidence(r.Context(), id, forensics.EvidenceType(req.Type),
		req.Source, actorFrom(r), data, req.Metadata)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleListCaseEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items, err := h.cases.Evidence(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"evidence": items, "count": len(items)})
}

func (h *Handler) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	item, data, err := h.vault.Get(r.Context(), id, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"item": item,
		"data": base64.StdEncoding.EncodeToString(data),
	})
}

type custodyRequest struct {
	Action       string `json:"action" validate:"required"`
	Location     string `json:"location"`
	Notes        string `json:"notes"`
	ObservedHead string `json:"observed_head" validate:"required"`
}

func (h *Handler) handleRecordCustody(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req custodyRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	item, err := h.vault.RecordCustody(r.Context(), id, actorFrom(r),
		forensics.CustodyAction(req.Action), req.Location, req.Notes, req.ObservedHead)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleVerifyEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	item, err := h.vault.Verify(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleBackupEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	item, err := h.vault.Backup(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleReconcileVault(w http.ResponseWriter, r *http.Request) {
	report, err := h.vault.Reconcile(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type courtPreparationRequest struct {
	Jurisdiction string `json:"jurisdiction"`
	CourtType    string `json:"court_type" validate:"required,oneof=criminal civil administrative"`
	Standard     string `json:"standard" validate:"required,oneof=preponderance clear_and_convincing beyond_reasonable_doubt"`
}

func (h *Handler) handleCourtPreparation(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathUUID(r, "case_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req courtPreparationRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	items, err := h.cases.Evidence(r.Context(), caseID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	record, err := h.court.AssessCase(r.Context(), caseID, items, req.Jurisdiction,
		forensics.CourtType(req.CourtType), forensics.LegalStandard(req.Standard))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleCourtHistory(w http.ResponseWriter, r *http.Request) {
	caseID, err := pathUUID(r, "case_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	records, err := h.court.History(r.Context(), caseID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"records": records, "count": len(records)})
}

type generateReportRequest struct {
	CaseID string `json:"case_id" validate:"required,uuid"`
	Title  string `json:"title"`
}

// handleGenerateReport renders a case summary, stores it in the vault as a
// data export and returns the artifact metadata.
func (h *Handler) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req generateReportRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	id, err := uuid.Parse(req.CaseID)
	if err != nil {
		writeError(w, h.logger,
			errors.NewValidationError("INVALID_ID", "case_id is not a valid UUID"))
		return
	}

	c, err := h.cases.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	items, err := h.cases.Evidence(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	title := req.Title
	if title == "" {
		title = "Case summary: " + c.Title
	}
	body := renderCaseReport(title, c, items)
	sum := sha256.Sum256([]byte(body))

	item, err := h.cases.AttachEvidence(r.Context(), id, forensics.EvidenceExport,
		"report-generator", actorFrom(r), []byte(body),
		map[string]string{"report_title": title})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"evidence_id": item.ID,
		"title":       title,
		"digest":      hex.EncodeToString(sum[:]),
		"word_count":  len(strings.Fields(body)),
	})
}

func renderCaseReport(title string, c *forensics.Case, items []*forensics.EvidenceItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", title)
	fmt.Fprintf(&b, "Case %s (%s, priority %s)\n", c.ID, c.Status, c.Priority)
	if c.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", c.Description)
	}
	fmt.Fprintf(&b, "Opened: %s\n", c.CreatedDate.Format(time.RFC3339))
	if c.ClosedDate != nil {
		fmt.Fprintf(&b, "Closed: %s\n", c.ClosedDate.Format(time.RFC3339))
	}
	fmt.Fprintf(&b, "\nEvidence (%d items):\n", len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "- %s %s digest=%s integrity=%s custody_entries=%d\n",
			item.ID, item.Type, item.Digest, item.Integrity, len(item.Custody.Entries))
	}
	fmt.Fprintf(&b, "\nAudit trail (%d entries):\n", len(c.AuditLog))
	for _, entry := range c.AuditLog {
		fmt.Fprintf(&b, "- %s %s %s -> %s %s\n",
			entry.Timestamp.Format(time.RFC3339), entry.Actor, entry.From, entry.To, entry.Reason)
	}
	return b.String()
}
