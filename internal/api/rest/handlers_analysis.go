package rest

import (
	"net/http"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/risk"
)

func addressKeyFrom(r *http.Request) (chain.AddressKey, error) {
	key := chain.AddressKey{
		Chain:   chain.ChainID(r.PathValue("chain")),
		Address: r.PathValue("address"),
	}
	if !key.Chain.IsValid() {
		return chain.AddressKey{}, errors.NewValidationError("INVALID_CHAIN",
			"unknown chain: "+string(key.Chain))
	}
	if key.Address == "" {
		return chain.AddressKey{}, errors.NewValidationError("MISSING_ADDRESS", "address is required")
	}
	return key, nil
}

// Blockchain lookups

func (h *Handler) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	key, err := addressKeyFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	addr, err := h.graph.GetAddress(r.Context(), key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	labels, err := h.graph.LabelsFor(r.Context(), key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":      addr,
		"labels":       labels,
		"cluster_size": h.attribution.ClusterSize(key),
	})
}

func (h *Handler) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	chainID := chain.ChainID(r.PathValue("chain"))
	if !chainID.IsValid() {
		writeError(w, h.logger,
			errors.NewValidationError("INVALID_CHAIN", "unknown chain: "+string(chainID)))
		return
	}
	hash := r.PathValue("hash")
	if hash == "" {
		writeError(w, h.logger, errors.NewValidationError("MISSING_HASH", "transaction hash is required"))
		return
	}
	tx, err := h.graph.GetTransaction(r.Context(), chainID, hash)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) handleCounterparties(w http.ResponseWriter, r *http.Request) {
	key, err := addressKeyFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	parties, err := h.graph.Counterparties(r.Context(), key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counterparties": parties, "count": len(parties)})
}

func (h *Handler) handleCollectorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collectors.Status())
}

// Risk analysis

func (h *Handler) handleScoreAddress(w http.ResponseWriter, r *http.Request) {
	key, err := addressKeyFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	score, factors, err := h.risk.ScoreAddress(r.Context(), key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	assessment, err := h.risk.Publish(r.Context(), risk.TargetAddress, key.String(), score, factors)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (h *Handler) handleRiskHistory(w http.ResponseWriter, r *http.Request) {
	key, err := addressKeyFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	assessment, err := h.graph.LastAssessment(r.Context(), risk.TargetAddress, key.String())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (h *Handler) handlePatternMatches(w http.ResponseWriter, r *http.Request) {
	key, err := addressKeyFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	matches, err := h.graph.MatchesFor(r.Context(), key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches, "count": len(matches)})
}

// Attribution

type recordLinkRequest struct {
	Chain      string  `json:"chain" validate:"required"`
	AddressA   string  `json:"address_a" validate:"required"`
	AddressB   string  `json:"address_b" validate:"required"`
	Reason     string  `json:"reason" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

func (h *Handler) handleRecordLink(w http.ResponseWriter, r *http.Request) {
	var req recordLinkRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	chainID := chain.ChainID(req.Chain)
	if !chainID.IsValid() {
		writeError(w, h.logger,
			errors.NewValidationError("INVALID_CHAIN", "unknown chain: "+req.Chain))
		return
	}
	a := chain.AddressKey{Chain: chainID, Address: req.AddressA}
	b := chain.AddressKey{Chain: chainID, Address: req.AddressB}
	record, err := h.attribution.RecordLink(r.Context(), a, b,
		entity.LinkReason(req.Reason), req.Confidence, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

type splitRequest struct {
	Chain    string `json:"chain" validate:"required"`
	AddressA string `json:"address_a" validate:"required"`
	AddressB string `json:"address_b" validate:"required"`
}

func (h *Handler) handleSplitCluster(w http.ResponseWriter, r *http.Request) {
	var req splitRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	chainID := chain.ChainID(req.Chain)
	if !chainID.IsValid() {
		writeError(w, h.logger,
			errors.NewValidationError("INVALID_CHAIN", "unknown chain: "+req.Chain))
		return
	}
	a := chain.AddressKey{Chain: chainID, Address: req.AddressA}
	b := chain.AddressKey{Chain: chainID, Address: req.AddressB}
	record, err := h.attribution.Split(r.Context(), a, b, actorFrom(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) handleCluster(w http.ResponseWriter, r *http.Request) {
	key, err := addressKeyFrom(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	members := h.attribution.ClusterOf(key)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"members": members,
		"size":    len(members),
	})
}

func (h *Handler) handleAttributionStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_clusters": h.attribution.TotalClusters(),
	})
}
