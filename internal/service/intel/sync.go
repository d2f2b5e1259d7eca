package intel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// LabelSink receives synchronised labels. Upserts are keyed on
// (source, target, value); entries the feed no longer carries are removed by
// the stale sweep.
type LabelSink interface {
	UpsertLabel(ctx context.Context, label *entity.Label) error
	RemoveStale(ctx context.Context, source string, before time.Time) (int, error)
}

// Feed describes one external intelligence source.
type Feed struct {
	Name   string           `json:"name"`
	URL    string           `json:"url"`
	Kind   entity.LabelKind `json:"kind"`
	Source string           `json:"source"`
}

// feedEntry is the wire shape of one feed line.
type feedEntry struct {
	Chain   string `json:"chain"`
	Address string `json:"address"`
	Value   string `json:"value"`
}

// SyncResult summarises one feed pass.
type SyncResult struct {
	Feed       string `json:"feed"`
	Fetched    int    `json:"fetched"`
	Upserted   int    `json:"upserted"`
	Removed    int    `json:"removed"`
	Provenance string `json:"provenance"`
}

// Syncer pulls external feeds and mirrors them into the label store. Every
// synchronised label carries the SHA-256 of the raw feed body it came from,
// so an assessment can always be traced back to the exact list snapshot.
type Syncer struct {
	sink   LabelSink
	client *http.Client
	logger *zap.Logger
}

// NewSyncer creates a feed syncer
func NewSyncer(sink LabelSink, timeout time.Duration, logger *zap.Logger) *Syncer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Syncer{
		sink:   sink,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Sync fetches one feed and reconciles the sink against it
func (s *Syncer) Sync(ctx context.Context, feed Feed) (*SyncResult, error) {
	if feed.URL == "" {
		return nil, errors.NewValidationError("MISSING_FEED_URL", "feed URL is required")
	}

	started := time.Now().UTC()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, errors.NewInternalError("building feed request").WithCause(err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamError(feed.Name, "feed fetch failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewUpstreamError(feed.Name,
			fmt.Sprintf("feed returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewUpstreamError(feed.Name, "reading feed body").WithCause(err)
	}
	sum := sha256.Sum256(body)
	provenance := hex.EncodeToString(sum[:])

	var entries []feedEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.NewUpstreamError(feed.Name, "feed body is not valid JSON").WithCause(err)
	}

	result := &SyncResult{Feed: feed.Name, Fetched: len(entries), Provenance: provenance}
	for _, entry := range entries {
		if entry.Address == "" {
			continue
		}
		value := entry.Value
		if value == "" {
			value = feed.Name
		}
		target := chain.AddressKey{Chain: chain.ChainID(entry.Chain), Address: entry.Address}
		label, err := entity.NewLabel(feed.Kind, value, feed.Source, target, provenance)
		if err != nil {
			return nil, err
		}
		if err := s.sink.UpsertLabel(ctx, label); err != nil {
			return nil, err
		}
		result.Upserted++
	}

	removed, err := s.sink.RemoveStale(ctx, feed.Source, started)
	if err != nil {
		return nil, err
	}
	result.Removed = removed

	s.logger.Info("intel feed synchronised",
		zap.String("feed", feed.Name),
		zap.Int("upserted", result.Upserted),
		zap.Int("removed", removed))
	return result, nil
}

// Job adapts a feed to a scheduler job function
func (s *Syncer) Job(feed Feed) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := s.Sync(ctx, feed)
		return err
	}
}
