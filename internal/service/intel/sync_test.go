package intel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
)

type memSink struct {
	labels  []*entity.Label
	removed int
}

func (s *memSink) UpsertLabel(ctx context.Context, label *entity.Label) error {
	s.labels = append(s.labels, label)
	return nil
}

func (s *memSink) RemoveStale(ctx context.Context, source string, before time.Time) (int, error) {
	return s.removed, nil
}

func TestSyncUpsertsFeedEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"chain":"bitcoin","address":"bc1qsanctioned","value":"SDN-12345"},
			{"chain":"ethereum","address":"0xblocked","value":"SDN-67890"},
			{"chain":"bitcoin","address":"","value":"ignored"}
		]`))
	}))
	defer server.Close()

	sink := &memSink{removed: 2}
	syncer := NewSyncer(sink, time.Second, zap.NewNop())

	result, err := syncer.Sync(context.Background(), Feed{
		Name:   "ofac-sdn",
		URL:    server.URL,
		Kind:   entity.LabelSanctions,
		Source: "ofac",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Fetched)
	assert.Equal(t, 2, result.Upserted)
	assert.Equal(t, 2, result.Removed)
	assert.NotEmpty(t, result.Provenance)

	require.Len(t, sink.labels, 2)
	assert.Equal(t, entity.LabelSanctions, sink.labels[0].Kind)
	assert.Equal(t, "ofac", sink.labels[0].Source)
	assert.Equal(t, result.Provenance, sink.labels[0].ProvenanceHash,
		"labels carry the digest of the feed snapshot")
}

func TestSyncUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	syncer := NewSyncer(&memSink{}, time.Second, zap.NewNop())
	_, err := syncer.Sync(context.Background(), Feed{Name: "down", URL: server.URL, Kind: entity.LabelThreatFeed, Source: "feed"})
	assert.Error(t, err)
}

func TestSyncRejectsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	syncer := NewSyncer(&memSink{}, time.Second, zap.NewNop())
	_, err := syncer.Sync(context.Background(), Feed{Name: "bad", URL: server.URL, Kind: entity.LabelThreatFeed, Source: "feed"})
	assert.Error(t, err)
}
