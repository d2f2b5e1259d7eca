package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
)

// Head is the current tip of a ledger as seen by its access provider.
type Head struct {
	Height int64
	Hash   string
}

// Client is the per-chain ledger access adapter. Implementations normalise
// provider-specific block and transaction shapes into the domain model.
type Client interface {
	// ChainID identifies the chain this client serves
	ChainID() chain.ChainID

	// Head returns the provider's current tip
	Head(ctx context.Context) (Head, error)

	// BlockByHeight fetches and normalises one block
	BlockByHeight(ctx context.Context, height int64) (*chain.Block, error)

	// BlockHash returns the canonical block hash at a height, for reorg checks
	BlockHash(ctx context.Context, height int64) (string, error)

	// Balance returns the native-asset balance of an address
	Balance(ctx context.Context, address string) (decimal.Decimal, error)

	// Close releases provider resources
	Close() error
}
