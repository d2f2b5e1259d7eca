package chain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// ChainID identifies a supported ledger.
type ChainID string

const (
	ChainBitcoin  ChainID = "bitcoin"
	ChainEthereum ChainID = "ethereum"
	ChainPolygon  ChainID = "polygon"
	ChainArbitrum ChainID = "arbitrum"
	ChainTron     ChainID = "tron"
)

func (c ChainID) String() string { return string(c) }

// IsValid checks the chain against the known set
func (c ChainID) IsValid() bool {
	switch c {
	case ChainBitcoin, ChainEthereum, ChainPolygon, ChainArbitrum, ChainTron:
		return true
	default:
		return false
	}
}

// LedgerModel distinguishes UTXO-style from account-style balance semantics.
type LedgerModel string

const (
	ModelUTXO    LedgerModel = "utxo"
	ModelAccount LedgerModel = "account"
)

// Model returns the balance semantics of the chain
func (c ChainID) Model() LedgerModel {
	if c == ChainBitcoin {
		return ModelUTXO
	}
	return ModelAccount
}

// AddressKey is the primary key of an address record: (chain, address string).
type AddressKey struct {
	Chain   ChainID `json:"chain"`
	Address string  `json:"address"`
}

func (k AddressKey) String() string {
	return fmt.Sprintf("%s:%s", k.Chain, k.Address)
}

// Address is the persisted per-address aggregate. Counters are monotonically
// non-decreasing and FirstSeen never exceeds LastSeen.
type Address struct {
	Key       AddressKey `json:"key"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`

	InCount  int64 `json:"in_count"`
	OutCount int64 `json:"out_count"`

	// Aggregate volumes keyed by asset symbol
	InVolume  map[string]decimal.Decimal `json:"in_volume"`
	OutVolume map[string]decimal.Decimal `json:"out_volume"`

	RiskScore float64  `json:"risk_score"`
	Labels    []string `json:"labels,omitempty"`
}

// NewAddress creates an address aggregate seeded at its first observation
func NewAddress(key AddressKey, seenAt time.Time) (*Address, error) {
	if !key.Chain.IsValid() {
		return nil, errors.NewValidationError("INVALID_CHAIN", fmt.Sprintf("unknown chain: %s", key.Chain))
	}
	if key.Address == "" {
		return nil, errors.NewValidationError("MISSING_ADDRESS", "address string is required")
	}
	return &Address{
		Key:       key,
		FirstSeen: seenAt.UTC(),
		LastSeen:  seenAt.UTC(),
		InVolume:  make(map[string]decimal.Decimal),
		OutVolume: make(map[string]decimal.Decimal),
	}, nil
}

// Observe folds a movement into the aggregate, keeping the counter and
// timestamp invariants.
func (a *Address) Observe(at time.Time, incoming bool, asset string, amount decimal.Decimal) {
	at = at.UTC()
	if at.Before(a.FirstSeen) {
		a.FirstSeen = at
	}
	if at.After(a.LastSeen) {
		a.LastSeen = at
	}
	if incoming {
		a.InCount++
		a.InVolume[asset] = a.InVolume[asset].Add(amount)
	} else {
		a.OutCount++
		a.OutVolume[asset] = a.OutVolume[asset].Add(amount)
	}
}

// TxStatus is the confirmation state of a transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxOrphaned  TxStatus = "orphaned"
	TxFailed    TxStatus = "failed"
)

// Movement is one input or output leg of a transaction.
type Movement struct {
	Address string          `json:"address"`
	Asset   string          `json:"asset"`
	Amount  decimal.Decimal `json:"amount"`
}

// Transaction is a normalised cross-chain transaction record, immutable once
// confirmed. Re-org handling reassigns BlockHeight and may mark it orphaned.
type Transaction struct {
	Chain       ChainID         `json:"chain"`
	Hash        string          `json:"hash"`
	BlockHeight int64           `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	Inputs      []Movement      `json:"inputs"`
	Outputs     []Movement      `json:"outputs"`
	Fee         decimal.Decimal `json:"fee"`
	Status      TxStatus        `json:"status"`
}

// NewTransaction validates and builds a normalised transaction record
func NewTransaction(chain ChainID, hash string, height int64, blockHash string, ts time.Time) (*Transaction, error) {
	if !chain.IsValid() {
		return nil, errors.NewValidationError("INVALID_CHAIN", fmt.Sprintf("unknown chain: %s", chain))
	}
	if hash == "" {
		return nil, errors.NewValidationError("MISSING_TX_HASH", "transaction hash is required")
	}
	if height < 0 {
		return nil, errors.NewValidationError("INVALID_HEIGHT", "block height must be non-negative")
	}
	return &Transaction{
		Chain:       chain,
		Hash:        hash,
		BlockHeight: height,
		BlockHash:   blockHash,
		Timestamp:   ts.UTC(),
		Status:      TxConfirmed,
	}, nil
}

// TotalIn sums the input legs per asset
func (t *Transaction) TotalIn() map[string]decimal.Decimal {
	return sumMovements(t.Inputs)
}

// TotalOut sums the output legs per asset
func (t *Transaction) TotalOut() map[string]decimal.Decimal {
	return sumMovements(t.Outputs)
}

func sumMovements(ms []Movement) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, m := range ms {
		totals[m.Asset] = totals[m.Asset].Add(m.Amount)
	}
	return totals
}

// CheckBalance verifies the per-model conservation invariant. For UTXO
// ledgers inputs must equal outputs plus fee on the native asset.
func (t *Transaction) CheckBalance() error {
	if t.Chain.Model() != ModelUTXO {
		return nil
	}
	in := t.TotalIn()
	out := t.TotalOut()
	for asset, inSum := range in {
		expect := out[asset]
		if asset == nativeAsset(t.Chain) {
			expect = expect.Add(t.Fee)
		}
		if !inSum.Equal(expect) {
			return errors.NewSemanticError("UNBALANCED_TX",
				fmt.Sprintf("tx %s: inputs %s != outputs+fee %s for %s", t.Hash, inSum, expect, asset))
		}
	}
	return nil
}

func nativeAsset(chain ChainID) string {
	switch chain {
	case ChainBitcoin:
		return "BTC"
	case ChainEthereum, ChainArbitrum:
		return "ETH"
	case ChainPolygon:
		return "MATIC"
	case ChainTron:
		return "TRX"
	default:
		return ""
	}
}

// NativeAsset exposes the chain's fee asset symbol
func NativeAsset(chain ChainID) string { return nativeAsset(chain) }

// Block is a normalised block header plus its transactions.
type Block struct {
	Chain        ChainID        `json:"chain"`
	Height       int64          `json:"height"`
	Hash         string         `json:"hash"`
	ParentHash   string         `json:"parent_hash"`
	Timestamp    time.Time      `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
}

// TxEnvelope is the unit published from collectors to the analysis queue.
// Orphaned envelopes retract a previously published transaction that fell
// off the canonical chain.
type TxEnvelope struct {
	Tx       *Transaction `json:"tx"`
	Orphaned bool         `json:"orphaned"`
}
