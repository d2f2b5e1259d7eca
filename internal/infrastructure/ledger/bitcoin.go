package ledger

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// BitcoinClient adapts a Bitcoin Core style RPC endpoint to the Client
// interface. Bitcoin Core only speaks HTTP POST without TLS on local
// deployments, so the connection is configured accordingly.
type BitcoinClient struct {
	rpc    *rpcclient.Client
	logger *zap.Logger
}

// BitcoinConfig holds the RPC endpoint credentials.
type BitcoinConfig struct {
	Host string
	User string
	Pass string
}

// NewBitcoinClient connects and verifies the endpoint by fetching the tip
func NewBitcoinClient(cfg BitcoinConfig, logger *zap.Logger) (*BitcoinClient, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}

	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, errors.NewUpstreamError("bitcoin-rpc", "connect failed").WithCause(err)
	}

	height, err := client.GetBlockCount()
	if err != nil {
		client.Shutdown()
		return nil, errors.NewUpstreamError("bitcoin-rpc", "tip query failed").WithCause(err)
	}
	logger.Info("connected to bitcoin node", zap.Int64("height", height))

	return &BitcoinClient{rpc: client, logger: logger}, nil
}

func (c *BitcoinClient) ChainID() chain.ChainID { return chain.ChainBitcoin }

func (c *BitcoinClient) Head(ctx context.Context) (Head, error) {
	height, err := c.rpc.GetBlockCount()
	if err != nil {
		return Head{}, errors.NewUpstreamError("bitcoin-rpc", "getblockcount").WithCause(err)
	}
	hash, err := c.rpc.GetBlockHash(height)
	if err != nil {
		return Head{}, errors.NewUpstreamError("bitcoin-rpc", "getblockhash").WithCause(err)
	}
	return Head{Height: height, Hash: hash.String()}, nil
}

func (c *BitcoinClient) BlockHash(ctx context.Context, height int64) (string, error) {
	hash, err := c.rpc.GetBlockHash(height)
	if err != nil {
		return "", errors.NewUpstreamError("bitcoin-rpc", "getblockhash").WithCause(err)
	}
	return hash.String(), nil
}

// BlockByHeight fetches the verbose block and normalises every transaction.
// Input addresses require resolving each previous output, so the verbose
// form with prevout data is requested where the node supports it.
func (c *BitcoinClient) BlockByHeight(ctx context.Context, height int64) (*chain.Block, error) {
	hash, err := c.rpc.GetBlockHash(height)
	if err != nil {
		return nil, errors.NewUpstreamError("bitcoin-rpc", "getblockhash").WithCause(err)
	}
	verbose, err := c.rpc.GetBlockVerboseTx(hash)
	if err != nil {
		return nil, errors.NewUpstreamError("bitcoin-rpc", "getblock").WithCause(err)
	}

	block := &chain.Block{
		Chain:      chain.ChainBitcoin,
		Height:     height,
		Hash:       verbose.Hash,
		ParentHash: verbose.PreviousHash,
		Timestamp:  time.Unix(verbose.Time, 0).UTC(),
	}

	for i := range verbose.Tx {
		tx, err := c.normalizeTx(&verbose.Tx[i], height, verbose.Hash, block.Timestamp)
		if err != nil {
			c.logger.Warn("skipping unnormalisable transaction",
				zap.String("txid", verbose.Tx[i].Txid), zap.Error(err))
			continue
		}
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

func (c *BitcoinClient) normalizeTx(raw *btcjson.TxRawResult, height int64, blockHash string, ts time.Time) (*chain.Transaction, error) {
	tx, err := chain.NewTransaction(chain.ChainBitcoin, raw.Txid, height, blockHash, ts)
	if err != nil {
		return nil, err
	}

	var inTotal, outTotal decimal.Decimal
	for _, vin := range raw.Vin {
		if vin.IsCoinBase() {
			continue
		}
		amount, address := c.resolvePrevOut(vin)
		tx.Inputs = append(tx.Inputs, chain.Movement{
			Address: address,
			Asset:   "BTC",
			Amount:  amount,
		})
		inTotal = inTotal.Add(amount)
	}
	for _, vout := range raw.Vout {
		amount := decimal.NewFromFloat(vout.Value)
		address := ""
		if len(vout.ScriptPubKey.Addresses) > 0 {
			address = vout.ScriptPubKey.Addresses[0]
		} else if vout.ScriptPubKey.Address != "" {
			address = vout.ScriptPubKey.Address
		}
		tx.Outputs = append(tx.Outputs, chain.Movement{
			Address: address,
			Asset:   "BTC",
			Amount:  amount,
		})
		outTotal = outTotal.Add(amount)
	}
	if len(tx.Inputs) > 0 {
		tx.Fee = inTotal.Sub(outTotal)
	}
	return tx, nil
}

// resolvePrevOut looks up the spent output's value and address. Nodes with
// txindex serve this directly; without it the input stays anonymous with a
// zero amount rather than failing the whole block.
func (c *BitcoinClient) resolvePrevOut(vin btcjson.Vin) (decimal.Decimal, string) {
	prevHash, err := chainhash.NewHashFromStr(vin.Txid)
	if err != nil {
		return decimal.Zero, ""
	}
	prevTx, err := c.rpc.GetRawTransactionVerbose(prevHash)
	if err != nil {
		return decimal.Zero, ""
	}
	if int(vin.Vout) >= len(prevTx.Vout) {
		return decimal.Zero, ""
	}
	out := prevTx.Vout[vin.Vout]
	address := ""
	if len(out.ScriptPubKey.Addresses) > 0 {
		address = out.ScriptPubKey.Addresses[0]
	} else if out.ScriptPubKey.Address != "" {
		address = out.ScriptPubKey.Address
	}
	return decimal.NewFromFloat(out.Value), address
}

// Balance is unsupported on a plain node: address-level balances need an
// index Bitcoin Core does not keep. Callers fall back to the graph store's
// aggregates.
func (c *BitcoinClient) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, errors.NewUpstreamError("bitcoin-rpc", "address balance requires an external index")
}

func (c *BitcoinClient) Close() error {
	c.rpc.Shutdown()
	return nil
}

// SatoshiToBTC converts a raw satoshi amount using btcutil's fixed precision
func SatoshiToBTC(sats int64) decimal.Decimal {
	return decimal.NewFromFloat(btcutil.Amount(sats).ToBTC())
}
