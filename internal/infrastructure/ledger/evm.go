package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// weiPerEth scales raw wei amounts to the native asset unit.
var weiPerEth = decimal.NewFromBigInt(big.NewInt(1_000_000_000_000_000_000), 0)

// EVMClient adapts a JSON-RPC EVM endpoint to the Client interface. The same
// adapter serves Ethereum, Polygon and Arbitrum; only the chain id and the
// native asset symbol differ.
type EVMClient struct {
	chainID chain.ChainID
	eth     *ethclient.Client
	logger  *zap.Logger
}

// NewEVMClient dials the endpoint and verifies it by fetching the tip
func NewEVMClient(ctx context.Context, chainID chain.ChainID, endpoint string, logger *zap.Logger) (*EVMClient, error) {
	eth, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, errors.NewUpstreamError(string(chainID), "dial failed").WithCause(err)
	}
	height, err := eth.BlockNumber(ctx)
	if err != nil {
		eth.Close()
		return nil, errors.NewUpstreamError(string(chainID), "tip query failed").WithCause(err)
	}
	logger.Info("connected to evm node",
		zap.String("chain", string(chainID)), zap.Uint64("height", height))
	return &EVMClient{chainID: chainID, eth: eth, logger: logger}, nil
}

func (c *EVMClient) ChainID() chain.ChainID { return c.chainID }

func (c *EVMClient) Head(ctx context.Context) (Head, error) {
	header, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return Head{}, errors.NewUpstreamError(string(c.chainID), "header fetch failed").WithCause(err)
	}
	return Head{Height: header.Number.Int64(), Hash: header.Hash().Hex()}, nil
}

func (c *EVMClient) BlockHash(ctx context.Context, height int64) (string, error) {
	header, err := c.eth.HeaderByNumber(ctx, big.NewInt(height))
	if err != nil {
		return "", errors.NewUpstreamError(string(c.chainID), "header fetch failed").WithCause(err)
	}
	return header.Hash().Hex(), nil
}

// BlockByHeight fetches a full block and normalises its transactions into
// account-model movements: one input leg from the sender, one output leg to
// the recipient.
func (c *EVMClient) BlockByHeight(ctx context.Context, height int64) (*chain.Block, error) {
	ethBlock, err := c.eth.BlockByNumber(ctx, big.NewInt(height))
	if err != nil {
		return nil, errors.NewUpstreamError(string(c.chainID), "block fetch failed").WithCause(err)
	}

	block := &chain.Block{
		Chain:      c.chainID,
		Height:     height,
		Hash:       ethBlock.Hash().Hex(),
		ParentHash: ethBlock.ParentHash().Hex(),
		Timestamp:  time.Unix(int64(ethBlock.Time()), 0).UTC(),
	}

	signer := types.LatestSignerForChainID(big.NewInt(evmNetworkID(c.chainID)))
	asset := chain.NativeAsset(c.chainID)

	for _, ethTx := range ethBlock.Transactions() {
		tx, err := chain.NewTransaction(c.chainID, ethTx.Hash().Hex(), height, block.Hash, block.Timestamp)
		if err != nil {
			continue
		}

		from, err := types.Sender(signer, ethTx)
		if err != nil {
			c.logger.Debug("sender recovery failed", zap.String("tx", ethTx.Hash().Hex()), zap.Error(err))
			continue
		}

		value := decimal.NewFromBigInt(ethTx.Value(), 0).Div(weiPerEth)
		gasCap := decimal.NewFromBigInt(ethTx.GasPrice(), 0).
			Mul(decimal.NewFromInt(int64(ethTx.Gas()))).Div(weiPerEth)

		tx.Inputs = append(tx.Inputs, chain.Movement{
			Address: from.Hex(), Asset: asset, Amount: value,
		})
		if to := ethTx.To(); to != nil {
			tx.Outputs = append(tx.Outputs, chain.Movement{
				Address: to.Hex(), Asset: asset, Amount: value,
			})
		}
		tx.Fee = gasCap

		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

func (c *EVMClient) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	wei, err := c.eth.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return decimal.Zero, errors.NewUpstreamError(string(c.chainID), "balance fetch failed").WithCause(err)
	}
	return decimal.NewFromBigInt(wei, 0).Div(weiPerEth), nil
}

func (c *EVMClient) Close() error {
	c.eth.Close()
	return nil
}

func evmNetworkID(chainID chain.ChainID) int64 {
	switch chainID {
	case chain.ChainEthereum:
		return 1
	case chain.ChainPolygon:
		return 137
	case chain.ChainArbitrum:
		return 42161
	default:
		return 1
	}
}
