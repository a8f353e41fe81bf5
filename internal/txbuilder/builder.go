// Package txbuilder turns a simulated contract write into an unsigned
// transaction with gas and fee fields filled in from the live network.
package txbuilder

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/gateway-fm/stringstore/internal/contract"
	"github.com/gateway-fm/stringstore/internal/rpc"
)

// FeePolicy controls how gas and fees are derived for a write.
type FeePolicy struct {
	// TipCap is the EIP-1559 priority fee offered to the block producer.
	TipCap *big.Int

	// GasMarginPercent is added on top of the gas estimate.
	GasMarginPercent uint64

	// MaxGas caps the gas limit regardless of the estimate (0 = no cap).
	MaxGas uint64

	// Legacy selects type-0 transactions priced with eth_gasPrice.
	Legacy bool
}

// DefaultFeePolicy returns a policy with a 1.5 gwei tip and a 20% gas margin.
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		TipCap:           big.NewInt(1_500_000_000),
		GasMarginPercent: 20,
		MaxGas:           1_000_000,
	}
}

// TipGwei returns the tip expressed in gwei.
func (p FeePolicy) TipGwei() float64 {
	if p.TipCap == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(p.TipCap), big.NewFloat(params.GWei)).Float64()
	return f
}

// Fees are the price fields of a transaction.
type Fees struct {
	TipCap *big.Int
	FeeCap *big.Int // Gas price for legacy transactions
}

// Builder builds unsigned transactions for simulated write requests.
type Builder struct {
	client  rpc.Client
	chainID *big.Int
	policy  FeePolicy
	logger  *slog.Logger
}

// NewBuilder creates a new transaction builder.
func NewBuilder(client rpc.Client, chainID *big.Int, policy FeePolicy, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.TipCap == nil {
		policy.TipCap = DefaultFeePolicy().TipCap
	}
	return &Builder{
		client:  client,
		chainID: chainID,
		policy:  policy,
		logger:  logger,
	}
}

// ChainID returns the chain the builder signs for.
func (b *Builder) ChainID() *big.Int {
	return b.chainID
}

// SuggestFees derives fees from the latest block.
// Dynamic fee cap is 2*baseFee + tip, which survives several full blocks of
// base fee growth.
func (b *Builder) SuggestFees(ctx context.Context) (Fees, error) {
	if b.policy.Legacy {
		gasPrice, err := b.client.GetGasPrice(ctx)
		if err != nil {
			return Fees{}, fmt.Errorf("failed to fetch gas price: %w", err)
		}
		return Fees{TipCap: gasPrice, FeeCap: gasPrice}, nil
	}

	baseFee, err := b.client.GetBaseFee(ctx)
	if err != nil {
		return Fees{}, fmt.Errorf("failed to fetch base fee: %w", err)
	}
	return DynamicFees(baseFee, b.policy.TipCap), nil
}

// DynamicFees computes EIP-1559 fees for the given base fee and tip.
func DynamicFees(baseFee, tip *big.Int) Fees {
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return Fees{
		TipCap: new(big.Int).Set(tip),
		FeeCap: feeCap,
	}
}

// GasLimit applies the safety margin and cap to an estimate.
func GasLimit(estimate, marginPercent, maxGas uint64) uint64 {
	limit := estimate + estimate*marginPercent/100
	if maxGas > 0 && limit > maxGas {
		limit = maxGas
	}
	return limit
}

// Build creates the unsigned transaction for req with the given nonce.
func (b *Builder) Build(ctx context.Context, req *contract.WriteRequest, nonce uint64) (*types.Transaction, error) {
	if b.chainID == nil || b.chainID.Sign() == 0 {
		return nil, fmt.Errorf("ChainID must be non-nil and non-zero")
	}
	if req == nil {
		return nil, fmt.Errorf("write request is nil")
	}

	fees, err := b.SuggestFees(ctx)
	if err != nil {
		return nil, err
	}

	gas := GasLimit(req.Gas, b.policy.GasMarginPercent, b.policy.MaxGas)
	if gas < req.Gas {
		return nil, fmt.Errorf("gas estimate %d exceeds cap %d", req.Gas, b.policy.MaxGas)
	}

	tx := callTx(b.chainID, nonce, req, gas, fees, b.policy.Legacy)

	b.logger.Debug("Built transaction",
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas", gas),
		slog.String("fee_cap", fees.FeeCap.String()),
		slog.String("tip_cap", fees.TipCap.String()),
		slog.Bool("legacy", b.policy.Legacy),
	)

	return tx, nil
}
