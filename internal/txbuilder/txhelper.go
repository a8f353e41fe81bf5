package txbuilder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stringstore/internal/contract"
)

// callTx wraps a simulated contract call into an unsigned transaction.
// Legacy transactions pay fees.FeeCap as the gas price.
func callTx(chainID *big.Int, nonce uint64, req *contract.WriteRequest, gas uint64, fees Fees, legacy bool) *types.Transaction {
	to := req.To
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}

	if legacy {
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.FeeCap,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     req.Data,
		})
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
}
