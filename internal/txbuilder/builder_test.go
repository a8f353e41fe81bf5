package txbuilder

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stringstore/internal/contract"
	"github.com/gateway-fm/stringstore/internal/rpc"
)

var (
	testChainID  = big.NewInt(11155111)
	testContract = common.HexToAddress("0x8407Ea3A24f3756A1dC8B6aAaD9Cc4ED4557F30B")
)

type feeClient struct {
	rpc.Client
	baseFee  *big.Int
	gasPrice *big.Int
	err      error
}

func (c *feeClient) GetBaseFee(ctx context.Context) (*big.Int, error) {
	return c.baseFee, c.err
}

func (c *feeClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	return c.gasPrice, c.err
}

func testRequest() *contract.WriteRequest {
	return &contract.WriteRequest{
		To:    testContract,
		Data:  []byte{0x36, 0x8b, 0x87, 0x72},
		Value: big.NewInt(0),
		Gas:   30000,
	}
}

func TestDynamicFees(t *testing.T) {
	fees := DynamicFees(big.NewInt(10), big.NewInt(3))
	if fees.FeeCap.Int64() != 23 {
		t.Errorf("FeeCap = %v, want 23", fees.FeeCap)
	}
	if fees.TipCap.Int64() != 3 {
		t.Errorf("TipCap = %v, want 3", fees.TipCap)
	}
}

func TestGasLimit(t *testing.T) {
	tests := []struct {
		name     string
		estimate uint64
		margin   uint64
		max      uint64
		want     uint64
	}{
		{"20 percent margin", 30000, 20, 0, 36000},
		{"no margin", 30000, 0, 0, 30000},
		{"capped", 900000, 20, 1000000, 1000000},
		{"under cap", 50000, 20, 1000000, 60000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GasLimit(tt.estimate, tt.margin, tt.max); got != tt.want {
				t.Errorf("GasLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBuildDynamicFee(t *testing.T) {
	client := &feeClient{baseFee: big.NewInt(1_000_000_000)}
	b := NewBuilder(client, testChainID, DefaultFeePolicy(), nil)

	tx, err := b.Build(context.Background(), testRequest(), 7)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if tx.Type() != types.DynamicFeeTxType {
		t.Errorf("Type() = %d, want dynamic fee", tx.Type())
	}
	if tx.Nonce() != 7 {
		t.Errorf("Nonce() = %d, want 7", tx.Nonce())
	}
	if tx.Gas() != 36000 {
		t.Errorf("Gas() = %d, want 36000", tx.Gas())
	}
	if *tx.To() != testContract {
		t.Errorf("To() = %s", tx.To().Hex())
	}
	if tx.ChainId().Cmp(testChainID) != 0 {
		t.Errorf("ChainId() = %v", tx.ChainId())
	}
	// 2 * 1 gwei + 1.5 gwei
	if tx.GasFeeCap().Int64() != 3_500_000_000 {
		t.Errorf("GasFeeCap() = %v, want 3.5 gwei", tx.GasFeeCap())
	}
	if tx.GasTipCap().Int64() != 1_500_000_000 {
		t.Errorf("GasTipCap() = %v, want 1.5 gwei", tx.GasTipCap())
	}
}

func TestBuildLegacy(t *testing.T) {
	client := &feeClient{gasPrice: big.NewInt(42)}
	policy := DefaultFeePolicy()
	policy.Legacy = true
	b := NewBuilder(client, testChainID, policy, nil)

	tx, err := b.Build(context.Background(), testRequest(), 0)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if tx.Type() != types.LegacyTxType {
		t.Errorf("Type() = %d, want legacy", tx.Type())
	}
	if tx.GasPrice().Int64() != 42 {
		t.Errorf("GasPrice() = %v, want 42", tx.GasPrice())
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		chainID *big.Int
		client  *feeClient
		req     *contract.WriteRequest
	}{
		{"nil chain id", nil, &feeClient{baseFee: big.NewInt(1)}, testRequest()},
		{"zero chain id", big.NewInt(0), &feeClient{baseFee: big.NewInt(1)}, testRequest()},
		{"nil request", testChainID, &feeClient{baseFee: big.NewInt(1)}, nil},
		{"fee lookup fails", testChainID, &feeClient{err: errors.New("boom")}, testRequest()},
		{"estimate above cap", testChainID, &feeClient{baseFee: big.NewInt(1)}, &contract.WriteRequest{To: testContract, Gas: 2_000_000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(tt.client, tt.chainID, DefaultFeePolicy(), nil)
			if _, err := b.Build(context.Background(), tt.req, 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFeePolicyTipGwei(t *testing.T) {
	if got := DefaultFeePolicy().TipGwei(); got != 1.5 {
		t.Errorf("TipGwei() = %v, want 1.5", got)
	}
	if got := (FeePolicy{}).TipGwei(); got != 0 {
		t.Errorf("TipGwei() on empty policy = %v, want 0", got)
	}
}
