// Package wallet supplies the wallet capability the controller depends on:
// authorizing addresses and signing then broadcasting contract writes. The
// local provider keeps keys in memory and stands in for a browser-injected
// wallet when the service runs headless.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stringstore/internal/contract"
	"github.com/gateway-fm/stringstore/internal/rpc"
	"github.com/gateway-fm/stringstore/internal/txbuilder"
)

var (
	// ErrNoAccounts is returned when the provider has nothing to authorize.
	ErrNoAccounts = errors.New("wallet has no accounts")

	// ErrUnknownAccount is returned when asked to sign for an address the
	// provider does not hold.
	ErrUnknownAccount = errors.New("account not managed by this wallet")
)

// Provider is the wallet capability used by the controller.
type Provider interface {
	// RequestAddresses asks the wallet to authorize its addresses, in the
	// wallet's preferred order.
	RequestAddresses(ctx context.Context) ([]common.Address, error)

	// WriteContract signs and broadcasts a simulated write on behalf of from.
	// The returned hash identifies the submitted transaction.
	WriteContract(ctx context.Context, from common.Address, req *contract.WriteRequest) (common.Hash, error)
}

// LocalProvider signs with in-memory keys and submits over JSON-RPC.
type LocalProvider struct {
	accounts []*Account
	byAddr   map[common.Address]*Account
	client   rpc.Client
	builder  *txbuilder.Builder
	logger   *slog.Logger

	// Serializes resync, nonce reservation and broadcast so each send starts
	// from the chain's pending nonce.
	sendMu sync.Mutex
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a provider over accounts. The first account is the
// one returned first from RequestAddresses.
func NewLocalProvider(accounts []*Account, client rpc.Client, builder *txbuilder.Builder, logger *slog.Logger) *LocalProvider {
	if logger == nil {
		logger = slog.Default()
	}
	byAddr := make(map[common.Address]*Account, len(accounts))
	for _, acc := range accounts {
		byAddr[acc.Address] = acc
	}
	return &LocalProvider{
		accounts: accounts,
		byAddr:   byAddr,
		client:   client,
		builder:  builder,
		logger:   logger,
	}
}

// RequestAddresses returns the addresses of all held accounts.
func (p *LocalProvider) RequestAddresses(ctx context.Context) ([]common.Address, error) {
	if len(p.accounts) == 0 {
		return nil, ErrNoAccounts
	}
	addrs := make([]common.Address, len(p.accounts))
	for i, acc := range p.accounts {
		addrs[i] = acc.Address
	}
	return addrs, nil
}

// WriteContract builds, signs and broadcasts req from the given account.
func (p *LocalProvider) WriteContract(ctx context.Context, from common.Address, req *contract.WriteRequest) (common.Hash, error) {
	acc, ok := p.byAddr[from]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrUnknownAccount, from.Hex())
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	if err := acc.Resync(ctx, p.client); err != nil {
		return common.Hash{}, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	n := acc.ReserveNonce()
	defer n.Rollback()

	tx, err := p.builder.Build(ctx, req, n.Value())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to build tx: %w", err)
	}

	signer := types.LatestSignerForChainID(p.builder.ChainID())
	signedTx, err := types.SignTx(tx, signer, acc.PrivateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign tx: %w", err)
	}

	rlp, err := signedTx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to marshal tx: %w", err)
	}

	hash, err := p.client.SendRawTransaction(ctx, rlp)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send tx: %w", err)
	}
	n.Commit()

	if hash != signedTx.Hash() {
		p.logger.Warn("Node returned unexpected tx hash",
			slog.String("expected", signedTx.Hash().Hex()),
			slog.String("returned", hash.Hex()),
		)
	}

	p.logger.Info("Transaction submitted",
		slog.String("hash", hash.Hex()),
		slog.String("from", from.Hex()),
		slog.Uint64("nonce", n.Value()),
	)
	return hash, nil
}
