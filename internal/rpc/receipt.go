package rpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrReceiptTimeout is returned when a transaction is not mined within the wait budget.
	ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

	// ErrMalformedReceipt is returned when the node's receipt cannot be decoded.
	ErrMalformedReceipt = errors.New("malformed transaction receipt")
)

// WaitConfig controls receipt polling.
type WaitConfig struct {
	Timeout        time.Duration // 0 = bounded only by ctx
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultWaitConfig returns polling defaults tuned for ~12s block times.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		Timeout:        3 * time.Minute,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// WaitForReceipt polls until the transaction is mined and returns its receipt.
// Transport errors are tolerated until the deadline and the last one is
// reported alongside ErrReceiptTimeout. JSON-RPC errors and undecodable
// receipts end the wait immediately.
func WaitForReceipt(ctx context.Context, client Client, txHash common.Hash, cfg WaitConfig) (*TransactionReceipt, error) {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for {
		receipt, err := client.GetTransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil {
			if isPermanentLookupError(err) {
				return nil, fmt.Errorf("failed to fetch receipt for %s: %w", txHash.Hex(), err)
			}
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if lastErr != nil {
					return nil, fmt.Errorf("%w: %s (last error: %v)", ErrReceiptTimeout, txHash.Hex(), lastErr)
				}
				return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, txHash.Hex())
			}
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, cfg.MaxBackoff)
	}
}

func isPermanentLookupError(err error) bool {
	return isRPCError(err) || errors.Is(err, ErrMalformedReceipt)
}
