package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// receiptClient returns nil receipts until the configured poll count is reached.
type receiptClient struct {
	Client
	minedAfter int32
	failFirst  bool
	fail       error // returned on every poll when set
	polls      atomic.Int32
}

func (c *receiptClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (*TransactionReceipt, error) {
	n := c.polls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	if c.failFirst && n == 1 {
		return nil, errors.New("connection reset")
	}
	if c.minedAfter > 0 && n >= c.minedAfter {
		return &TransactionReceipt{TxHash: txHash, Status: 1, BlockNumber: 42}, nil
	}
	return nil, nil
}

func fastWait(timeout time.Duration) WaitConfig {
	return WaitConfig{
		Timeout:        timeout,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
	}
}

func TestWaitForReceipt(t *testing.T) {
	hash := common.HexToHash("0xabc")

	t.Run("mined after a few polls", func(t *testing.T) {
		client := &receiptClient{minedAfter: 3, failFirst: true}
		receipt, err := WaitForReceipt(context.Background(), client, hash, fastWait(time.Second))
		if err != nil {
			t.Fatalf("WaitForReceipt() error = %v", err)
		}
		if receipt.TxHash != hash || receipt.BlockNumber != 42 {
			t.Errorf("receipt = %+v", receipt)
		}
		if got := client.polls.Load(); got != 3 {
			t.Errorf("polls = %d, want 3", got)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		client := &receiptClient{}
		_, err := WaitForReceipt(context.Background(), client, hash, fastWait(20*time.Millisecond))
		if !errors.Is(err, ErrReceiptTimeout) {
			t.Fatalf("expected ErrReceiptTimeout, got %v", err)
		}
	})

	t.Run("permanent errors stop polling", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
		}{
			{"rpc error", &RPCError{Code: -32602, Message: "invalid argument 0: hex string has length 4"}},
			{"malformed receipt", fmt.Errorf("%w: status \"0xzz\"", ErrMalformedReceipt)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				client := &receiptClient{fail: tt.err}
				_, err := WaitForReceipt(context.Background(), client, hash, fastWait(time.Second))
				if err == nil || errors.Is(err, ErrReceiptTimeout) {
					t.Fatalf("error = %v, want immediate failure", err)
				}
				if !errors.Is(err, tt.err) {
					t.Errorf("error = %v, want it to wrap %v", err, tt.err)
				}
				if got := client.polls.Load(); got != 1 {
					t.Errorf("polls = %d, want 1", got)
				}
			})
		}
	})

	t.Run("parent cancellation is not a timeout", func(t *testing.T) {
		client := &receiptClient{}
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		_, err := WaitForReceipt(ctx, client, hash, fastWait(0))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}

func TestDefaultWaitConfig(t *testing.T) {
	cfg := DefaultWaitConfig()
	if cfg.Timeout != 3*time.Minute {
		t.Errorf("Timeout = %v, want 3m", cfg.Timeout)
	}
	if cfg.InitialBackoff != 200*time.Millisecond || cfg.MaxBackoff != 2*time.Second {
		t.Errorf("backoff = %v..%v, want 200ms..2s", cfg.InitialBackoff, cfg.MaxBackoff)
	}
}
