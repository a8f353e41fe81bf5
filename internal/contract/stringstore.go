// Package contract binds the on-chain message store: a single string that
// anyone can read with getMessage() and overwrite with setMessage(string).
package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stringstore/internal/network"
	"github.com/gateway-fm/stringstore/internal/rpc"
)

// DefaultAddress is where the message contract is deployed on Sepolia.
const DefaultAddress = "0x8407Ea3A24f3756A1dC8B6aAaD9Cc4ED4557F30B"

// ErrMalformedResult is returned when call output does not decode as the ABI declares.
var ErrMalformedResult = errors.New("malformed contract call result")

// ErrNotDeployed is returned when no code exists at the contract address.
var ErrNotDeployed = errors.New("no contract code at address")

// Ref identifies the contract instance the service talks to. It is immutable
// once built.
type Ref struct {
	Address common.Address
	ABI     abi.ABI
	Network *network.Network
}

// NewRef builds a Ref for the given address on the given network.
func NewRef(address string, net *network.Network) (Ref, error) {
	if !common.IsHexAddress(address) {
		return Ref{}, fmt.Errorf("invalid contract address %q", address)
	}
	if net == nil {
		net = network.Sepolia()
	}
	return Ref{
		Address: common.HexToAddress(address),
		ABI:     parsedABI,
		Network: net,
	}, nil
}

// WriteRequest is a simulated setMessage call that is ready to be signed and
// submitted by a wallet provider.
type WriteRequest struct {
	From    common.Address
	To      common.Address
	Data    []byte
	Value   *big.Int
	Gas     uint64 // eth_estimateGas result, before any safety margin
	Message string
}

// RevertError carries a decoded revert reason from a failed simulation.
type RevertError struct {
	Reason string // Empty when the revert payload could not be decoded
	Data   []byte
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason != "" {
		return "execution reverted: " + e.Reason
	}
	return "execution reverted"
}

func (e *RevertError) Unwrap() error { return e.Err }

// StringStore performs reads and write simulations against the contract.
type StringStore struct {
	client rpc.Client
	ref    Ref
	logger *slog.Logger
}

// NewStringStore creates a binding for ref over client.
func NewStringStore(client rpc.Client, ref Ref, logger *slog.Logger) *StringStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StringStore{
		client: client,
		ref:    ref,
		logger: logger,
	}
}

// Ref returns the contract reference.
func (s *StringStore) Ref() Ref {
	return s.ref
}

// GetMessage reads the stored string at the latest block.
func (s *StringStore) GetMessage(ctx context.Context) (string, error) {
	data, err := s.ref.ABI.Pack(MethodGetMessage)
	if err != nil {
		return "", fmt.Errorf("failed to pack %s: %w", MethodGetMessage, err)
	}

	out, err := s.client.CallContract(ctx, rpc.CallMsg{To: s.ref.Address, Data: data}, "latest")
	if err != nil {
		return "", fmt.Errorf("failed to call %s: %w", MethodGetMessage, err)
	}

	return decodeMessage(s.ref.ABI, out)
}

func decodeMessage(contractABI abi.ABI, out []byte) (string, error) {
	values, err := contractABI.Unpack(MethodGetMessage, out)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("%w: expected 1 value, got %d", ErrMalformedResult, len(values))
	}
	msg, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %T", ErrMalformedResult, values[0])
	}
	return msg, nil
}

// SimulateSetMessage dry-runs setMessage(message) from the given sender and
// estimates its gas. A revert is returned as *RevertError.
func (s *StringStore) SimulateSetMessage(ctx context.Context, from common.Address, message string) (*WriteRequest, error) {
	data, err := s.ref.ABI.Pack(MethodSetMessage, message)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", MethodSetMessage, err)
	}

	msg := rpc.CallMsg{From: from, To: s.ref.Address, Data: data}

	if _, err := s.client.CallContract(ctx, msg, "latest"); err != nil {
		return nil, s.wrapCallError(err)
	}

	gas, err := s.client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", s.wrapCallError(err))
	}

	s.logger.Debug("Simulated setMessage",
		slog.String("from", from.Hex()),
		slog.Uint64("gas", gas),
		slog.Int("length", len(message)),
	)

	return &WriteRequest{
		From:    from,
		To:      s.ref.Address,
		Data:    data,
		Value:   big.NewInt(0),
		Gas:     gas,
		Message: message,
	}, nil
}

// wrapCallError turns a node-reported revert into a *RevertError and leaves
// every other error untouched.
func (s *StringStore) wrapCallError(err error) error {
	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) || !rpcErr.IsExecutionReverted() {
		return err
	}

	revert := &RevertError{Err: err}
	if data, ok := rpcErr.RevertData(); ok {
		revert.Data = data
		if reason, uerr := abi.UnpackRevert(data); uerr == nil {
			revert.Reason = reason
		}
	}
	return revert
}

// IsDeployed reports whether contract code exists at the configured address.
func (s *StringStore) IsDeployed(ctx context.Context) (bool, error) {
	code, err := s.client.GetCode(ctx, s.ref.Address.Hex())
	if err != nil {
		return false, err
	}
	return code != "" && code != "0x", nil
}

// WaitForReceipt polls until txHash is mined. The wait is bounded by ctx only;
// callers set the confirmation budget with a deadline.
func (s *StringStore) WaitForReceipt(ctx context.Context, txHash common.Hash) (*rpc.TransactionReceipt, error) {
	cfg := rpc.DefaultWaitConfig()
	cfg.Timeout = 0
	return rpc.WaitForReceipt(ctx, s.client, txHash, cfg)
}
