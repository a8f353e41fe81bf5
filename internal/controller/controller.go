// Package controller implements the interaction controller: it owns the
// wallet session and the view state, and sequences reads and writes of the
// stored message against the chain and the wallet provider.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/gateway-fm/stringstore/internal/contract"
	"github.com/gateway-fm/stringstore/internal/network"
	"github.com/gateway-fm/stringstore/internal/rpc"
	"github.com/gateway-fm/stringstore/internal/storage"
	"github.com/gateway-fm/stringstore/internal/wallet"
	"github.com/gateway-fm/stringstore/pkg/types"
)

// DefaultConfirmTimeout bounds the wait for a write to be mined.
const DefaultConfirmTimeout = 3 * time.Minute

// Operation names used in logs and metrics.
const (
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpRead       = "read"
	OpWrite      = "write"
)

// Chain is the contract capability the controller drives.
type Chain interface {
	GetMessage(ctx context.Context) (string, error)
	SimulateSetMessage(ctx context.Context, from common.Address, message string) (*contract.WriteRequest, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*rpc.TransactionReceipt, error)
}

// Metrics receives operation telemetry. All methods must be safe for
// concurrent use.
type Metrics interface {
	ObserveOperation(operation, result string, elapsed time.Duration)
	RecordReceipt(success bool, gasUsed uint64, confirmLatency time.Duration)
	SetBusy(busy bool)
	SetConnected(connected bool)
}

// Config holds optional collaborators and tuning for a Controller.
type Config struct {
	Network        *network.Network
	Contract       common.Address
	Storage        storage.Storage // Optional write attempt history
	Metrics        Metrics         // Optional
	ConfirmTimeout time.Duration   // 0 = DefaultConfirmTimeout
	Logger         *slog.Logger
}

// viewState is the mutable session and view state. Guarded by Controller.mu.
type viewState struct {
	account   *common.Address
	value     string
	hasValue  bool
	lastErr   *OpError
	txHash    *common.Hash
	busy      bool
	phase     types.Phase
	version   uint64
	updatedAt time.Time
}

// Controller is the interaction controller. It is safe for concurrent use;
// reads and writes are single-flight.
type Controller struct {
	chain    Chain
	provider wallet.Provider
	cfg      Config
	logger   *slog.Logger

	mu    sync.Mutex
	state viewState

	subMu       sync.Mutex
	subscribers map[chan types.State]struct{}

	// lifetime outlives individual requests; Close cancels in-flight writes.
	lifetime context.Context
	cancel   context.CancelFunc
}

// New creates a controller. A nil provider means no wallet is present and
// Connect reports the environment error.
func New(chain Chain, provider wallet.Provider, cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.Network == nil {
		cfg.Network = network.Sepolia()
	}

	lifetime, cancel := context.WithCancel(context.Background())

	return &Controller{
		chain:       chain,
		provider:    provider,
		cfg:         cfg,
		logger:      cfg.Logger,
		state:       viewState{phase: types.PhaseIdle, updatedAt: time.Now()},
		subscribers: make(map[chan types.State]struct{}),
		lifetime:    lifetime,
		cancel:      cancel,
	}
}

// Close cancels any in-flight write and closes subscriber channels.
func (c *Controller) Close() {
	c.cancel()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		close(ch)
		delete(c.subscribers, ch)
	}
}

// State returns a snapshot of the current state.
func (c *Controller) State() types.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastError returns the failure currently shown in the state, if any.
func (c *Controller) LastError() *OpError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.lastErr
}

// Connect asks the wallet provider for addresses and adopts the first one
// as the session. On failure the existing session is left as it was.
func (c *Controller) Connect(ctx context.Context) types.State {
	start := time.Now()

	if c.provider == nil {
		opErr := &OpError{Kind: types.ErrorKindEnvironment, Err: ErrNoProvider}
		c.logger.Warn("Connect failed: no wallet provider")
		c.observe(OpConnect, opErr, start)
		return c.update(func(s *viewState) { s.lastErr = opErr })
	}

	addrs, err := c.provider.RequestAddresses(ctx)
	if err == nil && len(addrs) == 0 {
		err = wallet.ErrNoAccounts
	}
	if err != nil {
		opErr := &OpError{Kind: types.ErrorKindAuthorization, Err: err}
		c.logger.Warn("Connect failed", slog.String("error", err.Error()))
		c.observe(OpConnect, opErr, start)
		return c.update(func(s *viewState) { s.lastErr = opErr })
	}

	account := addrs[0]
	c.logger.Info("Wallet connected",
		slog.String("account", account.Hex()),
		slog.Int("addresses", len(addrs)),
	)
	c.observe(OpConnect, nil, start)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SetConnected(true)
	}
	return c.update(func(s *viewState) {
		s.account = &account
		s.lastErr = nil
	})
}

// Disconnect clears the session. Nothing else is reset.
func (c *Controller) Disconnect() types.State {
	c.logger.Info("Wallet disconnected")
	c.observe(OpDisconnect, nil, time.Now())
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SetConnected(false)
	}
	return c.update(func(s *viewState) { s.account = nil })
}

// ReadValue fetches the stored message. No session is required. On failure
// the previously read value is kept.
func (c *Controller) ReadValue(ctx context.Context) (types.State, error) {
	start := time.Now()

	c.mu.Lock()
	if c.state.busy {
		c.mu.Unlock()
		return c.State(), ErrBusy
	}
	c.state.busy = true
	c.state.phase = types.PhaseReading
	c.state.lastErr = nil
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
	c.setBusyMetric(true)
	defer c.setBusyMetric(false)

	value, err := c.chain.GetMessage(ctx)
	if err != nil {
		opErr := &OpError{Kind: types.ErrorKindRead, Err: err}
		c.logger.Warn("Read failed", slog.String("error", err.Error()))
		c.observe(OpRead, opErr, start)
		return c.update(func(s *viewState) {
			s.lastErr = opErr
			s.busy = false
			s.phase = types.PhaseIdle
		}), nil
	}

	c.logger.Info("Message read", slog.Int("length", len(value)))
	c.observe(OpRead, nil, start)
	return c.update(func(s *viewState) {
		s.value = value
		s.hasValue = true
		s.lastErr = nil
		s.busy = false
		s.phase = types.PhaseIdle
	}), nil
}

// WriteValue simulates, submits and confirms setMessage(candidate) from the
// session address. It is a no-op without a session or with a blank
// candidate. The candidate is submitted exactly as given.
//
// The write keeps running if ctx is cancelled once it has started, so that a
// submitted transaction is always followed to its receipt; Close aborts it.
func (c *Controller) WriteValue(ctx context.Context, candidate string) (types.State, error) {
	start := time.Now()

	c.mu.Lock()
	if c.state.account == nil || strings.TrimSpace(candidate) == "" {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	if c.state.busy {
		c.mu.Unlock()
		return c.State(), ErrBusy
	}
	from := *c.state.account
	c.state.busy = true
	c.state.phase = types.PhaseSimulating
	c.state.lastErr = nil
	c.state.txHash = nil
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
	c.setBusyMetric(true)
	defer c.setBusyMetric(false)

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(c.lifetime, cancel)
	defer stop()

	attempt := &storage.WriteAttempt{
		ID:        uuid.NewString(),
		Value:     candidate,
		From:      from.Hex(),
		Outcome:   types.OutcomePending,
		StartedAt: start,
	}
	c.recordAttempt(ctx, attempt, true)

	logger := c.logger.With(slog.String("attempt", attempt.ID), slog.String("from", from.Hex()))

	// Simulate
	req, err := c.chain.SimulateSetMessage(ctx, from, candidate)
	if err != nil {
		return c.failWrite(ctx, logger, attempt, start, types.ErrorKindSimulation, types.OutcomeSimulationFailed, err), nil
	}

	// Submit
	c.setPhase(types.PhaseSubmitting)
	if c.provider == nil {
		return c.failWrite(ctx, logger, attempt, start, types.ErrorKindEnvironment, types.OutcomeSubmissionFailed, ErrNoProvider), nil
	}
	hash, err := c.provider.WriteContract(ctx, from, req)
	if err != nil {
		return c.failWrite(ctx, logger, attempt, start, types.ErrorKindSubmission, types.OutcomeSubmissionFailed, err), nil
	}
	submittedAt := time.Now()

	logger.Info("Write submitted", slog.String("tx", hash.Hex()))
	attempt.TxHash = hash.Hex()
	c.recordAttempt(ctx, attempt, false)
	c.update(func(s *viewState) {
		s.txHash = &hash
		s.phase = types.PhaseConfirming
	})

	// Confirm
	confirmCtx, confirmCancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	receipt, err := c.chain.WaitForReceipt(confirmCtx, hash)
	confirmCancel()
	if err != nil {
		if errors.Is(confirmCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, rpc.ErrReceiptTimeout) {
			err = errors.Join(rpc.ErrReceiptTimeout, err)
		}
		return c.failWrite(ctx, logger, attempt, start, types.ErrorKindConfirmation, types.OutcomeConfirmFailed, err), nil
	}

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.RecordReceipt(receipt.Succeeded(), receipt.GasUsed, time.Since(submittedAt))
	}
	attempt.BlockNumber = receipt.BlockNumber
	attempt.GasUsed = receipt.GasUsed

	if !receipt.Succeeded() {
		return c.failWrite(ctx, logger, attempt, start, types.ErrorKindReverted, types.OutcomeReverted, ErrReverted), nil
	}

	logger.Info("Write confirmed",
		slog.String("tx", hash.Hex()),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	attempt.Finish(types.OutcomeConfirmed, time.Now())
	c.recordAttempt(ctx, attempt, false)
	c.observe(OpWrite, nil, start)

	return c.update(func(s *viewState) {
		s.txHash = nil
		s.busy = false
		s.phase = types.PhaseIdle
	}), nil
}

// failWrite ends a write attempt with an error of the given kind. The tx id,
// if one was recorded, is left in place.
func (c *Controller) failWrite(ctx context.Context, logger *slog.Logger, attempt *storage.WriteAttempt, start time.Time, kind types.ErrorKind, outcome types.WriteOutcome, err error) types.State {
	opErr := &OpError{Kind: kind, Err: err}

	logger.Warn("Write failed",
		slog.String("kind", string(kind)),
		slog.String("tx", attempt.TxHash),
		slog.String("error", err.Error()),
	)

	attempt.Error = err.Error()
	attempt.Finish(outcome, time.Now())
	c.recordAttempt(ctx, attempt, false)
	c.observe(OpWrite, opErr, start)

	return c.update(func(s *viewState) {
		s.lastErr = opErr
		s.busy = false
		s.phase = types.PhaseIdle
	})
}

func (c *Controller) setPhase(phase types.Phase) {
	c.update(func(s *viewState) { s.phase = phase })
}

// update applies fn under the lock, bumps the version and notifies subscribers.
func (c *Controller) update(fn func(s *viewState)) types.State {
	c.mu.Lock()
	fn(&c.state)
	snap := c.commitLocked()
	c.mu.Unlock()
	c.publish(snap)
	return snap
}

func (c *Controller) commitLocked() types.State {
	c.state.version++
	c.state.updatedAt = time.Now()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() types.State {
	s := c.state
	out := types.State{
		Value:     s.value,
		HasValue:  s.hasValue,
		Busy:      s.busy,
		Phase:     s.phase,
		Network:   c.cfg.Network.Name,
		ChainID:   c.cfg.Network.ChainID,
		Contract:  c.cfg.Contract.Hex(),
		Version:   s.version,
		UpdatedAt: s.updatedAt,
	}
	if s.account != nil {
		out.Account = s.account.Hex()
		out.AccountURL = c.cfg.Network.AddressURL(*s.account)
		out.Connected = true
	}
	if s.lastErr != nil {
		out.Error = s.lastErr.Message()
		out.ErrorKind = s.lastErr.Kind
		out.Cause = s.lastErr.Err.Error()
	}
	if s.txHash != nil {
		out.TxHash = s.txHash.Hex()
		out.TxURL = c.cfg.Network.TxURL(*s.txHash)
	}
	return out
}

func (c *Controller) observe(op string, opErr *OpError, start time.Time) {
	if c.cfg.Metrics == nil {
		return
	}
	result := "success"
	if opErr != nil {
		result = string(opErr.Kind)
	}
	c.cfg.Metrics.ObserveOperation(op, result, time.Since(start))
}

func (c *Controller) setBusyMetric(busy bool) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SetBusy(busy)
	}
}

// recordAttempt persists attempt history. Storage failures are logged and
// never affect the operation.
func (c *Controller) recordAttempt(ctx context.Context, attempt *storage.WriteAttempt, create bool) {
	if c.cfg.Storage == nil {
		return
	}
	var err error
	if create {
		err = c.cfg.Storage.CreateAttempt(ctx, attempt)
	} else {
		err = c.cfg.Storage.UpdateAttempt(ctx, attempt)
	}
	if err != nil {
		c.logger.Warn("Failed to record write attempt",
			slog.String("attempt", attempt.ID),
			slog.String("error", err.Error()),
		)
	}
}
