// Package types contains public API types for the stringstore service.
// These types form the external interface and must remain backwards-compatible.
package types

import "time"

// Phase is the step an operation is currently in.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseReading    Phase = "reading"
	PhaseSimulating Phase = "simulating"
	PhaseSubmitting Phase = "submitting"
	PhaseConfirming Phase = "confirming"
)

// ErrorKind classifies the last failure shown to the user.
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindEnvironment   ErrorKind = "environment"   // No wallet provider present
	ErrorKindAuthorization ErrorKind = "authorization" // Address request refused or failed
	ErrorKindRead          ErrorKind = "read"          // getMessage call failed
	ErrorKindSimulation    ErrorKind = "simulation"    // setMessage dry-run failed
	ErrorKindSubmission    ErrorKind = "submission"    // Wallet signing or broadcast failed
	ErrorKindConfirmation  ErrorKind = "confirmation"  // Receipt polling failed or timed out
	ErrorKindReverted      ErrorKind = "reverted"      // Mined with failure status; no message shown
)

// User-facing error messages.
const (
	MessageNoProvider  = "Please install MetaMask or another Web3 wallet"
	MessageConnectFail = "Failed to connect wallet"
	MessageReadFail    = "Failed to read message"
	MessageWriteFail   = "Failed to write message"
)

// State is a snapshot of the session and view state.
type State struct {
	Account    string    `json:"account,omitempty"` // Connected address; empty when disconnected
	AccountURL string    `json:"accountUrl,omitempty"`
	Connected  bool      `json:"connected"`
	Value      string    `json:"value"`
	HasValue   bool      `json:"hasValue"` // False until the first successful read
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
	Cause      string    `json:"cause,omitempty"` // Underlying error text for operators
	TxHash     string    `json:"txHash,omitempty"`
	TxURL      string    `json:"txUrl,omitempty"`
	Busy       bool      `json:"busy"`
	Phase      Phase     `json:"phase"`
	Network    string    `json:"network"`
	ChainID    uint64    `json:"chainId"`
	Contract   string    `json:"contract"`
	Version    uint64    `json:"version"` // Incremented on every change
	UpdatedAt  time.Time `json:"updatedAt"`
}

// WriteValueRequest is the body of POST /v1/write.
type WriteValueRequest struct {
	Value string `json:"value"`
}

// WriteOutcome is the final result of a write attempt.
type WriteOutcome string

const (
	OutcomePending          WriteOutcome = "pending"
	OutcomeSimulationFailed WriteOutcome = "simulation_failed"
	OutcomeSubmissionFailed WriteOutcome = "submission_failed"
	OutcomeConfirmed        WriteOutcome = "confirmed"
	OutcomeReverted         WriteOutcome = "reverted"
	OutcomeConfirmFailed    WriteOutcome = "confirm_failed"
)

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
