// Package storage keeps the history of write attempts made by the service.
package storage

import (
	"time"

	"github.com/gateway-fm/stringstore/pkg/types"
)

// WriteAttempt records one pass through simulate, submit and confirm.
// JSON tags use camelCase to match the API.
type WriteAttempt struct {
	ID          string             `json:"id"`
	Value       string             `json:"value"`
	From        string             `json:"from"`
	TxHash      string             `json:"txHash,omitempty"`
	Outcome     types.WriteOutcome `json:"outcome"`
	BlockNumber uint64             `json:"blockNumber,omitempty"`
	GasUsed     uint64             `json:"gasUsed,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"startedAt"`
	FinishedAt  *time.Time         `json:"finishedAt,omitempty"`
	DurationMs  int64              `json:"durationMs,omitempty"`
}

// Finish stamps the attempt with its outcome and end time.
func (a *WriteAttempt) Finish(outcome types.WriteOutcome, at time.Time) {
	a.Outcome = outcome
	a.FinishedAt = &at
	a.DurationMs = at.Sub(a.StartedAt).Milliseconds()
}

// PaginatedWriteAttempts is a page of attempts, newest first.
type PaginatedWriteAttempts struct {
	Attempts []WriteAttempt `json:"attempts"`
	Total    int            `json:"total"`
	Limit    int            `json:"limit"`
	Offset   int            `json:"offset"`
}
