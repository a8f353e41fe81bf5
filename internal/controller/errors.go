package controller

import (
	"errors"
	"fmt"

	"github.com/gateway-fm/stringstore/pkg/types"
)

var (
	// ErrBusy is returned when a read or write is requested while another is
	// in flight. The state is not touched.
	ErrBusy = errors.New("another operation is in progress")

	// ErrNoProvider means no wallet capability was injected.
	ErrNoProvider = errors.New("no wallet provider available")

	// ErrReverted means the write was mined but execution failed.
	ErrReverted = errors.New("transaction reverted")
)

// OpError is a failed controller operation, classified by kind.
type OpError struct {
	Kind types.ErrorKind
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Message returns the text shown to the user for this failure. Reverted
// writes carry no message; the retained tx id is the signal.
func (e *OpError) Message() string {
	switch e.Kind {
	case types.ErrorKindEnvironment:
		return types.MessageNoProvider
	case types.ErrorKindAuthorization:
		return types.MessageConnectFail
	case types.ErrorKindRead:
		return types.MessageReadFail
	case types.ErrorKindSimulation, types.ErrorKindSubmission, types.ErrorKindConfirmation:
		return types.MessageWriteFail
	default:
		return ""
	}
}
