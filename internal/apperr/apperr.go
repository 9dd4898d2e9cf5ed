// Package apperr defines the closed set of error kinds used to drive retry and abort decisions.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of an exchange interaction.
type Kind int

const (
	// KindUnknown is used for errors that were never classified.
	KindUnknown Kind = iota
	// KindNetwork is transient connectivity trouble.
	KindNetwork
	// KindExchange means the exchange rejected the request (rate limit, market state).
	KindExchange
	// KindOrder is a malformed or unfillable order.
	KindOrder
	// KindAccount is a balance or authentication problem.
	KindAccount
	// KindCircuitOpen is returned by the governor without attempting the call.
	KindCircuitOpen
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindExchange:
		return "exchange"
	case KindOrder:
		return "order"
	case KindAccount:
		return "account"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	// Transient marks exchange rejections that are worth retrying (rate limits, busy server).
	Transient bool
	Code      int64
	Err       error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Code != 0 {
		msg = fmt.Sprintf("%s (code=%d)", msg, e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Network(op string, err error) *Error { return New(KindNetwork, op, err) }

func Order(op string, err error) *Error { return New(KindOrder, op, err) }

func Account(op string, err error) *Error { return New(KindAccount, op, err) }

// Exchange builds an exchange rejection; transient ones are retried by the governor.
func Exchange(op string, transient bool, err error) *Error {
	e := New(KindExchange, op, err)
	e.Transient = transient
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether the governor may retry the call that produced err.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindNetwork:
		return true
	case KindExchange:
		return e.Transient
	default:
		return false
	}
}

// AbortsCycle reports whether err should end the current trading cycle early.
func AbortsCycle(err error) bool {
	switch KindOf(err) {
	case KindOrder, KindAccount, KindCircuitOpen:
		return true
	default:
		return false
	}
}
