package contracts

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	// ErrReverted matches any call that the contract rejected.
	ErrReverted = errors.New("execution reverted")
	// ErrEventNotFound is returned when a receipt has no log of the
	// requested event.
	ErrEventNotFound = errors.New("event not found in receipt")
	// ErrNilArgument is returned before a call is sent when one of its
	// integer arguments is nil.
	ErrNilArgument = errors.New("nil integer argument")
)

// CheckInts returns an error wrapping ErrNilArgument if any of values is
// nil. names label the values in the same order.
func CheckInts(contract, method string, names []string, values ...*big.Int) error {
	for i, v := range values {
		if v != nil {
			continue
		}
		name := fmt.Sprintf("#%d", i)
		if i < len(names) {
			name = names[i]
		}
		return fmt.Errorf("%s.%s: %w: %s", contract, method, ErrNilArgument, name)
	}
	return nil
}

// RevertError is a rejected contract call. It matches ErrReverted.
type RevertError struct {
	Contract string
	Method   string
	Reason   string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s.%s: %s", e.Contract, e.Method, ErrReverted)
	}
	return fmt.Sprintf("%s.%s: %s: %s", e.Contract, e.Method, ErrReverted, e.Reason)
}

func (e *RevertError) Is(target error) bool {
	return target == ErrReverted
}

// Revert builds a RevertError.
func Revert(contract, method, reason string) error {
	return &RevertError{Contract: contract, Method: method, Reason: reason}
}
