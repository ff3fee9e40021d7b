package stacks

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInsufficientFunds marks a broadcast rejected because the relayer's
// fee-paying account cannot cover the transaction fee. Callers may treat
// this as a tolerable partial failure when the destination-chain leg of a
// withdrawal already succeeded.
var ErrInsufficientFunds = errors.New("insufficient relayer funds")

// BroadcastError is a transaction rejection for any other reason.
type BroadcastError struct {
	Reason string
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast rejected: %s", e.Reason)
}

func classifyRejection(rejection broadcastRejection) error {
	if strings.Contains(rejection.Reason, "NotEnoughFunds") {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, rejection.Reason)
	}
	return &BroadcastError{Reason: fmt.Sprintf("%s - %s", rejection.Error, rejection.Reason)}
}
