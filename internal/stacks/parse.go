package stacks

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"stacklend/internal/model"
)

// Contract print events arrive as Clarity tuple reprs, e.g.
//
//	(tuple (event "collateral-deposited") (user 'ST1ABC...) (amount u1000000) (sui-address "0x..."))
//
// Field extraction is done against that textual form.
var (
	amountPattern     = regexp.MustCompile(`\(amount\s+u(\d+)\)`)
	userPattern       = regexp.MustCompile(`\(user\s+'([A-Z0-9]+)\)`)
	suiAddressPattern = regexp.MustCompile(`\(sui-address\s+"(0x[a-fA-F0-9]{64})"\)`)
)

const (
	depositMarker  = "collateral-deposited"
	withdrawMarker = "withdraw-requested"
)

// ParseEvent classifies and extracts a collateral event from a contract
// log repr. It returns false for log entries that are not collateral
// events or that are missing a parseable amount.
func ParseEvent(repr, txID string, blockHeight uint64, sender string, logger *zap.Logger) (model.CollateralEvent, bool) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var kind model.EventKind
	switch {
	case strings.Contains(repr, depositMarker):
		kind = model.EventDeposit
	case strings.Contains(repr, withdrawMarker):
		kind = model.EventWithdrawRequest
	default:
		return model.CollateralEvent{}, false
	}

	amountMatch := amountPattern.FindStringSubmatch(repr)
	if amountMatch == nil {
		logger.Warn("could not parse amount from collateral event",
			zap.String("kind", string(kind)), zap.String("repr", repr))
		return model.CollateralEvent{}, false
	}
	amount, err := strconv.ParseUint(amountMatch[1], 10, 64)
	if err != nil {
		logger.Warn("amount overflow in collateral event", zap.String("repr", repr))
		return model.CollateralEvent{}, false
	}

	user := sender
	if userMatch := userPattern.FindStringSubmatch(repr); userMatch != nil {
		user = userMatch[1]
	}

	event := model.CollateralEvent{
		Kind:        kind,
		TxID:        txID,
		BlockHeight: blockHeight,
		User:        user,
		Amount:      amount,
		ObservedAt:  time.Now().UnixMilli(),
	}

	switch kind {
	case model.EventDeposit:
		event.ID = txID + ":deposit"
		if suiMatch := suiAddressPattern.FindStringSubmatch(repr); suiMatch != nil {
			event.SuiAddress = suiMatch[1]
		} else {
			// Still returned; dispatch rejects it so the outcome lands in
			// the ledger instead of vanishing at parse time.
			logger.Warn("no sui address in deposit event",
				zap.String("user", user), zap.String("tx_id", txID))
		}
	case model.EventWithdrawRequest:
		event.ID = txID + ":withdraw"
	}

	return event, true
}
