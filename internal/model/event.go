package model

// EventKind identifies a collateral contract event type.
type EventKind string

const (
	EventDeposit         EventKind = "deposit"
	EventWithdrawRequest EventKind = "withdraw-request"
)

// CollateralEvent is a parsed collateral contract event from Stacks.
type CollateralEvent struct {
	Kind        EventKind `json:"kind"`
	ID          string    `json:"id"`
	TxID        string    `json:"tx_id"`
	BlockHeight uint64    `json:"block_height"`
	User        string    `json:"user"`
	Amount      uint64    `json:"amount"`
	SuiAddress  string    `json:"sui_address,omitempty"`
	ObservedAt  int64     `json:"observed_at"`
}
