package model

// ProcessedEvent records the terminal outcome of one collateral event.
// Entries are immutable once written; a failed entry is never retried
// automatically and must be cleared by an operator to force reprocessing.
type ProcessedEvent struct {
	TxHash      string `json:"txHash"`
	SuiTxDigest string `json:"suiTxDigest,omitempty"`
	StacksTxID  string `json:"stacksTxId,omitempty"`
	Timestamp   int64  `json:"timestamp"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RelayerState is the aggregate durable record persisted after every
// mutation. The JSON shape is the on-disk relayer-state.json format;
// unknown fields are ignored on load so the file stays readable across
// minor versions.
type RelayerState struct {
	LastStacksBlock uint64                    `json:"lastStacksBlock"`
	ProcessedEvents map[string]ProcessedEvent `json:"processedEvents"`
	AddressMappings map[string]string         `json:"addressMappings"`
	PriceCache      PriceQuote                `json:"priceCache"`
}

// DefaultState returns the zero state used when no state file exists.
func DefaultState() RelayerState {
	return RelayerState{
		ProcessedEvents: make(map[string]ProcessedEvent),
		AddressMappings: make(map[string]string),
	}
}

// Normalize fills in nil maps after a load from an older state file.
func (s *RelayerState) Normalize() {
	if s.ProcessedEvents == nil {
		s.ProcessedEvents = make(map[string]ProcessedEvent)
	}
	if s.AddressMappings == nil {
		s.AddressMappings = make(map[string]string)
	}
}

// IsProcessed reports whether an event id is already in the ledger.
func (s *RelayerState) IsProcessed(eventID string) bool {
	_, ok := s.ProcessedEvents[eventID]
	return ok
}
