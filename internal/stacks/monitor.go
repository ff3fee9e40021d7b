package stacks

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"stacklend/internal/model"
)

const (
	txPageSize   = 50
	maxTxOffset  = 200 // bounds worst-case pages walked per poll
	refreshDepth = 100 // blocks of lookback for a manual refresh
)

// Monitor watches the collateral contract for deposit and
// withdraw-request events.
type Monitor struct {
	client        *Client
	contractID    string
	confirmations uint64
	logger        *zap.Logger
}

func NewMonitor(client *Client, contractID string, confirmations uint64, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		client:        client,
		contractID:    contractID,
		confirmations: confirmations,
		logger:        logger,
	}
}

// FetchEventsSince returns all collateral events in blocks
// (sinceHeight, tip-confirmations], sorted by (block height, txid) for
// deterministic replay. Detail fetch failures for individual
// transactions are logged and skipped so one bad transaction cannot
// stall the batch.
func (m *Monitor) FetchEventsSince(ctx context.Context, sinceHeight uint64) ([]model.CollateralEvent, error) {
	tipHeight, err := m.client.TipHeight(ctx)
	if err != nil {
		return nil, err
	}

	var confirmedHeight uint64
	if tipHeight > m.confirmations {
		confirmedHeight = tipHeight - m.confirmations
	}

	m.logger.Debug("fetching collateral events",
		zap.Uint64("since", sinceHeight),
		zap.Uint64("tip", tipHeight),
		zap.Uint64("confirmed", confirmedHeight),
	)

	var events []model.CollateralEvent

	for offset := 0; offset < maxTxOffset; offset += txPageSize {
		transactions, err := m.client.ContractTransactions(ctx, m.contractID, txPageSize, offset)
		if err != nil {
			return nil, err
		}
		if len(transactions) == 0 {
			break
		}

		for _, tx := range transactions {
			if !m.relevant(tx, sinceHeight, confirmedHeight) {
				continue
			}

			details, err := m.client.TransactionDetails(ctx, tx.TxID)
			if err != nil {
				// Accepted trade-off: a transiently unreachable tx is
				// skipped rather than blocking the whole batch.
				m.logger.Warn("failed to fetch tx details, skipping",
					zap.String("tx_id", tx.TxID),
					zap.Uint64("block_height", tx.BlockHeight),
					zap.Error(err),
				)
				continue
			}

			events = append(events, m.parseTxEvents(details, tx.SenderAddress)...)
		}

		// Pages are newest-first; stop once a page reaches back past the
		// cursor.
		oldest := transactions[len(transactions)-1].BlockHeight
		if oldest <= sinceHeight {
			break
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockHeight != events[j].BlockHeight {
			return events[i].BlockHeight < events[j].BlockHeight
		}
		return events[i].TxID < events[j].TxID
	})

	m.logger.Info("fetched collateral events", zap.Int("count", len(events)))
	return events, nil
}

func (m *Monitor) relevant(tx TxSummary, sinceHeight, confirmedHeight uint64) bool {
	if tx.TxStatus != "success" {
		return false
	}
	if tx.BlockHeight == 0 || tx.BlockHeight <= sinceHeight || tx.BlockHeight > confirmedHeight {
		return false
	}
	if tx.TxType != "contract_call" {
		return false
	}
	return tx.ContractCall != nil && tx.ContractCall.ContractID == m.contractID
}

func (m *Monitor) parseTxEvents(details TxDetails, sender string) []model.CollateralEvent {
	var events []model.CollateralEvent
	for _, logEntry := range details.Events {
		if logEntry.ContractLog == nil || logEntry.ContractLog.Value.Repr == "" {
			continue
		}
		event, ok := ParseEvent(logEntry.ContractLog.Value.Repr, details.TxID, details.BlockHeight, sender, m.logger)
		if !ok {
			continue
		}
		events = append(events, event)
	}
	return events
}

// Refresh re-scans a fixed lookback window from the latest block. Used by
// the manual indexer-refresh endpoint to short-circuit the poll interval.
func (m *Monitor) Refresh(ctx context.Context) (int, error) {
	latest, err := m.client.LatestBlockHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("refresh: %w", err)
	}

	var fromHeight uint64
	if latest > refreshDepth {
		fromHeight = latest - refreshDepth
	}

	m.logger.Info("manual monitor refresh",
		zap.Uint64("from", fromHeight), zap.Uint64("latest", latest))

	events, err := m.FetchEventsSince(ctx, fromHeight)
	if err != nil {
		return 0, fmt.Errorf("refresh: %w", err)
	}
	return len(events), nil
}
