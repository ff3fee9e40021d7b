package relayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stacklend/internal/model"
	"stacklend/internal/stacks"
)

func (r *Relayer) dispatch(ctx context.Context, event model.CollateralEvent) {
	switch event.Kind {
	case model.EventDeposit:
		r.handleDeposit(ctx, event)
	case model.EventWithdrawRequest:
		r.handleWithdrawRequest(ctx, event)
	default:
		r.logger.Warn("unknown event kind", zap.String("kind", string(event.Kind)))
	}
}

func (r *Relayer) handleDeposit(ctx context.Context, event model.CollateralEvent) {
	if r.state.IsProcessed(event.ID) {
		r.logger.Debug("event already processed, skipping", zap.String("event_id", event.ID))
		return
	}

	log := r.logger.With(
		zap.String("event_id", event.ID),
		zap.String("user", event.User),
		zap.Uint64("amount", event.Amount),
	)
	log.Info("processing deposit")

	// Contract v2+ always attaches a Sui address at deposit time; its
	// absence marks a malformed or legacy event that must not register
	// collateral against an unknown recipient.
	if event.SuiAddress == "" {
		log.Error("deposit event carries no sui address")
		r.recordFailure(event, "no sui address in deposit event")
		return
	}

	stxPrice := r.state.PriceCache.StxUSD
	if stxPrice == 0 {
		// Hard stop rather than a zero-value fallback: collateral must
		// never be registered with a worthless valuation.
		log.Error("stx price not available")
		r.recordFailure(event, "stx price not available")
		return
	}

	valueUSD := model.StxValueUSD(event.Amount, stxPrice)
	log.Info("deposit valuation",
		zap.Float64("value_usd", valueUSD),
		zap.Float64("stx_usd", stxPrice),
		zap.Float64("borrow_power_usd", model.BorrowingPower(valueUSD)),
	)

	digest, err := r.destination.RegisterCollateral(ctx, event.SuiAddress, event.Amount, valueUSD)
	if err != nil {
		log.Error("collateral registration failed", zap.Error(err))
		r.recordFailure(event, err.Error())
		return
	}

	// Last-write-wins: a fresh deposit always refreshes the mapping.
	r.state.AddressMappings[event.User] = event.SuiAddress
	log.Info("address mapped", zap.String("sui_address", event.SuiAddress))

	r.recordSuccess(event, model.ProcessedEvent{SuiTxDigest: digest})

	if r.notifier != nil {
		r.notifier(event.User, event.SuiAddress, event.Amount, digest)
	}
	log.Info("deposit registered", zap.String("sui_digest", digest))
}

func (r *Relayer) handleWithdrawRequest(ctx context.Context, event model.CollateralEvent) {
	if r.state.IsProcessed(event.ID) {
		r.logger.Debug("event already processed, skipping", zap.String("event_id", event.ID))
		return
	}

	log := r.logger.With(
		zap.String("event_id", event.ID),
		zap.String("user", event.User),
		zap.Uint64("amount", event.Amount),
	)
	log.Info("processing withdrawal request")

	suiAddress, ok := r.state.AddressMappings[event.User]
	if !ok {
		log.Error("no sui address mapping for user")
		r.recordFailure(event, fmt.Sprintf("no sui address mapping for %s; user must deposit first", event.User))
		return
	}

	if r.destination.HasOutstandingDebt(ctx, suiAddress) {
		log.Warn("user has outstanding debt, withdrawal blocked",
			zap.String("sui_address", suiAddress))
		r.recordFailure(event, "outstanding debt")
		return
	}

	suiDigest, err := r.destination.UnlockCollateral(ctx, suiAddress, event.Amount)
	if err != nil {
		log.Error("sui unlock failed", zap.Error(err))
		r.recordFailure(event, err.Error())
		return
	}

	stacksTxID, err := r.unlocker.Unlock(ctx, event.User, event.Amount)
	if err != nil {
		if errors.Is(err, stacks.ErrInsufficientFunds) {
			// Funds are already freed on Sui; the Stacks leg can be
			// settled later once the relayer account is topped up.
			log.Warn("stacks unlock skipped for insufficient relayer funds",
				zap.String("sui_digest", suiDigest))
			r.recordSuccess(event, model.ProcessedEvent{
				SuiTxDigest: suiDigest,
				Warning:     "stacks unlock skipped: insufficient relayer funds",
			})
			return
		}

		log.Error("stacks unlock failed after sui unlock, manual reconciliation required",
			zap.String("sui_digest", suiDigest), zap.Error(err))
		r.recordFailure(event, fmt.Sprintf("sui unlock %s succeeded but stacks unlock failed: %v", suiDigest, err))
		return
	}

	r.recordSuccess(event, model.ProcessedEvent{
		SuiTxDigest: suiDigest,
		StacksTxID:  stacksTxID,
	})
	log.Info("withdrawal processed",
		zap.String("sui_digest", suiDigest), zap.String("stacks_tx", stacksTxID))
}

// recordSuccess writes the terminal outcome to the ledger and advances
// the block cursor. The cursor only moves after the ledger entry has
// been durably saved, so a crash between dispatch and persist re-opens
// the event on restart (at-least-once on the destination side).
func (r *Relayer) recordSuccess(event model.CollateralEvent, outcome model.ProcessedEvent) {
	outcome.TxHash = event.TxID
	outcome.Timestamp = time.Now().UnixMilli()
	outcome.Status = model.StatusSuccess
	r.state.ProcessedEvents[event.ID] = outcome
	r.metrics.ObserveEvent(string(event.Kind), model.StatusSuccess)

	if err := r.store.Save(r.state); err != nil {
		r.logger.Error("failed to persist ledger entry, cursor not advanced",
			zap.String("event_id", event.ID), zap.Error(err))
		return
	}

	if event.BlockHeight > r.state.LastStacksBlock {
		r.state.LastStacksBlock = event.BlockHeight
		if err := r.store.Save(r.state); err != nil {
			r.logger.Error("failed to persist cursor advance", zap.Error(err))
		}
	}
}

// recordFailure writes a terminal failure. Failed events never advance
// the cursor and are never retried automatically; an operator clears the
// ledger entry to force reprocessing.
func (r *Relayer) recordFailure(event model.CollateralEvent, message string) {
	r.state.ProcessedEvents[event.ID] = model.ProcessedEvent{
		TxHash:    event.TxID,
		Timestamp: time.Now().UnixMilli(),
		Status:    model.StatusFailed,
		Error:     message,
	}
	r.metrics.ObserveEvent(string(event.Kind), model.StatusFailed)

	if err := r.store.Save(r.state); err != nil {
		r.logger.Error("failed to persist ledger entry",
			zap.String("event_id", event.ID), zap.Error(err))
	}
}
