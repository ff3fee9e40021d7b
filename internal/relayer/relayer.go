package relayer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stacklend/internal/model"
	"stacklend/internal/state"
	"stacklend/internal/telemetry"
)

// EventSource yields collateral events observed on the source chain.
type EventSource interface {
	FetchEventsSince(ctx context.Context, sinceHeight uint64) ([]model.CollateralEvent, error)
}

// DestinationClient performs actions against the Sui borrow registry.
type DestinationClient interface {
	RegisterCollateral(ctx context.Context, borrower string, amount uint64, valueUSD float64) (string, error)
	UnlockCollateral(ctx context.Context, borrower string, amount uint64) (string, error)
	HasOutstandingDebt(ctx context.Context, borrower string) bool
}

// SourceUnlocker releases collateral back to the user on Stacks.
type SourceUnlocker interface {
	Unlock(ctx context.Context, user string, amount uint64) (string, error)
}

// PriceSource refreshes the cached quote; it never fails the caller.
type PriceSource interface {
	FetchPrices(ctx context.Context) model.PriceQuote
}

// RegistrationNotifier is invoked synchronously after a deposit has been
// registered, letting the API layer answer status checks without waiting
// for the next poll.
type RegistrationNotifier func(stacksAddress, suiAddress string, amount uint64, suiTxDigest string)

// Config holds the relayer's timing knobs.
type Config struct {
	PollInterval  time.Duration
	PriceInterval time.Duration
	// EventDelay spaces out dispatches within one batch to respect
	// downstream rate limits.
	EventDelay time.Duration
}

// Relayer runs the poll/dispatch loop. All relayer state is owned by the
// goroutine inside Run; there is deliberately no locking, so a second
// Run call on the same Relayer is invalid.
type Relayer struct {
	cfg         Config
	store       state.Store
	source      EventSource
	destination DestinationClient
	unlocker    SourceUnlocker
	prices      PriceSource
	notifier    RegistrationNotifier
	metrics     *telemetry.Metrics
	logger      *zap.Logger

	state model.RelayerState
}

func New(
	cfg Config,
	store state.Store,
	source EventSource,
	destination DestinationClient,
	unlocker SourceUnlocker,
	prices PriceSource,
	notifier RegistrationNotifier,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *Relayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = time.Minute
	}
	if cfg.EventDelay < 0 {
		cfg.EventDelay = 0
	}
	return &Relayer{
		cfg:         cfg,
		store:       store,
		source:      source,
		destination: destination,
		unlocker:    unlocker,
		prices:      prices,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// Run loads persisted state, primes the price cache, and then services
// the poll and price tickers until ctx is cancelled. An in-flight event
// dispatch always finishes and persists before Run returns.
func (r *Relayer) Run(ctx context.Context) error {
	r.state = r.store.Load()
	r.logger.Info("relayer initialized",
		zap.Uint64("last_block", r.state.LastStacksBlock),
		zap.Int("processed_events", len(r.state.ProcessedEvents)),
	)

	r.refreshPrices(ctx)

	pollTicker := time.NewTicker(r.cfg.PollInterval)
	defer pollTicker.Stop()
	priceTicker := time.NewTicker(r.cfg.PriceInterval)
	defer priceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relayer stopped")
			return nil
		case <-priceTicker.C:
			r.refreshPrices(ctx)
		case <-pollTicker.C:
			r.pollOnce(ctx)
		}
	}
}

// pollOnce fetches and dispatches one batch. A fetch failure skips the
// tick; nothing was marked processed, so the next tick retries from the
// same cursor.
func (r *Relayer) pollOnce(ctx context.Context) {
	events, err := r.source.FetchEventsSince(ctx, r.state.LastStacksBlock)
	if err != nil {
		r.logger.Warn("event fetch failed, will retry next tick", zap.Error(err))
		return
	}
	r.metrics.ObservePollCycle()

	if len(events) == 0 {
		return
	}
	r.logger.Info("processing event batch", zap.Int("count", len(events)))

	for i, event := range events {
		if ctx.Err() != nil {
			return
		}

		r.dispatch(ctx, event)

		if i < len(events)-1 && r.cfg.EventDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.EventDelay):
			}
		}
	}
}

func (r *Relayer) refreshPrices(ctx context.Context) {
	quote := r.prices.FetchPrices(ctx)
	r.state.PriceCache = quote
	r.metrics.ObservePriceRefresh()

	if err := r.store.Save(r.state); err != nil {
		r.logger.Warn("failed to persist price cache", zap.Error(err))
	}

	r.logger.Debug("price cache updated",
		zap.Float64("stx_usd", quote.StxUSD),
		zap.Float64("sbtc_usd", quote.SbtcUSD),
	)
}
