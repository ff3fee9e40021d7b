package relayer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stacklend/internal/model"
	"stacklend/internal/stacks"
	"stacklend/internal/state"
)

type fakeSource struct {
	events []model.CollateralEvent
	err    error
}

func (f *fakeSource) FetchEventsSince(_ context.Context, _ uint64) ([]model.CollateralEvent, error) {
	return f.events, f.err
}

type registerCall struct {
	borrower string
	amount   uint64
	valueUSD float64
}

type fakeDestination struct {
	registerCalls []registerCall
	unlockCalls   []string
	registerErr   error
	unlockErr     error
	debt          bool
}

func (f *fakeDestination) RegisterCollateral(_ context.Context, borrower string, amount uint64, valueUSD float64) (string, error) {
	f.registerCalls = append(f.registerCalls, registerCall{borrower, amount, valueUSD})
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return fmt.Sprintf("sui-digest-%d", len(f.registerCalls)), nil
}

func (f *fakeDestination) UnlockCollateral(_ context.Context, borrower string, _ uint64) (string, error) {
	f.unlockCalls = append(f.unlockCalls, borrower)
	if f.unlockErr != nil {
		return "", f.unlockErr
	}
	return "sui-unlock-digest", nil
}

func (f *fakeDestination) HasOutstandingDebt(_ context.Context, _ string) bool {
	return f.debt
}

type fakeUnlocker struct {
	calls []string
	err   error
}

func (f *fakeUnlocker) Unlock(_ context.Context, user string, _ uint64) (string, error) {
	f.calls = append(f.calls, user)
	if f.err != nil {
		return "", f.err
	}
	return "stacks-txid", nil
}

type fakePrices struct {
	quote model.PriceQuote
}

func (f *fakePrices) FetchPrices(_ context.Context) model.PriceQuote {
	return f.quote
}

type harness struct {
	relayer     *Relayer
	store       *state.FileStore
	source      *fakeSource
	destination *fakeDestination
	unlocker    *fakeUnlocker
	prices      *fakePrices
}

func newHarness(t *testing.T, stxPrice float64) *harness {
	t.Helper()
	store := state.NewFileStore(filepath.Join(t.TempDir(), "state.json"), nil)
	h := &harness{
		store:       store,
		source:      &fakeSource{},
		destination: &fakeDestination{},
		unlocker:    &fakeUnlocker{},
		prices:      &fakePrices{quote: model.PriceQuote{StxUSD: stxPrice, SbtcUSD: 65000, LastUpdate: 1}},
	}
	h.relayer = New(Config{}, store, h.source, h.destination, h.unlocker, h.prices, nil, nil, nil)
	return h
}

// poll mirrors Run's per-tick order: load state, refresh prices,
// process a batch.
func (h *harness) poll(t *testing.T) {
	t.Helper()
	h.relayer.state = h.store.Load()
	h.relayer.refreshPrices(context.Background())
	h.relayer.pollOnce(context.Background())
}

func depositEvent(txID, user, suiAddress string, amount, height uint64) model.CollateralEvent {
	return model.CollateralEvent{
		Kind:        model.EventDeposit,
		ID:          txID + ":deposit",
		TxID:        txID,
		BlockHeight: height,
		User:        user,
		Amount:      amount,
		SuiAddress:  suiAddress,
	}
}

func withdrawEvent(txID, user string, amount, height uint64) model.CollateralEvent {
	return model.CollateralEvent{
		Kind:        model.EventWithdrawRequest,
		ID:          txID + ":withdraw",
		TxID:        txID,
		BlockHeight: height,
		User:        user,
		Amount:      amount,
	}
}

func TestHappyPathDeposit(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "0xAA", 1_000_000, 100),
	}

	h.poll(t)

	require.Len(t, h.destination.registerCalls, 1)
	call := h.destination.registerCalls[0]
	require.Equal(t, "0xAA", call.borrower)
	require.Equal(t, uint64(1_000_000), call.amount)
	require.InDelta(t, 0.5, call.valueUSD, 1e-9)

	st := h.store.Load()
	require.Equal(t, uint64(100), st.LastStacksBlock)
	require.Equal(t, "0xAA", st.AddressMappings["P1"])

	entry := st.ProcessedEvents["tx1:deposit"]
	require.Equal(t, model.StatusSuccess, entry.Status)
	require.NotEmpty(t, entry.SuiTxDigest)
}

func TestDepositIdempotency(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "0xAA", 1_000_000, 100),
	}

	h.poll(t)
	h.poll(t) // same event observed again

	require.Len(t, h.destination.registerCalls, 1, "second dispatch must be a ledger no-op")
}

func TestDepositValuationGate(t *testing.T) {
	h := newHarness(t, 0) // price never became available
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "0xAA", 1_000_000, 100),
	}

	h.poll(t)

	require.Empty(t, h.destination.registerCalls, "zero price must not register collateral")
	st := h.store.Load()
	entry := st.ProcessedEvents["tx1:deposit"]
	require.Equal(t, model.StatusFailed, entry.Status)
	require.Contains(t, entry.Error, "price")
	require.Zero(t, st.LastStacksBlock)
}

func TestDepositMissingSuiAddress(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "", 1_000_000, 100),
	}

	h.poll(t)

	require.Empty(t, h.destination.registerCalls)
	entry := h.store.Load().ProcessedEvents["tx1:deposit"]
	require.Equal(t, model.StatusFailed, entry.Status)
	require.Contains(t, entry.Error, "sui address")
}

func TestMappingLastWriteWins(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "0xAA", 100, 10),
		depositEvent("tx2", "P1", "0xBB", 200, 11),
	}

	h.poll(t)

	require.Equal(t, "0xBB", h.store.Load().AddressMappings["P1"])
}

func TestWithdrawBlockedByDebt(t *testing.T) {
	h := newHarness(t, 0.5)
	seedMapping(t, h, "P1", "0xAA")
	h.destination.debt = true
	h.source.events = []model.CollateralEvent{withdrawEvent("tx2", "P1", 500, 101)}

	h.poll(t)

	require.Empty(t, h.destination.unlockCalls, "debt gate must block chain actions")
	require.Empty(t, h.unlocker.calls)
	entry := h.store.Load().ProcessedEvents["tx2:withdraw"]
	require.Equal(t, model.StatusFailed, entry.Status)
	require.Contains(t, entry.Error, "debt")
}

func TestWithdrawUnknownPrincipal(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.events = []model.CollateralEvent{withdrawEvent("tx2", "P9", 500, 101)}

	h.poll(t)

	require.Empty(t, h.destination.unlockCalls)
	require.Empty(t, h.unlocker.calls)
	entry := h.store.Load().ProcessedEvents["tx2:withdraw"]
	require.Equal(t, model.StatusFailed, entry.Status)
	require.Contains(t, entry.Error, "mapping")
}

func TestWithdrawHappyPath(t *testing.T) {
	h := newHarness(t, 0.5)
	seedMapping(t, h, "P1", "0xAA")
	h.source.events = []model.CollateralEvent{withdrawEvent("tx2", "P1", 500, 101)}

	h.poll(t)

	require.Equal(t, []string{"0xAA"}, h.destination.unlockCalls)
	require.Equal(t, []string{"P1"}, h.unlocker.calls)

	entry := h.store.Load().ProcessedEvents["tx2:withdraw"]
	require.Equal(t, model.StatusSuccess, entry.Status)
	require.Equal(t, "sui-unlock-digest", entry.SuiTxDigest)
	require.Equal(t, "stacks-txid", entry.StacksTxID)
	require.Empty(t, entry.Warning)
}

func TestWithdrawInsufficientFundsIsPartialSuccess(t *testing.T) {
	h := newHarness(t, 0.5)
	seedMapping(t, h, "P1", "0xAA")
	h.unlocker.err = fmt.Errorf("%w: NotEnoughFunds", stacks.ErrInsufficientFunds)
	h.source.events = []model.CollateralEvent{withdrawEvent("tx2", "P1", 500, 101)}

	h.poll(t)

	entry := h.store.Load().ProcessedEvents["tx2:withdraw"]
	require.Equal(t, model.StatusSuccess, entry.Status)
	require.Equal(t, "sui-unlock-digest", entry.SuiTxDigest)
	require.Contains(t, entry.Warning, "insufficient")
}

func TestWithdrawOtherStacksFailureIsHardFailure(t *testing.T) {
	h := newHarness(t, 0.5)
	seedMapping(t, h, "P1", "0xAA")
	h.unlocker.err = &stacks.BroadcastError{Reason: "ConflictingNonceInMempool"}
	h.source.events = []model.CollateralEvent{withdrawEvent("tx2", "P1", 500, 101)}

	h.poll(t)

	entry := h.store.Load().ProcessedEvents["tx2:withdraw"]
	require.Equal(t, model.StatusFailed, entry.Status)
	require.Contains(t, entry.Error, "stacks unlock failed")
}

func TestBatchContinuesPastFailures(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "", 100, 50),        // fails: no sui address
		depositEvent("tx2", "P2", "0xBB", 200, 60),    // succeeds
	}

	h.poll(t)

	require.Len(t, h.destination.registerCalls, 1)
	st := h.store.Load()
	require.Equal(t, model.StatusFailed, st.ProcessedEvents["tx1:deposit"].Status)
	require.Equal(t, model.StatusSuccess, st.ProcessedEvents["tx2:deposit"].Status)
	// A later success advances the cursor past the failed event.
	require.Equal(t, uint64(60), st.LastStacksBlock)
}

func TestCursorIsMonotonic(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "0xAA", 100, 100),
	}
	h.poll(t)
	require.Equal(t, uint64(100), h.store.Load().LastStacksBlock)

	// A success at a lower height (e.g. replayed after a manual ledger
	// edit) must not move the cursor backwards.
	h.source.events = []model.CollateralEvent{
		depositEvent("tx3", "P3", "0xCC", 100, 40),
	}
	h.poll(t)
	require.Equal(t, uint64(100), h.store.Load().LastStacksBlock)

	// Restart from persisted state keeps the cursor.
	restarted := New(Config{}, h.store, h.source, h.destination, h.unlocker, h.prices, nil, nil, nil)
	restarted.state = h.store.Load()
	require.Equal(t, uint64(100), restarted.state.LastStacksBlock)
}

func TestFailedDepositDoesNotAdvanceCursor(t *testing.T) {
	h := newHarness(t, 0.5)
	h.destination.registerErr = errors.New("MoveAbort in borrow_controller")
	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "0xAA", 100, 200),
	}

	h.poll(t)

	st := h.store.Load()
	require.Zero(t, st.LastStacksBlock)
	require.Equal(t, model.StatusFailed, st.ProcessedEvents["tx1:deposit"].Status)
}

func TestFetchFailureSkipsTick(t *testing.T) {
	h := newHarness(t, 0.5)
	h.source.err = errors.New("api unreachable")

	h.poll(t)

	st := h.store.Load()
	require.Empty(t, st.ProcessedEvents)
	require.Zero(t, st.LastStacksBlock)
}

func TestNotifierInvokedOnRegistration(t *testing.T) {
	h := newHarness(t, 0.5)

	var notified []string
	h.relayer.notifier = func(stacksAddress, suiAddress string, amount uint64, digest string) {
		notified = append(notified, stacksAddress+"/"+suiAddress+"/"+digest)
	}

	h.source.events = []model.CollateralEvent{
		depositEvent("tx1", "P1", "0xAA", 100, 10),
	}
	h.poll(t)

	require.Equal(t, []string{"P1/0xAA/sui-digest-1"}, notified)
}

// seedMapping records a prior successful deposit so withdrawals can
// resolve the user's Sui address.
func seedMapping(t *testing.T, h *harness, user, suiAddress string) {
	t.Helper()
	h.source.events = []model.CollateralEvent{
		depositEvent("tx-seed-"+user, user, suiAddress, 1_000_000, 100),
	}
	h.poll(t)
	require.Equal(t, suiAddress, h.store.Load().AddressMappings[user])
	h.destination.registerCalls = nil
}
