package stacks

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	unlockFunction = "admin-unlock-collateral"
	unlockFeeMicro = 2000 // 0.002 STX
)

// Unlocker submits admin-unlock-collateral calls on the collateral
// contract, returning locked STX to the user.
type Unlocker struct {
	client     *Client
	signer     *Signer
	contractID string
	logger     *zap.Logger
}

func NewUnlocker(client *Client, signer *Signer, contractID string, logger *zap.Logger) *Unlocker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unlocker{
		client:     client,
		signer:     signer,
		contractID: contractID,
		logger:     logger,
	}
}

// Unlock broadcasts an unlock of amount microSTX back to user. A
// rejection for insufficient relayer funds surfaces as
// ErrInsufficientFunds (matchable with errors.Is); any other rejection
// is a BroadcastError.
func (u *Unlocker) Unlock(ctx context.Context, user string, amount uint64) (string, error) {
	u.logger.Info("unlocking collateral on stacks",
		zap.String("user", user), zap.Uint64("amount", amount))

	u.checkBalance(ctx)

	nonce, err := u.client.AccountNonce(ctx, u.signer.Address())
	if err != nil {
		return "", fmt.Errorf("fetch relayer nonce: %w", err)
	}

	rawTx, err := u.signer.SignContractCall(u.contractID, unlockFunction,
		[]ClarityValue{PrincipalCV(user), UintCV(amount)}, nonce, unlockFeeMicro)
	if err != nil {
		return "", fmt.Errorf("build unlock tx: %w", err)
	}

	txid, err := u.client.BroadcastTransaction(ctx, rawTx)
	if err != nil {
		return "", err
	}

	u.logger.Info("unlock transaction broadcast",
		zap.String("tx_id", txid), zap.String("user", user), zap.Uint64("amount", amount))
	return txid, nil
}

// checkBalance warns ahead of time when the fee account looks short. A
// failed check never blocks the broadcast; the node rejection is
// authoritative.
func (u *Unlocker) checkBalance(ctx context.Context) {
	balance, err := u.client.StxBalance(ctx, u.signer.Address())
	if err != nil {
		u.logger.Warn("could not check relayer balance, proceeding anyway", zap.Error(err))
		return
	}
	if balance < unlockFeeMicro {
		u.logger.Warn("relayer balance below unlock fee",
			zap.Uint64("balance", balance), zap.Uint64("required", unlockFeeMicro))
		return
	}
	u.logger.Debug("relayer balance check passed", zap.Uint64("balance", balance))
}
