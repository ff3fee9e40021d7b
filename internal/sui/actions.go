package sui

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"
)

// CallError is an on-chain execution failure of a submitted move call,
// carrying the chain-reported reason.
type CallError struct {
	Function string
	Reason   string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("sui %s failed: %s", e.Function, e.Reason)
}

type executeResponse struct {
	Digest  string `json:"digest"`
	Effects struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

// RegisterCollateral records amount microSTX of deposited collateral for
// borrower on the borrow registry and blocks until execution is
// observed. valueUSD is the relayer-side valuation used for logging and
// audit; the registry prices collateral on-chain.
func (c *Client) RegisterCollateral(ctx context.Context, borrower string, amount uint64, valueUSD float64) (string, error) {
	c.logger.Info("registering collateral on sui",
		zap.String("borrower", borrower),
		zap.Uint64("amount", amount),
		zap.Float64("value_usd", valueUSD),
	)

	digest, err := c.executeMoveCall(ctx, "register_stacks_collateral", []interface{}{
		c.registryID,
		borrower,
		collateralTypeStxStacks,
		strconv.FormatUint(amount, 10),
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("collateral registered on sui",
		zap.String("digest", digest), zap.String("borrower", borrower))
	return digest, nil
}

// UnlockCollateral releases amount microSTX of registered collateral for
// borrower after the relayer's debt gate has passed.
func (c *Client) UnlockCollateral(ctx context.Context, borrower string, amount uint64) (string, error) {
	c.logger.Info("unlocking collateral on sui",
		zap.String("borrower", borrower), zap.Uint64("amount", amount))

	digest, err := c.executeMoveCall(ctx, "withdraw_stx_collateral", []interface{}{
		c.registryID,
		borrower,
		strconv.FormatUint(amount, 10),
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("collateral unlocked on sui",
		zap.String("digest", digest), zap.String("borrower", borrower))
	return digest, nil
}

// executeMoveCall builds a move call server-side, signs it, and executes
// it, waiting for local execution before returning the digest.
func (c *Client) executeMoveCall(ctx context.Context, function string, args []interface{}) (string, error) {
	var built struct {
		TxBytes string `json:"txBytes"`
	}
	err := c.call(ctx, &built, "unsafe_moveCall",
		c.address,
		c.packageID,
		moveModule,
		function,
		[]interface{}{}, // no type arguments
		args,
		nil, // let the node pick a gas object
		strconv.FormatUint(c.gasBudget, 10),
	)
	if err != nil {
		return "", err
	}

	signature, err := c.signTransaction(built.TxBytes)
	if err != nil {
		return "", err
	}

	var result executeResponse
	err = c.call(ctx, &result, "sui_executeTransactionBlock",
		built.TxBytes,
		[]string{signature},
		map[string]interface{}{"showEffects": true, "showEvents": true},
		"WaitForLocalExecution",
	)
	if err != nil {
		return "", err
	}

	if result.Effects.Status.Status != "success" {
		return "", &CallError{Function: function, Reason: result.Effects.Status.Error}
	}
	return result.Digest, nil
}
