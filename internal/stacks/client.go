package stacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client wraps the Stacks blockchain REST API (Hiro).
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// TxSummary is one entry of an address transaction listing.
type TxSummary struct {
	TxID          string `json:"tx_id"`
	BlockHeight   uint64 `json:"block_height"`
	TxStatus      string `json:"tx_status"`
	TxType        string `json:"tx_type"`
	SenderAddress string `json:"sender_address"`
	ContractCall  *struct {
		ContractID   string `json:"contract_id"`
		FunctionName string `json:"function_name"`
	} `json:"contract_call,omitempty"`
}

// TxDetails is a full transaction including its emitted events.
type TxDetails struct {
	TxID        string    `json:"tx_id"`
	BlockHeight uint64    `json:"block_height"`
	TxStatus    string    `json:"tx_status"`
	Events      []TxEvent `json:"events"`
}

// TxEvent is a single emitted log entry; contract print events carry the
// Clarity value repr under contract_log.
type TxEvent struct {
	EventIndex  int    `json:"event_index"`
	EventType   string `json:"event_type"`
	ContractLog *struct {
		Value struct {
			Repr string `json:"repr"`
		} `json:"value"`
	} `json:"contract_log,omitempty"`
}

// TipHeight returns the current chain tip height.
func (c *Client) TipHeight(ctx context.Context) (uint64, error) {
	var body struct {
		StacksTipHeight uint64 `json:"stacks_tip_height"`
		BurnBlockHeight uint64 `json:"burn_block_height"`
	}
	if err := c.getJSON(ctx, "/v2/info", &body); err != nil {
		return 0, fmt.Errorf("fetch tip: %w", err)
	}
	if body.StacksTipHeight > 0 {
		return body.StacksTipHeight, nil
	}
	return body.BurnBlockHeight, nil
}

// LatestBlockHeight returns the height of the most recent block.
func (c *Client) LatestBlockHeight(ctx context.Context) (uint64, error) {
	var body struct {
		Results []struct {
			Height uint64 `json:"height"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, "/extended/v1/block?limit=1", &body); err != nil {
		return 0, fmt.Errorf("fetch latest block: %w", err)
	}
	if len(body.Results) == 0 {
		return 0, nil
	}
	return body.Results[0].Height, nil
}

// ContractTransactions lists transactions addressed to a contract,
// newest first. unanchored=true includes not-yet-anchored transactions
// for faster detection.
func (c *Client) ContractTransactions(ctx context.Context, contractID string, limit, offset int) ([]TxSummary, error) {
	path := fmt.Sprintf("/extended/v1/address/%s/transactions?limit=%d&offset=%d&unanchored=true",
		contractID, limit, offset)

	var body struct {
		Results []TxSummary `json:"results"`
	}
	if err := c.getJSON(ctx, path, &body); err != nil {
		return nil, fmt.Errorf("fetch contract transactions: %w", err)
	}
	return body.Results, nil
}

// TransactionDetails fetches a transaction with its emitted events.
func (c *Client) TransactionDetails(ctx context.Context, txID string) (TxDetails, error) {
	var details TxDetails
	if err := c.getJSON(ctx, "/extended/v1/tx/"+txID, &details); err != nil {
		return TxDetails{}, fmt.Errorf("fetch tx details: %w", err)
	}
	return details, nil
}

// StxBalance returns the spendable microSTX balance of an address.
func (c *Client) StxBalance(ctx context.Context, address string) (uint64, error) {
	var body struct {
		Stx struct {
			Balance string `json:"balance"`
		} `json:"stx"`
	}
	if err := c.getJSON(ctx, "/extended/v1/address/"+address+"/balances", &body); err != nil {
		return 0, fmt.Errorf("fetch balance: %w", err)
	}

	balance, err := strconv.ParseUint(body.Stx.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %q: %w", body.Stx.Balance, err)
	}
	return balance, nil
}

// AccountNonce returns the next nonce for an address.
func (c *Client) AccountNonce(ctx context.Context, address string) (uint64, error) {
	var body struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := c.getJSON(ctx, "/v2/accounts/"+address+"?proof=0", &body); err != nil {
		return 0, fmt.Errorf("fetch account nonce: %w", err)
	}
	return body.Nonce, nil
}

// broadcastRejection is the error document returned by /v2/transactions.
type broadcastRejection struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// BroadcastTransaction submits a serialized signed transaction and
// returns its txid.
func (c *Client) BroadcastTransaction(ctx context.Context, rawTx []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v2/transactions", bytes.NewReader(rawTx))
	if err != nil {
		return "", fmt.Errorf("build broadcast request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("broadcast request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read broadcast response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var rejection broadcastRejection
		if err := json.Unmarshal(data, &rejection); err == nil && rejection.Reason != "" {
			return "", classifyRejection(rejection)
		}
		return "", &BroadcastError{Reason: fmt.Sprintf("status %d: %s", resp.StatusCode, string(data))}
	}

	var txid string
	if err := json.Unmarshal(data, &txid); err != nil {
		// Some node versions return the txid unquoted.
		txid = string(bytes.Trim(data, `"` + "\n"))
	}
	return txid, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
