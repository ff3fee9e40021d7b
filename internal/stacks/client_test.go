package stacks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBroadcastTransactionSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/transactions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`"0xdeadbeef"`))
	}))
	defer server.Close()

	txid, err := NewClient(server.URL).BroadcastTransaction(context.Background(), []byte{0x80})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if txid != "0xdeadbeef" {
		t.Fatalf("txid mismatch: %s", txid)
	}
}

func TestBroadcastTransactionInsufficientFunds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"transaction rejected","reason":"NotEnoughFunds"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).BroadcastTransaction(context.Background(), []byte{0x80})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestBroadcastTransactionOtherRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"transaction rejected","reason":"BadNonce"}`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL).BroadcastTransaction(context.Background(), []byte{0x80})
	if errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("BadNonce must not map to insufficient funds")
	}
	var broadcastErr *BroadcastError
	if !errors.As(err, &broadcastErr) {
		t.Fatalf("expected BroadcastError, got %v", err)
	}
}

func TestStxBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stx":{"balance":"123456"}}`))
	}))
	defer server.Close()

	balance, err := NewClient(server.URL).StxBalance(context.Background(), "ST1ADDR")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 123456 {
		t.Fatalf("balance mismatch: %d", balance)
	}
}
