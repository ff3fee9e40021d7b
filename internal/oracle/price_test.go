package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchPrices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("ids") != "blockstack,bitcoin" {
			t.Errorf("unexpected ids %s", r.URL.Query().Get("ids"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"blockstack":{"usd":0.42},"bitcoin":{"usd":61000}}`))
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "", nil)
	quote := client.FetchPrices(context.Background())

	if quote.StxUSD != 0.42 {
		t.Fatalf("stx price mismatch: %v", quote.StxUSD)
	}
	if quote.SbtcUSD != 61000 {
		t.Fatalf("sbtc price mismatch: %v", quote.SbtcUSD)
	}
	if quote.LastUpdate == 0 {
		t.Fatalf("last update should be set")
	}
}

func TestFetchPricesFallbackOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClientWithBaseURL(server.URL, "", nil)
	quote := client.FetchPrices(context.Background())

	if quote.StxUSD != fallbackStxUSD || quote.SbtcUSD != fallbackSbtcUSD {
		t.Fatalf("expected fallback quote, got %+v", quote)
	}
}

func TestFetchPricesFallbackOnUnreachable(t *testing.T) {
	client := NewClientWithBaseURL("http://127.0.0.1:1", "", nil)
	quote := client.FetchPrices(context.Background())

	if quote.StxUSD != fallbackStxUSD {
		t.Fatalf("expected fallback quote, got %+v", quote)
	}
}
