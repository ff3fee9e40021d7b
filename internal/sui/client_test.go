package sui

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testSeedHex = "0x3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29"

// newRPCServer answers JSON-RPC requests using the supplied per-method
// result payloads (raw JSON). Methods without an entry get an error
// response.
func newRPCServer(t *testing.T, results map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad rpc request: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		result, ok := results[req.Method]
		if !ok {
			resp := `{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"unknown method"}}`
			w.Write([]byte(resp))
			return
		}
		resp := `{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`
		w.Write([]byte(resp))
	}))
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := NewClient(context.Background(), server.URL, testSeedHex, "0xregistry", "0xpackage", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestParsePrivateKeyFormats(t *testing.T) {
	fromHex, err := parsePrivateKey(testSeedHex)
	if err != nil {
		t.Fatalf("hex key: %v", err)
	}

	seed := fromHex.Seed()
	fromB64, err := parsePrivateKey(base64.StdEncoding.EncodeToString(seed))
	if err != nil {
		t.Fatalf("base64 key: %v", err)
	}

	if deriveAddress(fromHex) != deriveAddress(fromB64) {
		t.Fatalf("hex and base64 keys should derive the same address")
	}
	if !strings.HasPrefix(deriveAddress(fromHex), "0x") || len(deriveAddress(fromHex)) != 66 {
		t.Fatalf("malformed derived address: %s", deriveAddress(fromHex))
	}
}

func TestParsePrivateKeyRejectsBadLength(t *testing.T) {
	if _, err := parsePrivateKey("0xabcd"); err == nil {
		t.Fatalf("expected error for short key")
	}
}

func TestSignTransactionShape(t *testing.T) {
	server := newRPCServer(t, nil)
	defer server.Close()
	client := newTestClient(t, server)

	txBytes := base64.StdEncoding.EncodeToString([]byte("tx-payload"))
	signature, err := client.signTransaction(txBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		t.Fatalf("signature not base64: %v", err)
	}
	// flag + 64-byte signature + 32-byte pubkey
	if len(raw) != 97 || raw[0] != 0x00 {
		t.Fatalf("unexpected signature serialization: %d bytes, flag %x", len(raw), raw[0])
	}
}

func TestGetPosition(t *testing.T) {
	address := "0x" + strings.Repeat("aa", 32)
	server := newRPCServer(t, map[string]string{
		"sui_getObject": `{"data":{"objectId":"0xpos","content":{"dataType":"moveObject","fields":{
			"id":{"id":"0xparent"},
			"value":{"fields":{"stx_collateral_stacks":"2000000","usdc_borrowed":"0","is_liquidatable":false}}
		}}}}`,
		"suix_getDynamicFields": `{"data":[{"objectId":"0xpos","name":{"value":"` + address + `"}}]}`,
	})
	defer server.Close()
	client := newTestClient(t, server)

	position, err := client.GetPosition(context.Background(), address)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position == nil {
		t.Fatalf("expected a position")
	}
	if position.StxCollateral != 2.0 {
		t.Fatalf("stx collateral mismatch: %v", position.StxCollateral)
	}
	if position.UsdcBorrowed != 0 {
		t.Fatalf("usdc borrowed mismatch: %v", position.UsdcBorrowed)
	}
	if position.BorrowPower != 1.4 {
		t.Fatalf("borrow power mismatch: %v", position.BorrowPower)
	}
}

func TestHasOutstandingDebtFailClosed(t *testing.T) {
	// Registry read errors out; the debt check must come back true.
	server := newRPCServer(t, nil)
	defer server.Close()
	client := newTestClient(t, server)

	if !client.HasOutstandingDebt(context.Background(), "0xabc") {
		t.Fatalf("unknown debt state must be treated as debt")
	}
}

func TestHasOutstandingDebtNoPosition(t *testing.T) {
	server := newRPCServer(t, map[string]string{
		"sui_getObject":         `{"data":{"objectId":"0xreg","content":{"dataType":"moveObject","fields":{"id":{"id":"0xparent"}}}}}`,
		"suix_getDynamicFields": `{"data":[]}`,
	})
	defer server.Close()
	client := newTestClient(t, server)

	if !client.HasOutstandingDebt(context.Background(), "0xabc") {
		t.Fatalf("missing position must be treated as debt")
	}
}
