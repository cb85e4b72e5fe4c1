package rpcclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
	"github.com/pkg/errors"
)

func newTestServer(t *testing.T, handler func(method string, params json.RawMessage) (interface{}, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		resp := rpcResponse{Error: rpcErr}
		if rpcErr == nil {
			data, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("marshalling fixture result: %v", err)
			}
			resp.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encoding response: %v", err)
		}
	}))
}

func TestViewNativeBalance(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		if method != "query" {
			t.Fatalf("unexpected method %s", method)
		}
		return viewAccountResult{Amount: "5000000000000000000000000"}, nil
	})
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	n, err := c.ViewNativeBalance("webassemblymusic-treasury.sputnik-dao.near", 148439687)
	if err != nil {
		t.Fatal(err)
	}
	if n.String() != "5000000000000000000000000" {
		t.Fatalf("got %s", n.String())
	}
}

func TestViewNativeBalanceUnknownAccount(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Name: "HANDLER_ERROR", Cause: rpcErrorCause{Name: "UNKNOWN_ACCOUNT"}, Message: "account not found"}
	})
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.ViewNativeBalance("nonexistent.near", 100)
	var absent *chain.AccountAbsentError
	if !errors.As(err, &absent) {
		t.Fatalf("expected AccountAbsentError, got %v", err)
	}
}

func TestViewNativeBalanceUnknownBlock(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Name: "HANDLER_ERROR", Cause: rpcErrorCause{Name: "UNKNOWN_BLOCK"}, Message: "block not found"}
	})
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	_, err := c.ViewNativeBalance("acct.near", 999999999999)
	var missing *chain.MissingBlockError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingBlockError, got %v", err)
	}
}

func TestViewFTBalanceCoercesContractErrorToZero(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Name: "HANDLER_ERROR", Cause: rpcErrorCause{Name: "CONTRACT_EXECUTION_ERROR"}, Message: "method not found"}
	})
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	n, err := c.ViewFTBalance("acct.near", "not-a-token.near", 100)
	if err != nil {
		t.Fatal(err)
	}
	if n.Sign() != 0 {
		t.Fatalf("expected zero, got %s", n.String())
	}
}

func TestViewIntentsBalancesSingleMultiRead(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		calls++
		raw, _ := json.Marshal([]string{"10", "20"})
		return callFunctionResult{Result: resultBytes(raw)}, nil
	})
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	out, err := c.ViewIntentsBalances("acct.near", []string{"nep245:intents.near:eth.omft.near", "nep245:intents.near:sol.omft.near"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one RPC call, got %d", calls)
	}
	if out["nep245:intents.near:eth.omft.near"].String() != "10" {
		t.Fatalf("got %+v", out)
	}
}

func TestAccountExistsFalseOnAbsent(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Name: "HANDLER_ERROR", Cause: rpcErrorCause{Name: "UNKNOWN_ACCOUNT"}}
	})
	defer srv.Close()

	c := New(srv.URL, nil, nil)
	exists, err := c.AccountExists("nobody.near", 1)
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected account to be reported absent")
	}
}
