// Package rpcclient is the concrete NEAR JSON-RPC transport implementing
// chain.RPC and metadata.MetadataView. It owns exactly one concern: turning
// NEAR's query/block/chunk/tx RPC methods into the domain types the rest of
// this module reads — no caching (internal/snapshot and internal/metadata
// already memoise), no retry/backoff beyond the single bounded policy
// internal/search applies narrowly around missing blocks, and no endpoint
// failover. Those are the out-of-scope "RPC transport" collaborator spec.md
// §1 names; this is the minimal concrete instance of it.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/petersalomonsen/near-ledger-reconciler/internal/chain"
)

// Client is a thin, uncached JSON-RPC 2.0 client for a single NEAR RPC
// endpoint (e.g. https://rpc.mainnet.near.org).
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// New constructs a Client. httpClient may be nil, in which case a client
// with a conservative fixed timeout is used — this package does not
// implement its own retry policy, so the timeout is the only protection
// against a hung upstream.
func New(endpoint string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{endpoint: endpoint, http: httpClient, logger: logger}
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcError struct {
	Name    string          `json:"name"`
	Cause   rpcErrorCause   `json:"cause"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type rpcErrorCause struct {
	Name string `json:"name"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call performs one JSON-RPC request and decodes its result into out. The
// error classification here is what lets chain.RPC callers distinguish a
// genuinely absent account or pruned block from a transport failure.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: "near-ledger-reconciler", Method: method, Params: params})
	if err != nil {
		return errors.Wrapf(err, "rpcclient: marshalling %s request", method)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "rpcclient: building %s request", method)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "rpcclient: %s request failed", method)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "rpcclient: reading %s response", method)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("rpcclient: %s returned HTTP %d: %s", method, resp.StatusCode, string(data))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return errors.Wrapf(err, "rpcclient: decoding %s response", method)
	}
	if rpcResp.Error != nil {
		return classifyRPCError(method, rpcResp.Error)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return errors.Wrapf(err, "rpcclient: decoding %s result", method)
		}
	}
	return nil
}

func classifyRPCError(method string, e *rpcError) error {
	cause := e.Cause.Name
	switch cause {
	case "UNKNOWN_ACCOUNT":
		return &chain.AccountAbsentError{}
	case "UNKNOWN_BLOCK", "UNAVAILABLE_SHARD", "GC_INVALID_REQUEST":
		return &chain.MissingBlockError{}
	}
	return errors.Errorf("rpcclient: %s rpc error: %s (%s): %s", method, e.Name, cause, e.Message)
}

func blockReference(block uint64) map[string]interface{} {
	return map[string]interface{}{"block_id": block}
}

type viewAccountResult struct {
	Amount string `json:"amount"`
}

// ViewNativeBalance implements chain.RPC.
func (c *Client) ViewNativeBalance(account string, block uint64) (*big.Int, error) {
	params := map[string]interface{}{
		"request_type": "view_account",
		"account_id":   account,
	}
	for k, v := range blockReference(block) {
		params[k] = v
	}
	var out viewAccountResult
	if err := c.call(context.Background(), "query", params, &out); err != nil {
		return nil, annotate(err, account, block)
	}
	n, ok := new(big.Int).SetString(out.Amount, 10)
	if !ok {
		return nil, errors.Errorf("rpcclient: view_account returned non-numeric amount %q for %s", out.Amount, account)
	}
	return n, nil
}

// resultBytes decodes NEAR's view-call result field, which the wire format
// represents as a JSON array of byte values rather than a base64 string —
// the one place this client can't lean on encoding/json's default []byte
// handling.
type resultBytes []byte

func (b resultBytes) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *resultBytes) UnmarshalJSON(data []byte) error {
	var ints []byte
	if err := json.Unmarshal(data, &ints); err == nil {
		*b = resultBytes(ints)
		return nil
	}
	var nums []int
	if err := json.Unmarshal(data, &nums); err != nil {
		return errors.Wrap(err, "rpcclient: decoding view-call result bytes")
	}
	out := make([]byte, len(nums))
	for i, n := range nums {
		out[i] = byte(n)
	}
	*b = out
	return nil
}

type callFunctionResult struct {
	Result resultBytes `json:"result"`
}

// callViewFunction performs a contract view call and returns its raw
// decoded (non-JSON-escaped) bytes, mirroring query_client.go's
// decode-then-typed-fields pattern but for NEAR's byte-array view results.
func (c *Client) callViewFunction(contract, method string, args interface{}, block uint64) ([]byte, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrapf(err, "rpcclient: marshalling args for %s.%s", contract, method)
	}
	params := map[string]interface{}{
		"request_type": "call_function",
		"account_id":   contract,
		"method_name":  method,
		"args_base64":  base64.StdEncoding.EncodeToString(argsJSON),
	}
	for k, v := range blockReference(block) {
		params[k] = v
	}
	var out callFunctionResult
	if err := c.call(context.Background(), "query", params, &out); err != nil {
		return nil, err
	}
	return []byte(out.Result), nil
}

// ViewFTBalance implements chain.RPC. A contract that doesn't exist, or
// that errors on ft_balance_of, is coerced to zero per spec.md §4.1 —
// this client does not distinguish "not an FT contract" from "transient
// view-call failure"; that coercion is an explicit, narrow exception to
// otherwise-faithful error propagation. A missing block is still
// returned as *chain.MissingBlockError.
func (c *Client) ViewFTBalance(account, contract string, block uint64) (*big.Int, error) {
	raw, err := c.callViewFunction(contract, "ft_balance_of", map[string]string{"account_id": account}, block)
	if err != nil {
		var missing *chain.MissingBlockError
		if errors.As(err, &missing) {
			return nil, annotate(err, account, block)
		}
		return new(big.Int), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int), nil
	}
	return n, nil
}

// ViewIntentsBalances implements chain.RPC's single multi-read, calling
// the intents contract's mt_batch_balance_of exactly once for the whole
// set, per spec.md §4.1.
func (c *Client) ViewIntentsBalances(account string, assetIDs []string, block uint64) (map[string]*big.Int, error) {
	if len(assetIDs) == 0 {
		return map[string]*big.Int{}, nil
	}
	contract := intentsContractFor(assetIDs)
	raw, err := c.callViewFunction(contract, "mt_batch_balance_of",
		map[string]interface{}{"account_id": account, "token_ids": tokenIDsFor(assetIDs)}, block)
	if err != nil {
		return nil, annotate(err, account, block)
	}
	var amounts []string
	if err := json.Unmarshal(raw, &amounts); err != nil {
		return nil, errors.Wrapf(err, "rpcclient: decoding mt_batch_balance_of result for %s", account)
	}
	if len(amounts) != len(assetIDs) {
		return nil, errors.Errorf("rpcclient: mt_batch_balance_of returned %d amounts for %d requested assets", len(amounts), len(assetIDs))
	}
	out := make(map[string]*big.Int, len(assetIDs))
	for i, id := range assetIDs {
		n, ok := new(big.Int).SetString(amounts[i], 10)
		if !ok {
			n = new(big.Int)
		}
		out[id] = n
	}
	return out, nil
}

// DiscoverIntentsPositions implements chain.RPC's enumeration view.
// Vanilla RPC has no generic "every token this account ever touched"
// index — this calls the intents contract's mt_tokens_for_owner, which
// only reflects non-zero holdings as of block, and pages until a short
// page comes back. An account whose intents balance has gone fully to
// zero at block will not appear here; that is a known limitation, not a
// bug, because there is nothing to enumerate it from in vanilla RPC.
func (c *Client) DiscoverIntentsPositions(account string, block uint64) (map[string]*big.Int, error) {
	contract := defaultIntentsContract
	out := map[string]*big.Int{}
	const pageSize = 100
	for fromIndex := 0; ; fromIndex += pageSize {
		raw, err := c.callViewFunction(contract, "mt_tokens_for_owner",
			map[string]interface{}{"account_id": account, "from_index": fmt.Sprintf("%d", fromIndex), "limit": pageSize}, block)
		if err != nil {
			return nil, annotate(err, account, block)
		}
		var page []struct {
			TokenID string `json:"token_id"`
			Balance string `json:"balance"`
		}
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, errors.Wrapf(err, "rpcclient: decoding mt_tokens_for_owner page for %s", account)
		}
		for _, t := range page {
			n, ok := new(big.Int).SetString(t.Balance, 10)
			if !ok {
				n = new(big.Int)
			}
			out["nep245:"+contract+":"+t.TokenID] = n
		}
		if len(page) < pageSize {
			break
		}
	}
	return out, nil
}

// ViewStakedBalance implements chain.RPC.
func (c *Client) ViewStakedBalance(account, pool string, block uint64) (*big.Int, error) {
	raw, err := c.callViewFunction(pool, "get_account_staked_balance", map[string]string{"account_id": account}, block)
	if err != nil {
		var absent *chain.AccountAbsentError
		if errors.As(err, &absent) {
			return new(big.Int), nil
		}
		return nil, annotate(err, account, block)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int), nil
	}
	return n, nil
}

// AccountExists implements chain.RPC.
func (c *Client) AccountExists(account string, block uint64) (bool, error) {
	_, err := c.ViewNativeBalance(account, block)
	if err == nil {
		return true, nil
	}
	var absent *chain.AccountAbsentError
	if errors.As(err, &absent) {
		return false, nil
	}
	return false, err
}

// ViewFTMetadata implements metadata.MetadataView.
func (c *Client) ViewFTMetadata(contract string) (string, int, error) {
	raw, err := c.callViewFunction(contract, "ft_metadata", map[string]string{}, 0)
	if err != nil {
		return "", 0, err
	}
	var out struct {
		Symbol   string `json:"symbol"`
		Decimals int    `json:"decimals"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", 0, errors.Wrapf(err, "rpcclient: decoding ft_metadata for %s", contract)
	}
	return out.Symbol, out.Decimals, nil
}

func annotate(err error, account string, block uint64) error {
	var absent *chain.AccountAbsentError
	if errors.As(err, &absent) {
		return &chain.AccountAbsentError{Account: account, Block: block}
	}
	var missing *chain.MissingBlockError
	if errors.As(err, &missing) {
		return &chain.MissingBlockError{Block: block}
	}
	return err
}

const defaultIntentsContract = "intents.near"

// intentsContractFor and tokenIDsFor strip the "nep245:<contract>:" prefix
// callers use as the canonical asset-id form, since the intents contract's
// own view calls address tokens by their bare token id.
func intentsContractFor(assetIDs []string) string {
	for _, id := range assetIDs {
		if strings.HasPrefix(id, "nep245:") {
			parts := strings.SplitN(id, ":", 3)
			if len(parts) == 3 {
				return parts[1]
			}
		}
	}
	return defaultIntentsContract
}

func tokenIDsFor(assetIDs []string) []string {
	out := make([]string, len(assetIDs))
	for i, id := range assetIDs {
		parts := strings.SplitN(id, ":", 3)
		if len(parts) == 3 {
			out[i] = parts[2]
			continue
		}
		out[i] = id
	}
	return out
}
