// Package node implements the HTTP client for the remote chain node and transaction status API. It covers the
// three consumed endpoints: account resolution (fresh account number and sequence before every build), broadcast
// with synchronous block inclusion, and transaction status queries for the confirmation tracker. Responses to
// status reads can optionally be served from a short-lived per-URL cache; account resolution is never cached
// because a stale sequence gets the next broadcast rejected.
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/odiseolabs/txflow/lib/tx"
)

const (
	requestTimeout = 30 * time.Second
	// CacheTTL bounds how long a cached status response is served before it is treated as stale and refetched.
	CacheTTL = 30 * time.Second
)

// Error codes.
var (
	ErrNoAddress = errors.New("address must not be empty")
	ErrNoTxID    = errors.New("transaction id must not be empty")
	ErrNoHash    = errors.New("broadcast response carries no transaction hash")
)

// Client is a connection to the chain node and status API.
type Client struct {
	base     string
	explorer string
	hc       *http.Client
	cache    *respCache
}

// New returns a client for the API at base. explorer is the base URL used to build explorer links for broadcast
// transactions.
func New(base, explorer string) *Client {
	return &Client{
		base:     strings.TrimRight(base, "/"),
		explorer: strings.TrimRight(explorer, "/"),
		hc:       &http.Client{Timeout: requestTimeout},
		cache:    newRespCache(CacheTTL),
	}
}

// accountResponse decodes the account endpoint response. json.Number keeps the numeric-as-string account fields
// exact whatever the endpoint emits.
type accountResponse struct {
	Address       string      `json:"address"`
	AccountNumber json.Number `json:"account_number"`
	Sequence      json.Number `json:"sequence"`
}

// Resolve fetches the current on-chain account number and sequence for the given address. It must be called
// immediately before each build and never serves cached data: the sequence increments with every chain-accepted
// transaction from the address.
func (c *Client) Resolve(ctx context.Context, address string) (tx.Account, error) {
	if address == "" {
		return tx.Account{}, tx.E(tx.AccountNotFound, address, ErrNoAddress)
	}

	body, status, err := c.get(ctx, "/account?address="+url.QueryEscape(address), false)
	if err != nil {
		return tx.Account{}, tx.E(tx.NetworkError, address, err)
	}
	if status == http.StatusNotFound {
		return tx.Account{}, tx.E(tx.AccountNotFound, address, fmt.Errorf("account query: %s", body))
	}
	if status != http.StatusOK {
		return tx.Account{}, tx.E(tx.NetworkError, address, fmt.Errorf("account query status %d: %s", status, body))
	}

	var ar accountResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return tx.Account{}, tx.E(tx.NetworkError, address, fmt.Errorf("cannot decode account response: %w", err))
	}

	return tx.Account{
		Address:       address,
		AccountNumber: ar.AccountNumber.String(),
		Sequence:      ar.Sequence.String(),
	}, nil
}

// BroadcastTx is the broadcast-format transaction body: converted messages, fee, normalized signatures and memo.
type BroadcastTx struct {
	Msg        []tx.BroadcastMsg `json:"msg"`
	Fee        tx.StdFee         `json:"fee"`
	Signatures []tx.StdSignature `json:"signatures"`
	Memo       string            `json:"memo"`
}

// BroadcastResult is a successful broadcast: the chain transaction hash and an explorer link for it.
type BroadcastResult struct {
	TxHash      string `json:"txhash"`
	ExplorerURL string `json:"explorer_url"`
}

// broadcastRequest wraps the transaction with mode "block": the node blocks until the transaction is accepted
// into a block, not merely into the mempool.
type broadcastRequest struct {
	Tx   BroadcastTx `json:"tx"`
	Mode string      `json:"mode"`
}

// broadcastError probes the structured error body nodes return on rejection.
type broadcastError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
	RawLog  string `json:"raw_log"`
}

func (e broadcastError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Error != "":
		return e.Error
	}
	return e.RawLog
}

// Broadcast submits the transaction for synchronous block inclusion. It mutates chain state and is therefore
// never retried here: retry decisions belong to the caller, which must not assume success silently since a
// re-broadcast of an accepted transaction fails with a sequence conflict. Rejections with a sequence conflict in
// the error body surface as SequenceMismatch so the caller can re-resolve the account and rebuild; other
// rejections surface as BroadcastRejected carrying the node's diagnostic text verbatim.
func (c *Client) Broadcast(ctx context.Context, btx BroadcastTx) (BroadcastResult, error) {
	reqBody, err := json.Marshal(broadcastRequest{Tx: btx, Mode: "block"})
	if err != nil {
		return BroadcastResult{}, tx.E(tx.BroadcastRejected, "", fmt.Errorf("cannot encode broadcast request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/broadcast", bytes.NewReader(reqBody))
	if err != nil {
		return BroadcastResult{}, tx.E(tx.NetworkError, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return BroadcastResult{}, tx.E(tx.NetworkError, "", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return BroadcastResult{}, tx.E(tx.NetworkError, "", err)
	}

	if resp.StatusCode != http.StatusOK {
		var be broadcastError
		if jsonErr := json.Unmarshal(body, &be); jsonErr == nil && be.text() != "" {
			if strings.Contains(strings.ToLower(be.text()), "sequence") {
				return BroadcastResult{}, tx.E(tx.SequenceMismatch, "", errors.New(be.text()))
			}
			return BroadcastResult{}, tx.E(tx.BroadcastRejected, "", errors.New(be.text()))
		}
		// unparseable body, surface the raw response text for diagnostics
		return BroadcastResult{}, tx.E(tx.BroadcastRejected, "",
			fmt.Errorf("broadcast status %d: %s", resp.StatusCode, body))
	}

	var res struct {
		TxHash string `json:"txhash"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return BroadcastResult{}, tx.E(tx.BroadcastRejected, "", fmt.Errorf("cannot decode broadcast response: %s", body))
	}
	if res.TxHash == "" {
		return BroadcastResult{}, tx.E(tx.BroadcastRejected, "", ErrNoHash)
	}

	return BroadcastResult{TxHash: res.TxHash, ExplorerURL: c.ExplorerURL(res.TxHash)}, nil
}

// ExplorerURL builds the explorer link for a chain transaction hash.
func (c *Client) ExplorerURL(hash string) string {
	return c.explorer + "/transactions/" + hash
}

// TxStatus is a transaction status endpoint response. BlockchainTxHash is only present once the transaction has
// been included on chain.
type TxStatus struct {
	TransactionID    string                 `json:"transaction_id"`
	Status           string                 `json:"status"`
	Signatures       map[string]string      `json:"signatures"` // signer role -> "signed" | "unsigned"
	ContentHash      string                 `json:"content_hash"`
	BlockchainTxHash string                 `json:"blockchain_tx_hash,omitempty"`
	ExplorerURL      string                 `json:"explorer_url,omitempty"`
	CreatedAt        string                 `json:"created_at,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// StatusError is a definitive non-success reply from the status endpoint. Transport failures never
// produce a StatusError, those are wrapped plain so pollers can tell the two apart.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status query status %d: %s", e.Code, e.Body)
}

// Status fetches the current status of the transaction with the given identifier, bypassing the cache. The
// confirmation tracker polls through this method so every poll observes fresh data.
func (c *Client) Status(ctx context.Context, id string) (*TxStatus, error) {
	return c.status(ctx, id, false)
}

// StatusCached is Status served through the response cache: entries younger than CacheTTL are returned without a
// network call. Intended for read paths that tolerate slightly stale data, such as API queries, never for the
// tracker's poll loop.
func (c *Client) StatusCached(ctx context.Context, id string) (*TxStatus, error) {
	return c.status(ctx, id, true)
}

func (c *Client) status(ctx context.Context, id string, cached bool) (*TxStatus, error) {
	if id == "" {
		return nil, tx.E(tx.NetworkError, id, ErrNoTxID)
	}

	body, status, err := c.get(ctx, "/transaction/"+url.PathEscape(id), cached)
	if err != nil {
		return nil, tx.E(tx.NetworkError, id, err)
	}
	if status != http.StatusOK {
		return nil, tx.E(tx.NetworkError, id, &StatusError{Code: status, Body: string(body)})
	}

	var ts TxStatus
	if err := json.Unmarshal(body, &ts); err != nil {
		return nil, tx.E(tx.NetworkError, id, fmt.Errorf("cannot decode status response: %w", err))
	}

	return &ts, nil
}

// get performs a GET against the API, optionally through the response cache. Cached entries are keyed by the full
// URL (endpoint plus parameters) and only successful responses are stored.
func (c *Client) get(ctx context.Context, path string, cached bool) ([]byte, int, error) {
	u := c.base + path

	if cached {
		if body, ok := c.cache.get(u); ok {
			return body, http.StatusOK, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}

	if cached && resp.StatusCode == http.StatusOK {
		c.cache.put(u, body)
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("node: GET %s returned %d", path, resp.StatusCode)
	}

	return body, resp.StatusCode, nil
}
