package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/odiseolabs/txflow/lib/tx"
)

// mockAPI serves the three consumed endpoints with canned data.
func mockAPI(statusHits *int32) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/account":
			switch r.URL.Query().Get("address") {
			case "odiseo1abc":
				rw.Header().Set("Content-Type", "application/json")
				_, _ = rw.Write([]byte(`{"account_number":"42","sequence":"7"}`))
			case "odiseo1numeric":
				// some endpoints emit bare numbers, the client must still yield decimal strings
				rw.Header().Set("Content-Type", "application/json")
				_, _ = rw.Write([]byte(`{"account_number":42,"sequence":7}`))
			default:
				rw.WriteHeader(http.StatusNotFound)
				_, _ = rw.Write([]byte(`{"error":"account not found"}`))
			}
		case r.URL.Path == "/broadcast":
			var req struct {
				Tx   BroadcastTx `json:"tx"`
				Mode string      `json:"mode"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mode != "block" {
				rw.WriteHeader(http.StatusBadRequest)
				_, _ = rw.Write([]byte(`{"error":"bad broadcast request"}`))
				return
			}
			switch req.Tx.Memo {
			case "seq::":
				rw.WriteHeader(http.StatusBadRequest)
				_, _ = rw.Write([]byte(`{"code":32,"message":"account sequence mismatch, expected 8, got 7"}`))
			case "reject::":
				rw.WriteHeader(http.StatusInternalServerError)
				_, _ = rw.Write([]byte(`mempool is on fire`))
			default:
				_, _ = rw.Write([]byte(`{"txhash":"2BA030485E79B5A98275B45D940E6FDD07B40DEA"}`))
			}
		case strings.HasPrefix(r.URL.Path, "/transaction/"):
			atomic.AddInt32(statusHits, 1)
			if strings.HasSuffix(r.URL.Path, "/tx_gone") {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_, _ = rw.Write([]byte(`status store is rebuilding`))
				return
			}
			_, _ = rw.Write([]byte(`{"transaction_id":"tx_1","status":"pending",` +
				`"signatures":{"owner":"signed","investor":"unsigned"},"content_hash":"deadbeef"}`))
		default:
			rw.WriteHeader(http.StatusNotFound)
		}
	}
}

func testClient(t *testing.T) (*Client, *int32, func()) {
	t.Helper()
	var hits int32
	mock := httptest.NewServer(mockAPI(&hits))
	return New(mock.URL, "https://explorer.odiseo.app"), &hits, mock.Close
}

// TestResolve checks account resolution yields decimal strings and classifies failures.
func TestResolve(t *testing.T) {
	c, _, done := testClient(t)
	defer done()

	cases := []struct {
		name, addr, num, seq string
		kind                 tx.Kind
	}{
		{"ok", "odiseo1abc", "42", "7", ""},
		{"numericBody", "odiseo1numeric", "42", "7", ""},
		{"notFound", "odiseo1missing", "", "", tx.AccountNotFound},
		{"empty", "", "", "", tx.AccountNotFound},
	}

	for _, cse := range cases {
		acc, err := c.Resolve(context.Background(), cse.addr)
		if cse.kind != "" {
			if tx.KindOf(err) != cse.kind {
				t.Errorf("[%s] kind %q does not match expected %q", cse.name, tx.KindOf(err), cse.kind)
			}
			continue
		}
		if err != nil {
			t.Errorf("[%s] Resolve returned error:%e", cse.name, err)
			continue
		}
		if acc.AccountNumber != cse.num || acc.Sequence != cse.seq {
			t.Errorf("[%s] account %+v does not match expected %s/%s", cse.name, acc, cse.num, cse.seq)
		}
	}
}

// TestResolveIdempotent checks two resolutions without an intervening broadcast return the same sequence.
func TestResolveIdempotent(t *testing.T) {
	c, _, done := testClient(t)
	defer done()

	a, err := c.Resolve(context.Background(), "odiseo1abc")
	if err != nil {
		t.Fatalf("Resolve returned error:%e", err)
	}
	b, err := c.Resolve(context.Background(), "odiseo1abc")
	if err != nil {
		t.Fatalf("Resolve returned error:%e", err)
	}
	if a.Sequence != b.Sequence {
		t.Errorf("sequences %s and %s differ without an intervening broadcast", a.Sequence, b.Sequence)
	}
}

// TestBroadcast checks success, classified sequence conflicts and raw-text rejections.
func TestBroadcast(t *testing.T) {
	c, _, done := testClient(t)
	defer done()

	btx := BroadcastTx{
		Msg: []tx.BroadcastMsg{{TypeURL: tx.MsgSendURL, Value: tx.BroadcastValue{
			FromAddress: "odiseo1abc", ToAddress: "odiseo1def",
			Amount: []tx.Coin{{Denom: "uodis", Amount: "1000"}},
		}}},
		Fee:        tx.StdFee{Amount: []tx.Coin{{Denom: "uodis", Amount: "5000"}}, Gas: "200000"},
		Signatures: []tx.StdSignature{{PubKey: tx.PubKey{Type: tx.PubKeySecp256k1, Value: "QUJD"}, Signature: "REVG"}},
		Memo:       "tx_1:deadbeef:owner",
	}

	res, err := c.Broadcast(context.Background(), btx)
	if err != nil {
		t.Fatalf("Broadcast returned error:%e", err)
	}
	if res.TxHash != "2BA030485E79B5A98275B45D940E6FDD07B40DEA" {
		t.Errorf("tx hash %q does not match expected", res.TxHash)
	}
	if res.ExplorerURL != "https://explorer.odiseo.app/transactions/"+res.TxHash {
		t.Errorf("explorer url %q does not match expected", res.ExplorerURL)
	}

	// stale sequence is retryable after re-resolving
	btx.Memo = "seq::"
	_, err = c.Broadcast(context.Background(), btx)
	if tx.KindOf(err) != tx.SequenceMismatch {
		t.Errorf("kind %q does not match expected %q", tx.KindOf(err), tx.SequenceMismatch)
	}
	if !tx.Retryable(err) {
		t.Errorf("sequence mismatch must be retryable")
	}

	// unparseable error body is surfaced verbatim
	btx.Memo = "reject::"
	_, err = c.Broadcast(context.Background(), btx)
	if tx.KindOf(err) != tx.BroadcastRejected {
		t.Errorf("kind %q does not match expected %q", tx.KindOf(err), tx.BroadcastRejected)
	}
	if err == nil || !strings.Contains(err.Error(), "mempool is on fire") {
		t.Errorf("error %e does not carry the raw response text", err)
	}
	if tx.Retryable(err) {
		t.Errorf("broadcast rejection must not be auto-retried")
	}
}

// TestStatus checks the status endpoint decode and the cache policy: cached reads coalesce, the tracker path does
// not.
func TestStatus(t *testing.T) {
	c, hits, done := testClient(t)
	defer done()

	ts, err := c.Status(context.Background(), "tx_1")
	if err != nil {
		t.Fatalf("Status returned error:%e", err)
	}
	if ts.TransactionID != "tx_1" || ts.Signatures["owner"] != "signed" || ts.Signatures["investor"] != "unsigned" {
		t.Errorf("status %+v does not match expected", ts)
	}
	if ts.BlockchainTxHash != "" {
		t.Errorf("pending status unexpectedly carries a chain hash %q", ts.BlockchainTxHash)
	}

	// two cached reads, one network call
	before := atomic.LoadInt32(hits)
	if _, err = c.StatusCached(context.Background(), "tx_1"); err != nil {
		t.Fatalf("StatusCached returned error:%e", err)
	}
	if _, err = c.StatusCached(context.Background(), "tx_1"); err != nil {
		t.Fatalf("StatusCached returned error:%e", err)
	}
	if n := atomic.LoadInt32(hits) - before; n != 1 {
		t.Errorf("cached reads hit the endpoint %d times, expected 1", n)
	}

	// fresh reads always hit the endpoint
	before = atomic.LoadInt32(hits)
	if _, err = c.Status(context.Background(), "tx_1"); err != nil {
		t.Fatalf("Status returned error:%e", err)
	}
	if _, err = c.Status(context.Background(), "tx_1"); err != nil {
		t.Fatalf("Status returned error:%e", err)
	}
	if n := atomic.LoadInt32(hits) - before; n != 2 {
		t.Errorf("fresh reads hit the endpoint %d times, expected 2", n)
	}
}

// TestStatusNetworkError checks transport failures classify as NetworkError.
func TestStatusNetworkError(t *testing.T) {
	c := New("http://127.0.0.1:1", "https://explorer.odiseo.app")

	_, err := c.Status(context.Background(), "tx_1")
	if tx.KindOf(err) != tx.NetworkError {
		t.Errorf("kind %q does not match expected %q", tx.KindOf(err), tx.NetworkError)
	}
	if !tx.Retryable(err) {
		t.Errorf("network errors must be retryable")
	}

	// transport failures never carry an endpoint reply
	var se *StatusError
	if errors.As(err, &se) {
		t.Errorf("transport failure %e carries an endpoint reply %+v", err, se)
	}

	_, err = c.Resolve(context.Background(), "odiseo1abc")
	if tx.KindOf(err) != tx.NetworkError {
		t.Errorf("kind %q does not match expected %q", tx.KindOf(err), tx.NetworkError)
	}
}

// TestStatusEndpointError checks a non-success status reply is reported as a definitive endpoint error.
func TestStatusEndpointError(t *testing.T) {
	c, _, done := testClient(t)
	defer done()

	_, err := c.Status(context.Background(), "tx_gone")
	if tx.KindOf(err) != tx.NetworkError {
		t.Errorf("kind %q does not match expected %q", tx.KindOf(err), tx.NetworkError)
	}

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error %e does not carry the endpoint reply", err)
	}
	if se.Code != http.StatusServiceUnavailable || se.Body != "status store is rebuilding" {
		t.Errorf("endpoint reply %+v does not match the mock's 503", se)
	}
}
