package txwatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/odiseolabs/txflow/lib/node"
	"github.com/odiseolabs/txflow/lib/store"
	"github.com/odiseolabs/txflow/lib/tx"
)

// scriptedSource replays a fixed sequence of status responses, repeating the last one when the
// script runs out.
type scriptedSource struct {
	l     sync.Mutex
	steps []node.TxStatus
	calls int
}

func (s *scriptedSource) Status(ctx context.Context, id string) (*node.TxStatus, error) {
	s.l.Lock()
	defer s.l.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	return &s.steps[i], nil
}

func (s *scriptedSource) polled() int {
	s.l.Lock()
	defer s.l.Unlock()
	return s.calls
}

// erringSource fails every poll with the same error.
type erringSource struct {
	l     sync.Mutex
	err   error
	calls int
}

func (s *erringSource) Status(ctx context.Context, id string) (*node.TxStatus, error) {
	s.l.Lock()
	defer s.l.Unlock()
	s.calls++
	return nil, s.err
}

func (s *erringSource) polled() int {
	s.l.Lock()
	defer s.l.Unlock()
	return s.calls
}

// flakySource fails the first 'failures' polls with a transport error, then confirms.
type flakySource struct {
	l        sync.Mutex
	failures int
	calls    int
}

func (s *flakySource) Status(ctx context.Context, id string) (*node.TxStatus, error) {
	s.l.Lock()
	defer s.l.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return nil, tx.E(tx.NetworkError, id, errors.New("connection refused"))
	}
	return &node.TxStatus{TransactionID: id, Status: store.StatusConfirmed, BlockchainTxHash: "2BA030"}, nil
}

func (s *flakySource) polled() int {
	s.l.Lock()
	defer s.l.Unlock()
	return s.calls
}

// collect gathers watcher updates for later inspection.
type collect struct {
	l   sync.Mutex
	ups []Update
}

func (c *collect) add(u Update) {
	c.l.Lock()
	c.ups = append(c.ups, u)
	c.l.Unlock()
}

func (c *collect) all() []Update {
	c.l.Lock()
	defer c.l.Unlock()
	return append([]Update{}, c.ups...)
}

func run(t *testing.T, src StatusSource, cfg Config) (*TxWatcher, *collect) {
	t.Helper()
	c := &collect{}
	w := New("tx_1", src, cfg, c.add)
	ret := make(chan string, 1)
	w.Watch(context.Background(), ret)
	select {
	case <-ret:
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not finish")
	}
	return w, c
}

// TestWatchConfirm drives a watcher through pending polls to confirmation.
func TestWatchConfirm(t *testing.T) {
	src := &scriptedSource{steps: []node.TxStatus{
		{TransactionID: "tx_1", Status: store.StatusPending,
			Signatures: map[string]string{"owner": store.SigSigned, "investor": store.SigUnsigned}},
		{TransactionID: "tx_1", Status: store.StatusPending,
			Signatures: map[string]string{"owner": store.SigSigned, "investor": store.SigSigned}},
		{TransactionID: "tx_1", Status: store.StatusConfirmed,
			Signatures:       map[string]string{"owner": store.SigSigned, "investor": store.SigSigned},
			BlockchainTxHash: "2BA030", ExplorerURL: "https://explorer.odiseo.app/transactions/2BA030"},
	}}

	w, c := run(t, src, Config{Interval: time.Millisecond, MaxAttempts: 10})

	if w.State() != Confirmed || !w.Terminal() {
		t.Errorf("state %s does not match expected %s", w.State(), Confirmed)
	}

	ups := c.all()
	if len(ups) != 3 {
		t.Fatalf("got %d updates, expected 3: %+v", len(ups), ups)
	}
	if ups[0].State != Pending || ups[0].Signed != 1 || ups[0].Total != 2 {
		t.Errorf("first update %+v does not match expected pending 1/2", ups[0])
	}
	if ups[1].State != Pending || ups[1].Signed != 2 || ups[1].Total != 2 {
		t.Errorf("second update %+v does not match expected pending 2/2", ups[1])
	}
	last := ups[2]
	if last.State != Confirmed || last.Tx.Status != store.StatusConfirmed || last.Tx.BlockchainTxHash != "2BA030" {
		t.Errorf("final update %+v does not match expected confirmation", last)
	}

	// a terminal watcher ignores whatever a late poll would report
	if done := w.apply(&node.TxStatus{TransactionID: "tx_1", Status: store.StatusError, Error: "too late"}, nil); !done {
		t.Errorf("late response was not discarded")
	}
	if w.State() != Confirmed || len(c.all()) != 3 {
		t.Errorf("late response mutated a terminal watcher: state %s, %d updates", w.State(), len(c.all()))
	}
}

// TestWatchHashImpliesConfirmed checks a chain hash confirms even when the status field lags.
func TestWatchHashImpliesConfirmed(t *testing.T) {
	src := &scriptedSource{steps: []node.TxStatus{
		{TransactionID: "tx_1", Status: store.StatusPending, BlockchainTxHash: "2BA030",
			Signatures: map[string]string{"owner": store.SigSigned}},
	}}

	w, _ := run(t, src, Config{Interval: time.Millisecond, MaxAttempts: 10})
	if w.State() != Confirmed {
		t.Errorf("state %s does not match expected %s", w.State(), Confirmed)
	}
}

// TestWatchError checks a reported transaction error fails the watcher with the node's reason.
func TestWatchError(t *testing.T) {
	src := &scriptedSource{steps: []node.TxStatus{
		{TransactionID: "tx_1", Status: store.StatusPending, Signatures: map[string]string{"owner": store.SigUnsigned}},
		{TransactionID: "tx_1", Status: store.StatusError, Error: "out of gas"},
	}}

	w, c := run(t, src, Config{Interval: time.Millisecond, MaxAttempts: 10})

	if w.State() != Failed {
		t.Errorf("state %s does not match expected %s", w.State(), Failed)
	}
	ups := c.all()
	last := ups[len(ups)-1]
	if last.State != Failed || last.Reason != "out of gas" || last.Tx.Status != store.StatusError {
		t.Errorf("final update %+v does not match expected failure", last)
	}
}

// TestWatchTimeout exhausts the attempt budget on a transaction that never settles.
func TestWatchTimeout(t *testing.T) {
	src := &scriptedSource{steps: []node.TxStatus{
		{TransactionID: "tx_1", Status: store.StatusPending, ContentHash: "deadbeef",
			Signatures: map[string]string{"owner": store.SigSigned, "investor": store.SigUnsigned}},
	}}

	max := 5
	w, c := run(t, src, Config{Interval: time.Millisecond, MaxAttempts: max})

	if w.State() != Failed {
		t.Errorf("state %s does not match expected %s", w.State(), Failed)
	}
	if n := src.polled(); n != max {
		t.Errorf("polled %d times, expected %d", n, max)
	}

	ups := c.all()
	last := ups[len(ups)-1]
	if last.State != Failed || last.Reason != string(tx.PollTimeout) {
		t.Errorf("final update %+v does not carry the timeout reason", last)
	}
	if last.Tx.Status != store.StatusError {
		t.Errorf("timeout snapshot %+v is not terminal", last.Tx)
	}
	// the terminal snapshot keeps the progress observed while pending
	if last.Tx.ContentHash != "deadbeef" || len(last.Tx.Signatures) != 2 {
		t.Errorf("timeout snapshot %+v lost the pending progress", last.Tx)
	}
	if last.Signed != 1 || last.Total != 2 {
		t.Errorf("timeout update reports %d/%d signed, expected 1/2", last.Signed, last.Total)
	}
}

// TestWatchEndpointError checks a definitive non-success reply from the status endpoint fails the
// watcher at once, with the endpoint's reason.
func TestWatchEndpointError(t *testing.T) {
	src := &erringSource{err: tx.E(tx.NetworkError, "tx_1", &node.StatusError{Code: 500, Body: "index corrupted"})}

	w, c := run(t, src, Config{Interval: time.Millisecond, MaxAttempts: 5})

	if w.State() != Failed {
		t.Errorf("state %s does not match expected %s", w.State(), Failed)
	}
	if n := src.polled(); n != 1 {
		t.Errorf("polled %d times, expected the first reply to be terminal", n)
	}

	ups := c.all()
	last := ups[len(ups)-1]
	if last.State != Failed || last.Tx.Status != store.StatusError {
		t.Errorf("final update %+v does not match expected failure", last)
	}
	if last.Reason == string(tx.PollTimeout) || last.Reason != last.Tx.Error || last.Tx.Error == "" {
		t.Errorf("final update %+v does not carry the endpoint reason", last)
	}
}

// TestWatchTransientErrors checks transport failures consume attempts without failing the watcher.
func TestWatchTransientErrors(t *testing.T) {
	src := &flakySource{failures: 2}

	w, _ := run(t, src, Config{Interval: time.Millisecond, MaxAttempts: 10})

	if w.State() != Confirmed {
		t.Errorf("state %s does not match expected %s", w.State(), Confirmed)
	}
	if n := src.polled(); n != 3 {
		t.Errorf("polled %d times, expected 3", n)
	}
}

// TestWatchStop checks cancellation halts polling without reaching a terminal state.
func TestWatchStop(t *testing.T) {
	src := &scriptedSource{steps: []node.TxStatus{
		{TransactionID: "tx_1", Status: store.StatusPending, Signatures: map[string]string{"owner": store.SigUnsigned}},
	}}

	c := &collect{}
	w := New("tx_1", src, Config{Interval: 50 * time.Millisecond, MaxAttempts: 100}, c.add)
	ret := make(chan string, 1)
	w.Watch(context.Background(), ret)

	// let a poll or two happen, then cancel
	time.Sleep(75 * time.Millisecond)
	w.Stop()

	select {
	case <-ret:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop after cancellation")
	}

	n := src.polled()
	time.Sleep(150 * time.Millisecond)
	if src.polled() != n {
		t.Errorf("watcher kept polling after Stop")
	}
	if w.Terminal() {
		t.Errorf("cancelled watcher reached terminal state %s", w.State())
	}
}

// TestWatchDefaults checks zero config values fall back to the documented cadence.
func TestWatchDefaults(t *testing.T) {
	w := New("tx_1", &scriptedSource{steps: []node.TxStatus{{}}}, Config{}, nil)
	if w.cfg.Interval != IntervalDefault || w.cfg.MaxAttempts != MaxAttemptsDefault {
		t.Errorf("config %+v does not match defaults", w.cfg)
	}
}
