// package txwatcher
package txwatcher

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/odiseolabs/txflow/lib/node"
	"github.com/odiseolabs/txflow/lib/store"
	"github.com/odiseolabs/txflow/lib/tx"
)

// Lifecycle states of a watched transaction.
const (
	Loading   string = "loading"
	Pending   string = "pending"
	Confirmed string = "confirmed"
	Failed    string = "failed"
)

// Polling defaults, used when Config fields are zero.
const (
	IntervalDefault    = 3 * time.Second
	MaxAttemptsDefault = 30
)

// Config holds the polling cadence for a watcher.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// StatusSource provides fresh transaction status reads. Polls must not be served from a cache, a
// stale read would delay confirmation by a full cycle.
type StatusSource interface {
	Status(ctx context.Context, id string) (*node.TxStatus, error)
}

// Update is delivered to the owner on every state change of a watched transaction.
type Update struct {
	Tx     store.TrackedTransaction
	State  string
	Signed int
	Total  int
	Reason string // set only when State is Failed
}

// TxWatcher polls the status of a single transaction until it reaches a terminal state, the attempt
// budget runs out, or Stop is called.
type TxWatcher struct {
	l        sync.Mutex // guards state and attempts against late poll responses
	id       string
	src      StatusSource
	cfg      Config
	onUpdate func(Update)
	state    string
	attempts int
	last     store.TrackedTransaction // most recent snapshot, reused by terminal updates
	cancel   context.CancelFunc
}

// New returns a watcher for the given transaction id. The watcher does not poll until Watch is called.
func New(id string, src StatusSource, cfg Config, onUpdate func(Update)) *TxWatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = IntervalDefault
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = MaxAttemptsDefault
	}

	return &TxWatcher{
		id:       id,
		src:      src,
		cfg:      cfg,
		onUpdate: onUpdate,
		state:    Loading,
		last:     store.TrackedTransaction{ID: id, Status: store.StatusPending},
	}
}

// State returns the current lifecycle state.
func (w *TxWatcher) State() string {
	w.l.Lock()
	defer w.l.Unlock()
	return w.state
}

// Terminal reports whether the watcher has stopped polling for good.
func (w *TxWatcher) Terminal() bool {
	s := w.State()
	return s == Confirmed || s == Failed
}

// Stop cancels the poll timer. A watcher already in a terminal state is left untouched.
func (w *TxWatcher) Stop() {
	w.l.Lock()
	defer w.l.Unlock()
	if w.cancel != nil {
		w.cancel()
	}
}

// Watch starts the polling go routine. The first poll fires immediately, subsequent polls every
// cfg.Interval. When the routine ends it reports via the 'ret' channel so the calling routine can
// control graceful termination.
func (w *TxWatcher) Watch(ctx context.Context, ret chan string) {
	w.l.Lock()
	ctx, w.cancel = context.WithCancel(ctx)
	w.l.Unlock()

	log.Printf("[%s] Watching, interval %v, max %d attempts...", w.id, w.cfg.Interval, w.cfg.MaxAttempts)

	go func() {
		defer func() {
			ret <- "[" + w.id + "] Done! state:" + w.State()
		}()

		t := time.NewTimer(0)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}

			ts, err := w.src.Status(ctx, w.id)
			if done := w.apply(ts, err); done {
				return
			}

			w.l.Lock()
			w.attempts++
			if w.attempts >= w.cfg.MaxAttempts {
				w.state = Failed
				snap := w.last
				w.l.Unlock()

				snap.Status = store.StatusError
				snap.Error = "confirmation poll timed out"
				signed, total := signatureProgress(snap.Signatures)
				w.emit(snap, Failed, signed, total, string(tx.PollTimeout))

				return
			}
			w.l.Unlock()

			t.Reset(w.cfg.Interval)
		}
	}()
}

// apply folds a poll response into the watcher state. Responses arriving after a terminal state has
// been reached are discarded. Returns true when polling must stop.
func (w *TxWatcher) apply(ts *node.TxStatus, err error) bool {
	w.l.Lock()
	if w.state == Confirmed || w.state == Failed {
		w.l.Unlock()
		return true
	}

	if err != nil || ts == nil {
		// a definitive non-success reply from the status endpoint fails the transaction; transport
		// failures consume an attempt and keep polling
		var se *node.StatusError
		if err != nil && errors.As(err, &se) {
			w.state = Failed
			snap := w.last
			w.l.Unlock()

			snap.Status = store.StatusError
			snap.Error = se.Error()
			signed, total := signatureProgress(snap.Signatures)
			w.emit(snap, Failed, signed, total, snap.Error)

			return true
		}

		w.l.Unlock()
		log.Printf("[%s] Poll error:%e", w.id, err)

		return false
	}

	signed, total := signatureProgress(ts.Signatures)

	snap := store.TrackedTransaction{
		ID:               w.id,
		Status:           store.StatusPending,
		Signatures:       ts.Signatures,
		ContentHash:      ts.ContentHash,
		BlockchainTxHash: ts.BlockchainTxHash,
		ExplorerURL:      ts.ExplorerURL,
	}
	if created, errT := time.Parse(time.RFC3339, ts.CreatedAt); errT == nil {
		snap.CreatedAt = created
	}

	var state string

	switch {
	case ts.Error != "" || ts.Status == store.StatusError:
		state = Failed
		snap.Status = store.StatusError
		snap.Error = ts.Error
	case ts.BlockchainTxHash != "" || ts.Status == store.StatusConfirmed:
		state = Confirmed
		snap.Status = store.StatusConfirmed
	default:
		state = Pending
	}

	w.state = state
	w.last = snap
	w.l.Unlock()

	reason := ""
	if state == Failed {
		reason = snap.Error
	}
	w.emit(snap, state, signed, total, reason)

	return state == Confirmed || state == Failed
}

func (w *TxWatcher) emit(snap store.TrackedTransaction, state string, signed, total int, reason string) {
	if w.onUpdate != nil {
		w.onUpdate(Update{Tx: snap, State: state, Signed: signed, Total: total, Reason: reason})
	}
}

func signatureProgress(sigs map[string]string) (signed, total int) {
	for _, s := range sigs {
		total++
		if s == store.SigSigned {
			signed++
		}
	}
	return
}
