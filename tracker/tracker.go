// Package tracker implements the confirmation tracker microservice. The tracker consumes tracking
// requests from the pipeline, polls the chain for the status of each watched transaction and
// publishes status events until the transaction confirms, fails or the poll budget runs out.
package tracker

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/odiseolabs/txflow/lib/msg"
	"github.com/odiseolabs/txflow/lib/store"
	"github.com/odiseolabs/txflow/tracker/txwatcher"
)

// Tracker implements a tracker service.
type Tracker struct {
	l      sync.Mutex // guards wm
	chain  string
	dbtype string
	db     store.DB
	src    txwatcher.StatusSource
	mb     msg.Broker
	cfg    txwatcher.Config
	wm     map[string]*txwatcher.TxWatcher // map of transaction watchers
	done   chan string                     // watcher completion reports
}

// New instantiates a new tracker service.
func New(chain, dbtype string, db store.DB, mb msg.Broker, src txwatcher.StatusSource, cfg txwatcher.Config) *Tracker {
	return &Tracker{
		chain:  chain,
		dbtype: dbtype,
		db:     db,
		src:    src,
		mb:     mb,
		cfg:    cfg,
		wm:     make(map[string]*txwatcher.TxWatcher),
		done:   make(chan string, 64), //nolint:gomnd // enough buffer so finished watchers never block
	}
}

// Track resumes watchers for all non-terminal transactions found in DB and starts consuming tracking
// requests from the broker. Completed watcher reports are drained in a go routine for logging.
func (e *Tracker) Track() error {
	// resume pending transactions from DB so a restart does not drop watchers
	pending, err := e.db.ListTracked(true)
	if err != nil {
		return fmt.Errorf("tracker: cannot load pending transactions: %w", err)
	}

	for _, t := range pending {
		log.Printf("[%s] Resuming watch of %s", e.chain, t.ID)
		e.StartWatch(t.ID)
	}

	// listen for tracking requests, if there are pending requests in the broker queues, they will
	// be processed right away
	if err = e.ManageTrackRequests(); err != nil {
		return fmt.Errorf("tracker: cannot consume tracking requests: %w", err)
	}

	go func() {
		for s := range e.done {
			log.Printf("[%s] Watcher returned: %s", e.chain, s)
		}
	}()

	return nil
}

// StopTracker will send termination signals to all transaction watcher go routines.
func (e *Tracker) StopTracker() {
	e.l.Lock()
	defer e.l.Unlock()

	for _, w := range e.wm {
		w.Stop()
	}
}

// StartWatch starts a watcher go routine for the transaction id. Starting an id that is already being
// watched is a no-op, so duplicate tracking requests do not spawn duplicate pollers.
func (e *Tracker) StartWatch(id string) {
	e.l.Lock()
	defer e.l.Unlock()

	if w, ok := e.wm[id]; ok && !w.Terminal() {
		log.Printf("[%s] Transaction %s is already being watched", e.chain, id)

		return
	}

	w := txwatcher.New(id, e.src, e.cfg, e.onUpdate)
	e.wm[id] = w
	w.Watch(context.Background(), e.done)
}

// StopWatch cancels the watcher for the transaction id, returning whether one was found.
func (e *Tracker) StopWatch(id string) bool {
	e.l.Lock()
	defer e.l.Unlock()

	w, ok := e.wm[id]
	if !ok {
		return false
	}

	w.Stop()
	delete(e.wm, id)

	return true
}

// onUpdate persists every watcher state change and publishes it as a status event. Terminal watchers
// are dropped from the map.
func (e *Tracker) onUpdate(u txwatcher.Update) {
	if err := e.db.SaveTracked(u.Tx); err != nil {
		log.Printf("[%s] Error saving transaction %s to DB %e", e.chain, u.Tx.ID, err)
	}

	if err := e.mb.SendStatus(e.chain, msg.StatusEvent{Tx: u.Tx, State: u.State, Signed: u.Signed, Total: u.Total}); err != nil {
		log.Printf("[%s] Error sending status event for %s %e", e.chain, u.Tx.ID, err)
	}

	if u.State == txwatcher.Confirmed || u.State == txwatcher.Failed {
		log.Printf("[%s] Transaction %s reached %s", e.chain, u.Tx.ID, u.State)
		e.l.Lock()
		delete(e.wm, u.Tx.ID)
		e.l.Unlock()
	}
}

// ManageTrackRequests starts a go routine to receive and manage tracking requests for transactions to
// be watched.
func (e *Tracker) ManageTrackRequests() error {
	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	reqCh, errCh, err := e.mb.GetTrackReqs(e.chain, mut)
	if err != nil {
		return fmt.Errorf("tracker: cannot get requests: %w", err)
	}

	// launch request channel reader
	go func() {
		log.Printf("[%s] Start listening to tracking request channel", e.chain)

		for {
			select {
			case req, ok := (<-reqCh):
				if !ok {
					log.Printf("[%s] Stop listening to tracking request channel", e.chain)

					break
				}

				log.Printf("Received request %+v", req)
				// validate request
				if req.Chain != e.chain || len(req.TxID) == 0 || (req.Act != msg.ActStart && req.Act != msg.ActStop) {
					log.Printf("[%s] Request has wrong chain %s, missing transaction id %s or wrong action %d",
						e.chain, req.Chain, req.TxID, req.Act)
				} else if req.Act == msg.ActStart {
					e.StartWatch(req.TxID)
				} else {
					if !e.StopWatch(req.TxID) {
						log.Printf("[%s] Transaction %s was not being watched. Ignoring...", e.chain, req.TxID)
					}
				}

				mut.Unlock()
			case errRecv, ok := (<-errCh):
				if !ok {
					log.Printf("[%s] Stop listening to tracking request channel", e.chain)

					break
				}

				log.Printf("[%s] Received error %+v", e.chain, errRecv)
			}
		}
	}()

	return nil
}
