// package pipeline implements the transfer pipeline microservice.
//
// This microservice implements a RESTful API for clients to create, sign, broadcast and follow
// transfer transactions on the chain. Each transfer request runs the full lifecycle: the signer
// account is resolved for fresh sequence data, the unsigned transaction is assembled and signed,
// converted to the node's broadcast encoding and submitted, and a tracking request is published so
// the tracker service follows it to confirmation.
package pipeline

import (
	"context"
	"log"
	"net/http"
	"sync"

	"github.com/odiseolabs/txflow/lib/msg"
	"github.com/odiseolabs/txflow/lib/node"
	"github.com/odiseolabs/txflow/lib/store"
	"github.com/odiseolabs/txflow/lib/store/db"
	"github.com/odiseolabs/txflow/lib/tx"
	"github.com/odiseolabs/txflow/lib/wallet"
)

// Pipeline contains the data necessary to deliver the service
type Pipeline struct {
	dbtype string
	db     store.DB     // db connection
	nc     *node.Client // chain node client
	chain  string       // chain identifier
	fee    tx.FeeConfig // default fee configuration
	signer wallet.Session
	mb     msg.Broker
	s      *http.Server  // http server
	ss     *http.Server  // https server
	sc     chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Pipeline service
func New(dbtype string, dbConn store.DB, mb msg.Broker, nc *node.Client, chain string, fee tx.FeeConfig,
	signer wallet.Session) *Pipeline {
	return &Pipeline{
		dbtype: dbtype,
		db:     dbConn,
		mb:     mb,
		nc:     nc,
		chain:  chain,
		fee:    fee,
		signer: signer,
	}
}

// StopPipeline shuts down the http servers implementing the RESTful API and closes gracefully the
// connections to message broker and database.
func (p *Pipeline) StopPipeline() {
	var err error
	// shutdown http server
	if p.s != nil {
		if err = p.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if p.ss != nil {
		if err = p.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(p.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if err = p.mb.Close(); err != nil {
		log.Printf("Error closing message broker:%e", err)
	}
	// close database
	if p.db != nil {
		err = db.Close(p.dbtype, p.db)
		log.Printf("Disconnecting %v database, err:%e\n", p.dbtype, err)
	}
}

// ManageEvents starts go routines to consume the message broker queues for status events sent by the
// tracker service. Two channels are opened, one for status events, and one for errors.
func (p *Pipeline) ManageEvents() error {
	var mut *sync.Mutex = new(sync.Mutex)
	mut.Lock()
	eveCh, errCh, err := p.mb.GetStatus(p.chain, mut)
	if err != nil {
		return err
	}

	// launch event channel reader
	go func() {
		log.Printf("[%s] Start listening to tracker event channel", p.chain)
		for eve := range eveCh {
			log.Printf("[%s] Transaction %s is %s (%d/%d signed)", p.chain, eve.Tx.ID, eve.State,
				eve.Signed, eve.Total)
			mut.Unlock()
		}
		log.Printf("[%s] Stop listening to tracker event channel", p.chain)
	}()

	// launch error channel reader
	go func() {
		log.Printf("[%s] Start listening to err channel", p.chain)
		for e := range errCh {
			log.Printf("[%s] Received error %+v", p.chain, e)
		}
		log.Printf("[%s] Stop listening to err channel", p.chain)
	}()

	return nil
}
