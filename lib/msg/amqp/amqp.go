// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"github.com/odiseolabs/txflow/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.Broker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - tr ("track requests"): the pipeline service publishes tracking requests to this exchange
//
// - tc ("transaction changes"): the pipeline publishes created events and the tracker publishes
// status events to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare("tr", "topic", true, false, false, false, nil); err != nil {
		return err
	}
	err = channel.ExchangeDeclare("tc", "topic", true, false, false, false, nil)
	return err
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

// SendTrackReq publishes a new tracking request to the "tr" exchange
func (r *Amqp) SendTrackReq(chain string, req msg.TrackReq) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(req); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-track-name": chain + "." + req.TxID},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("tr", chain+".track."+req.TxID, false, false, m); err != nil {
		log.Printf("[%s] Error sending tracking request to message broker %e", chain, err)
	}
	return
}

// SendCreated publishes a created event to the "tc" exchange
func (r *Amqp) SendCreated(chain string, e msg.CreatedEvent) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(e); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-created-name": chain + "." + e.TransactionID},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("tc", chain+".created."+e.TransactionID, false, false, m); err != nil {
		log.Printf("[%s] Error sending created event to message broker %e", chain, err)
	}
	return
}

// SendStatus publishes a status event to the "tc" exchange
func (r *Amqp) SendStatus(chain string, s msg.StatusEvent) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(s); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-status-name": chain + "." + s.Tx.ID},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("tc", chain+".status."+s.Tx.ID, false, false, m); err != nil {
		log.Printf("[%s] Error sending status event to message broker %e", chain, err)
	}
	return
}

// GetStatus consumes status events from the "tc" exchange pushing them to the returned channel. The
// Mutex pointer is provided to ensure the consumed message has been fully dealt with by the management
// function, so the message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetStatus(chain string, mut *sync.Mutex) (<-chan msg.StatusEvent, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare("tc"+chain, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange, created events are for external consumers
	if err = r.ch.QueueBind("tc"+chain, chain+".status.*", "tc", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving events
	msgs, errCons := r.ch.Consume("tc"+chain, "pipeline-"+chain, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	eves := make(chan msg.StatusEvent)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var s *msg.StatusEvent = new(msg.StatusEvent)
			err := json.Unmarshal(m.Body, s)
			if err != nil {
				errors <- err
				continue
			}
			eves <- *s
			mut.Lock() // wait for pipeline to finish processing the event
			m.Ack(false)
		}
	}()
	return eves, errors, nil
}

// GetTrackReqs consumes tracking requests from the "tr" exchange for the specified chain pushing them
// to the returned channel. The Mutex pointer is provided to ensure the consumed message has been fully
// dealt with by the management function, so the message consumed is only acknowledged when the mutex
// is unlocked.
func (r *Amqp) GetTrackReqs(chain string, mut *sync.Mutex) (<-chan msg.TrackReq, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	if _, err = r.ch.QueueDeclare("tr"+chain, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = r.ch.QueueBind("tr"+chain, chain+".*.*", "tr", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving requests
	msgs, errCons := r.ch.Consume("tr"+chain, "tracker-"+chain, false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	reqs := make(chan msg.TrackReq)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var req *msg.TrackReq = new(msg.TrackReq)
			err := json.Unmarshal(m.Body, req)
			if err != nil {
				errors <- err
				continue
			}
			reqs <- *req
			mut.Lock() // wait for tracker to finish processing the request
			m.Ack(false)
		}
	}()
	return reqs, errors, nil
}
