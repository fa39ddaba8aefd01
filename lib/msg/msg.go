// Package msg defines the interface for different message brokers.
//
package msg

import (
	"sync"

	"github.com/odiseolabs/txflow/lib/store"
)

// Actions to be applied to tracked transactions.
const (
	ActStart = 0
	ActStop  = 1
)

// TrackReq defines the message that the pipeline service publishes to the tracker to start or stop
// watching a transaction.
type TrackReq struct {
	Chain string `json:"chain"`
	TxID  string `json:"txId"`
	Act   int    `json:"act"` // action to be applied
}

// CreatedEvent defines the message published when a transaction has been accepted by the chain.
type CreatedEvent struct {
	TransactionID string `json:"transactionId"`
	Hash          string `json:"hash"`
	Type          string `json:"type"`
}

// StatusEvent defines the message the tracker publishes on every poll cycle of a watched transaction.
type StatusEvent struct {
	Tx     store.TrackedTransaction `json:"tx"`
	State  string                   `json:"state"`
	Signed int                      `json:"signed"`
	Total  int                      `json:"total"`
}

type Broker interface {
	Setup(interface{}) error
	Close() error

	// methods for pipeline service
	SendTrackReq(chain string, r TrackReq) error
	SendCreated(chain string, e CreatedEvent) error
	GetStatus(chain string, mut *sync.Mutex) (<-chan StatusEvent, <-chan error, error)

	// methods for tracker service
	GetTrackReqs(chain string, mut *sync.Mutex) (<-chan TrackReq, <-chan error, error)
	SendStatus(chain string, s StatusEvent) error
}
