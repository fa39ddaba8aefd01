package store

import "time"

// Transaction statuses saved to DB.
const (
	StatusPending   string = "pending"
	StatusConfirmed string = "confirmed"
	StatusError     string = "error"
)

// Signature states per role.
const (
	SigSigned   string = "signed"
	SigUnsigned string = "unsigned"
)

// TrackedTransaction contains the fields of a monitored transaction saved to DB.
type TrackedTransaction struct {
	ID               string            `json:"transaction_id" bson:"transaction_id"`
	Status           string            `json:"status" bson:"status"`
	Signatures       map[string]string `json:"signatures" bson:"signatures"`
	ContentHash      string            `json:"content_hash" bson:"content_hash"`
	BlockchainTxHash string            `json:"blockchain_tx_hash,omitempty" bson:"blockchain_tx_hash,omitempty"`
	ExplorerURL      string            `json:"explorer_url,omitempty" bson:"explorer_url,omitempty"`
	CreatedAt        time.Time         `json:"created_at" bson:"created_at"`
	Error            string            `json:"error,omitempty" bson:"error,omitempty"`
}

// Terminal reports whether the transaction needs no further polling.
func (t TrackedTransaction) Terminal() bool {
	return t.Status == StatusConfirmed || t.Status == StatusError
}
