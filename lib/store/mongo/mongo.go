// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/odiseolabs/txflow/lib/store"
)

const (
	database   = "txflow"
	collection = "tracked"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

// SaveTracked upserts the record for the transaction id.
func (m *Mongo) SaveTracked(t store.TrackedTransaction) error {
	col := m.c.Database(database).Collection(collection)

	_, err := col.UpdateOne(context.Background(),
		bson.M{"transaction_id": t.ID}, // filter
		bson.D{ // update
			{
				Key: "$set", Value: bson.D{
					{Key: "status", Value: t.Status},
					{Key: "signatures", Value: t.Signatures},
					{Key: "content_hash", Value: t.ContentHash},
					{Key: "blockchain_tx_hash", Value: t.BlockchainTxHash},
					{Key: "explorer_url", Value: t.ExplorerURL},
					{Key: "created_at", Value: t.CreatedAt},
					{Key: "error", Value: t.Error},
				},
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not save transaction %s in db: %w", t.ID, err)
	}

	return nil
}

// GetTracked returns the record for the transaction id.
func (m *Mongo) GetTracked(id string) (t store.TrackedTransaction, err error) {
	sr := m.c.Database(database).Collection(collection).FindOne(context.Background(),
		bson.M{"transaction_id": id})
	if err = sr.Decode(&t); errors.Is(err, mgo.ErrNoDocuments) {
		err = store.ErrTxNotFound
	}

	return
}

// ListTracked returns all records, or only non-terminal ones when pending is set.
func (m *Mongo) ListTracked(pending bool) ([]store.TrackedTransaction, error) {
	filter := bson.M{}
	if pending {
		filter = bson.M{"status": bson.M{"$nin": []string{store.StatusConfirmed, store.StatusError}}}
	}

	docs, err := m.c.Database(database).Collection(collection).Find(context.Background(), filter)
	if err != nil {
		return nil, fmt.Errorf("error getting mongo DB cursor: %w", err)
	}

	txs := []store.TrackedTransaction{}

	for docs.Next(context.Background()) {
		var t store.TrackedTransaction
		if err = bson.Unmarshal(docs.Current, &t); err == nil {
			txs = append(txs, t)
		}
	}

	return txs, nil
}

// RemoveTracked deletes the record for the transaction id.
func (m *Mongo) RemoveTracked(id string) error {
	res, err := m.c.Database(database).Collection(collection).DeleteOne(context.Background(),
		bson.M{"transaction_id": id})
	if err == nil && res.DeletedCount != 1 {
		err = store.ErrTxNotFound
	}

	return err
}
