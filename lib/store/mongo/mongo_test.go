package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/odiseolabs/txflow/lib/store"
)

var uri string = "mongodb://localhost:27017"

// open connects to the test database or skips when none is reachable.
func open(t *testing.T) *Mongo {
	t.Helper()
	m, err := New(uri)
	if err != nil {
		t.Skipf("mongo not available at %s: %v", uri, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err = m.c.Ping(ctx, nil); err != nil {
		t.Skipf("mongo not available at %s: %v", uri, err)
	}
	return m
}

func TestSaveAndGetTracked(t *testing.T) {
	m := open(t)
	defer m.CloseMongo()

	tt := store.TrackedTransaction{
		ID:          "tx_mongo_test",
		Status:      store.StatusPending,
		Signatures:  map[string]string{"owner": store.SigSigned, "investor": store.SigUnsigned},
		ContentHash: "deadbeef",
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := m.SaveTracked(tt); err != nil {
		t.Errorf("SaveTracked err:%e", err)
	}

	got, err := m.GetTracked(tt.ID)
	if err != nil {
		t.Errorf("GetTracked err:%e", err)
	}
	if got.Status != store.StatusPending || got.Signatures["owner"] != store.SigSigned || got.ContentHash != "deadbeef" {
		t.Errorf("expected saved transaction but got:%+v\n", got)
	}

	// a second save for the same id must replace, not duplicate
	tt.Status = store.StatusConfirmed
	tt.BlockchainTxHash = "2BA030485E79B5A98275B45D940E6FDD07B40DEA"
	if err = m.SaveTracked(tt); err != nil {
		t.Errorf("SaveTracked err:%e", err)
	}
	if got, err = m.GetTracked(tt.ID); err != nil || got.Status != store.StatusConfirmed {
		t.Errorf("expected confirmed transaction but got:%+v err:%e\n", got, err)
	}

	if err = m.RemoveTracked(tt.ID); err != nil {
		t.Errorf("RemoveTracked err:%e", err)
	}
}

func TestListTracked(t *testing.T) {
	m := open(t)
	defer m.CloseMongo()

	pendingTx := store.TrackedTransaction{ID: "tx_mongo_pending", Status: store.StatusPending, CreatedAt: time.Now()}
	doneTx := store.TrackedTransaction{ID: "tx_mongo_done", Status: store.StatusConfirmed, CreatedAt: time.Now()}
	if err := m.SaveTracked(pendingTx); err != nil {
		t.Errorf("SaveTracked err:%e", err)
	}
	if err := m.SaveTracked(doneTx); err != nil {
		t.Errorf("SaveTracked err:%e", err)
	}

	txs, err := m.ListTracked(true)
	if err != nil {
		t.Errorf("ListTracked err:%e", err)
	}
	for _, txn := range txs {
		if txn.Terminal() {
			t.Errorf("pending listing returned terminal transaction:%+v\n", txn)
		}
	}

	m.RemoveTracked(pendingTx.ID)
	m.RemoveTracked(doneTx.ID)
}

func TestGetTrackedNotFound(t *testing.T) {
	m := open(t)
	defer m.CloseMongo()

	if _, err := m.GetTracked("tx_never_saved"); err != store.ErrTxNotFound {
		t.Errorf("expected ErrTxNotFound but got err:%e", err)
	}
	if err := m.RemoveTracked("tx_never_saved"); err != store.ErrTxNotFound {
		t.Errorf("expected ErrTxNotFound but got err:%e", err)
	}
}
