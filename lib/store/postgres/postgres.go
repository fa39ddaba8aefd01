// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/odiseolabs/txflow/lib/store"
)

const schema = `CREATE TABLE IF NOT EXISTS tracked_tx (
	transaction_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	signatures JSONB NOT NULL DEFAULT '{}',
	content_hash TEXT NOT NULL DEFAULT '',
	blockchain_tx_hash TEXT NOT NULL DEFAULT '',
	explorer_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	error TEXT NOT NULL DEFAULT ''
)`

type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("cannot create tracked_tx table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// SaveTracked upserts the record for the transaction id.
func (p *Postgres) SaveTracked(t store.TrackedTransaction) error {
	sigs, err := json.Marshal(t.Signatures)
	if err != nil {
		return fmt.Errorf("could not encode signatures for %s: %w", t.ID, err)
	}

	_, err = p.db.Exec(`INSERT INTO tracked_tx
		(transaction_id, status, signatures, content_hash, blockchain_tx_hash, explorer_url, created_at, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO UPDATE SET
		status = $2, signatures = $3, content_hash = $4, blockchain_tx_hash = $5, explorer_url = $6, error = $8`,
		t.ID, t.Status, sigs, t.ContentHash, t.BlockchainTxHash, t.ExplorerURL, t.CreatedAt, t.Error)
	if err != nil {
		return fmt.Errorf("could not save transaction %s in db: %w", t.ID, err)
	}

	return nil
}

// GetTracked returns the record for the transaction id.
func (p *Postgres) GetTracked(id string) (t store.TrackedTransaction, err error) {
	row := p.db.QueryRow(`SELECT transaction_id, status, signatures, content_hash, blockchain_tx_hash,
		explorer_url, created_at, error FROM tracked_tx WHERE transaction_id = $1`, id)

	t, err = scanTracked(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		err = store.ErrTxNotFound
	}

	return
}

// ListTracked returns all records, or only non-terminal ones when pending is set.
func (p *Postgres) ListTracked(pending bool) ([]store.TrackedTransaction, error) {
	query := `SELECT transaction_id, status, signatures, content_hash, blockchain_tx_hash,
		explorer_url, created_at, error FROM tracked_tx`
	if pending {
		query += ` WHERE status NOT IN ($1, $2)`
	}

	var rows *sql.Rows

	var err error
	if pending {
		rows, err = p.db.Query(query, store.StatusConfirmed, store.StatusError)
	} else {
		rows, err = p.db.Query(query)
	}

	if err != nil {
		return nil, fmt.Errorf("error querying tracked_tx: %w", err)
	}
	defer rows.Close()

	txs := []store.TrackedTransaction{}

	for rows.Next() {
		t, errScan := scanTracked(rows.Scan)
		if errScan != nil {
			return nil, fmt.Errorf("error scanning tracked_tx row: %w", errScan)
		}

		txs = append(txs, t)
	}

	return txs, rows.Err()
}

// RemoveTracked deletes the record for the transaction id.
func (p *Postgres) RemoveTracked(id string) error {
	res, err := p.db.Exec(`DELETE FROM tracked_tx WHERE transaction_id = $1`, id)
	if err != nil {
		return fmt.Errorf("could not delete transaction %s from db: %w", id, err)
	}

	if n, _ := res.RowsAffected(); n != 1 {
		return store.ErrTxNotFound
	}

	return nil
}

func scanTracked(scan func(...interface{}) error) (t store.TrackedTransaction, err error) {
	var sigs []byte

	err = scan(&t.ID, &t.Status, &sigs, &t.ContentHash, &t.BlockchainTxHash, &t.ExplorerURL,
		&t.CreatedAt, &t.Error)
	if err != nil {
		return
	}

	err = json.Unmarshal(sigs, &t.Signatures)

	return
}
