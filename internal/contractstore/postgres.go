package contractstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
	"github.com/mapleaiorg/accountability-core/internal/ids"
)

// Postgres is a reference Store implementation backed by a single table,
// demonstrating the storage-interface seam. It is never
// wired into a default constructor; callers opt in explicitly.
//
// Expected schema:
//
//	CREATE TABLE commitments (
//	    commitment_id TEXT PRIMARY KEY,
//	    state         TEXT NOT NULL,
//	    body          JSONB NOT NULL
//	);
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool against dsn ("postgres://...").
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("contractstore: open postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Get(ctx context.Context, id ids.CommitmentId) (*Commitment, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM commitments WHERE commitment_id = $1`, string(id)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, coreerr.New(coreerr.CommitmentMissing, fmt.Sprintf("commitment %s not found", id))
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "query commitment", err)
	}
	var c Commitment
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, coreerr.Wrap(coreerr.Serialization, "decode commitment", err)
	}
	return &c, nil
}

func (p *Postgres) Put(ctx context.Context, c *Commitment) error {
	body, err := json.Marshal(c)
	if err != nil {
		return coreerr.Wrap(coreerr.Serialization, "encode commitment", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO commitments (commitment_id, state, body)
		VALUES ($1, $2, $3)
		ON CONFLICT (commitment_id) DO UPDATE SET state = EXCLUDED.state, body = EXCLUDED.body
	`, string(c.CommitmentID), string(c.State), body)
	if err != nil {
		return coreerr.Wrap(coreerr.Backend, "upsert commitment", err)
	}
	return nil
}

func (p *Postgres) Transition(ctx context.Context, id ids.CommitmentId, to State) (*Commitment, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "begin transition tx", err)
	}
	defer tx.Rollback()

	var body []byte
	err = tx.QueryRowContext(ctx, `SELECT body FROM commitments WHERE commitment_id = $1 FOR UPDATE`, string(id)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, coreerr.New(coreerr.CommitmentMissing, fmt.Sprintf("commitment %s not found", id))
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "lock commitment row", err)
	}
	var c Commitment
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, coreerr.Wrap(coreerr.Serialization, "decode commitment", err)
	}
	if !CanTransition(c.State, to) {
		return nil, coreerr.New(coreerr.InvariantViolation,
			fmt.Sprintf("commitment %s: transition %s -> %s not permitted", id, c.State, to))
	}
	c.State = to
	newBody, err := json.Marshal(&c)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Serialization, "encode commitment", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE commitments SET state = $1, body = $2 WHERE commitment_id = $3`,
		string(to), newBody, string(id)); err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "update commitment", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "commit transition tx", err)
	}
	return &c, nil
}
