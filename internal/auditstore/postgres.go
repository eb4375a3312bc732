package auditstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/mapleaiorg/accountability-core/internal/coreerr"
)

// Postgres is a reference Store implementation backed by a single
// sequence-ordered table. Never wired into a default
// constructor.
//
// Expected schema:
//
//	CREATE TABLE audit_entries (
//	    entry_id      TEXT PRIMARY KEY,
//	    sequence      BIGINT UNIQUE NOT NULL,
//	    timestamp     TIMESTAMPTZ NOT NULL,
//	    actor         TEXT NOT NULL,
//	    stage         TEXT NOT NULL,
//	    success       BOOLEAN NOT NULL,
//	    message       TEXT NOT NULL,
//	    commitment_id TEXT,
//	    payload       JSONB,
//	    previous_hash TEXT,
//	    hash          TEXT NOT NULL
//	);
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens a connection pool against dsn.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "open postgres", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) Append(ctx context.Context, req AppendRequest) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "begin append tx", err)
	}
	defer tx.Rollback()

	var prevHash string
	var lastSeq uint64
	row := tx.QueryRowContext(ctx, `SELECT sequence, hash FROM audit_entries ORDER BY sequence DESC LIMIT 1 FOR UPDATE`)
	switch err := row.Scan(&lastSeq, &prevHash); err {
	case nil, sql.ErrNoRows:
	default:
		return nil, coreerr.Wrap(coreerr.Backend, "read last audit entry", err)
	}

	payload, err := marshalPayload(req.Payload)
	if err != nil {
		return nil, err
	}
	compact, err := CompactPayload(payload)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		EntryID:      uuid.NewString(),
		Sequence:     lastSeq + 1,
		Timestamp:    time.Now(),
		Actor:        req.Actor,
		Stage:        req.Stage,
		Success:      req.Success,
		Message:      req.Message,
		CommitmentID: req.CommitmentID,
		Payload:      compact,
		PreviousHash: prevHash,
	}
	hash, err := e.computeHash()
	if err != nil {
		return nil, err
	}
	e.Hash = hash

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_entries
			(entry_id, sequence, timestamp, actor, stage, success, message, commitment_id, payload, previous_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.EntryID, e.Sequence, e.Timestamp, e.Actor, e.Stage, e.Success, e.Message, e.CommitmentID, []byte(e.Payload), e.PreviousHash, e.Hash)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "insert audit entry", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "commit append tx", err)
	}
	return e, nil
}

func (p *Postgres) ByCommitment(ctx context.Context, commitmentID string) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT entry_id, sequence, timestamp, actor, stage, success, message, commitment_id, payload, previous_hash, hash
		FROM audit_entries WHERE commitment_id = $1 ORDER BY sequence ASC
	`, commitmentID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "query by commitment", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (p *Postgres) Range(ctx context.Context, from, to uint64) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT entry_id, sequence, timestamp, actor, stage, success, message, commitment_id, payload, previous_hash, hash
		FROM audit_entries WHERE sequence BETWEEN $1 AND $2 ORDER BY sequence ASC
	`, from, to)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Backend, "query range", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		var e Entry
		var commitmentID, previousHash sql.NullString
		var payload []byte
		if err := rows.Scan(&e.EntryID, &e.Sequence, &e.Timestamp, &e.Actor, &e.Stage, &e.Success, &e.Message,
			&commitmentID, &payload, &previousHash, &e.Hash); err != nil {
			return nil, coreerr.Wrap(coreerr.Backend, "scan audit entry", err)
		}
		e.CommitmentID = commitmentID.String
		e.PreviousHash = previousHash.String
		e.Payload = payload
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *Postgres) VerifyChain(ctx context.Context) error {
	entries, err := p.Range(ctx, 1, math.MaxInt64)
	if err != nil {
		return err
	}
	var prev *Entry
	for _, e := range entries {
		if !e.VerifyChain(prev) {
			return coreerr.New(coreerr.InvariantViolation, fmt.Sprintf("audit chain broken at sequence %d", e.Sequence))
		}
		prev = e
	}
	return nil
}
