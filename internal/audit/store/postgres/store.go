package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"provenance/internal/audit"
	"provenance/pkg/domain"
	"provenance/pkg/platform/tx"
)

var schema = []string{`
CREATE TABLE IF NOT EXISTS provenance_events (
	id          UUID PRIMARY KEY,
	product_id  TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor       TEXT NOT NULL,
	new_owner   TEXT NOT NULL DEFAULT '',
	tx_hash     TEXT NOT NULL,
	request_id  TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
)`, `
CREATE INDEX IF NOT EXISTS provenance_events_product_idx
	ON provenance_events (product_id, occurred_at)`,
}

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the journal table and index in one transaction.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return tx.Run(ctx, s.db, func(ctx context.Context) error {
		for _, stmt := range schema {
			if _, err := tx.Executor(ctx, s.db).ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create journal schema: %w", err)
			}
		}
		return nil
	})
}

// Append is idempotent on the event id. It joins a transaction on ctx.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}
	query := `
		INSERT INTO provenance_events (id, product_id, action, actor, new_owner, tx_hash, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = tx.Executor(ctx, s.db).ExecContext(ctx, query,
		eventID,
		string(event.ProductID),
		string(event.Action),
		string(event.Actor),
		string(event.NewOwner),
		event.TxHash,
		event.RequestID,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert journal event: %w", err)
	}
	return nil
}

func (s *Store) ListByProduct(ctx context.Context, productID domain.ProductID, actions ...audit.Action) ([]audit.Event, error) {
	query := `
		SELECT id, product_id, action, actor, new_owner, tx_hash, request_id, occurred_at
		FROM provenance_events
		WHERE product_id = $1
	`
	args := []any{string(productID)}
	if len(actions) > 0 {
		names := make([]string, len(actions))
		for i, a := range actions {
			names[i] = string(a)
		}
		query += " AND action = ANY($2)"
		args = append(args, pq.Array(names))
	}
	query += " ORDER BY occurred_at, id"

	rows, err := tx.Executor(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal events: %w", err)
	}
	defer rows.Close()

	events := []audit.Event{}
	for rows.Next() {
		var (
			e               audit.Event
			id              uuid.UUID
			product, action string
			actor, newOwner string
		)
		if err := rows.Scan(&id, &product, &action, &actor, &newOwner, &e.TxHash, &e.RequestID, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan journal event: %w", err)
		}
		e.ID = id.String()
		e.ProductID = domain.ProductID(product)
		e.Action = audit.Action(action)
		e.Actor = domain.Account(actor)
		e.NewOwner = domain.Account(newOwner)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal events: %w", err)
	}
	return events, nil
}
