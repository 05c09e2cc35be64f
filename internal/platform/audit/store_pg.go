package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgStore struct{ pool *pgxpool.Pool }

// NewPGStore creates an audit Store backed by the audit_event table.
func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) Append(ctx context.Context, event Event) error {
	before, err := json.Marshal(event.Before)
	if err != nil {
		return err
	}
	after, err := json.Marshal(event.After)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_event (recorded_at, actor, action, resource, subject, reason, before_state, after_state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		event.Timestamp, event.Actor, event.Action, event.Resource, event.Subject,
		event.Reason, before, after)
	return err
}
