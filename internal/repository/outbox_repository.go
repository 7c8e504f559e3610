package repository

import (
	"context"
	"fmt"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/store"
)

func (r *Repository) AddOutboxEvent(ctx context.Context, event domain.OutboxEvent) error {
	query := `INSERT INTO outbox (id, aggregate_id, tenant_id, event_type, payload, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.q(ctx).ExecContext(ctx, query,
		event.ID,
		event.AggregateID,
		event.TenantID,
		event.EventType,
		event.Payload,
		event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetUnprocessedEvents(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	query := `SELECT id, aggregate_id, tenant_id, event_type, payload, created_at
	          FROM outbox WHERE processed_at IS NULL
	          ORDER BY created_at LIMIT $1`
	if limit <= 0 {
		limit = defaultBatch
	}

	rows, err := r.q(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var event domain.OutboxEvent
		if err := rows.Scan(
			&event.ID,
			&event.AggregateID,
			&event.TenantID,
			&event.EventType,
			&event.Payload,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}

func (r *Repository) MarkEventProcessed(ctx context.Context, id string) error {
	result, err := r.q(ctx).ExecContext(ctx, `UPDATE outbox SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrEventNotFound
	}
	return nil
}
