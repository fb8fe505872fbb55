package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

func upsertQueue(ctx context.Context, q pgxQuerier, name string) (*domain.Queue, error) {
	const query = `
        INSERT INTO queues (queue_key, name) VALUES ($1,$2)
        ON CONFLICT (queue_key) DO UPDATE SET queue_key=EXCLUDED.queue_key
        RETURNING name, automatic_assignee, created_at`
	var queue domain.Queue
	if err := q.QueryRow(ctx, query, domain.QueueKey(name), name).Scan(
		&queue.Name,
		&queue.AutomaticAssignee,
		&queue.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("upsert queue: %w", err)
	}
	queue.CreatedAt = queue.CreatedAt.UTC()
	return &queue, nil
}

func setQueueAssignee(ctx context.Context, q pgxQuerier, name string, assignee *string) (*domain.Queue, error) {
	const query = `
        UPDATE queues SET automatic_assignee=$1 WHERE queue_key=$2
        RETURNING name, automatic_assignee, created_at`
	var queue domain.Queue
	if err := q.QueryRow(ctx, query, assignee, domain.QueueKey(name)).Scan(
		&queue.Name,
		&queue.AutomaticAssignee,
		&queue.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, fmt.Errorf("set queue assignee: %w", err)
	}
	queue.CreatedAt = queue.CreatedAt.UTC()
	return &queue, nil
}

func listQueues(ctx context.Context, q pgxQuerier) ([]domain.Queue, error) {
	rows, err := q.Query(ctx, `SELECT name, automatic_assignee, created_at FROM queues ORDER BY queue_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()

	var result []domain.Queue
	for rows.Next() {
		var queue domain.Queue
		if err := rows.Scan(&queue.Name, &queue.AutomaticAssignee, &queue.CreatedAt); err != nil {
			return nil, err
		}
		queue.CreatedAt = queue.CreatedAt.UTC()
		result = append(result, queue)
	}
	return result, rows.Err()
}
