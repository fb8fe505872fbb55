package repository

import (
	"context"
	"fmt"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// insertComments writes the comments that have no id yet and fills their ids in place.
func insertComments(ctx context.Context, q pgxQuerier, ticketID int64, comments []domain.Comment) error {
	const query = `
        INSERT INTO ticket_comments (ticket_id, author, body, is_system, created_at)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id`
	for i := range comments {
		if comments[i].ID != 0 {
			continue
		}
		if err := q.QueryRow(ctx, query,
			ticketID,
			comments[i].Author,
			comments[i].Text,
			comments[i].System,
			comments[i].CreatedAt,
		).Scan(&comments[i].ID); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
	}
	return nil
}

func listComments(ctx context.Context, q pgxQuerier, ticketID int64) ([]domain.Comment, error) {
	const query = `
        SELECT id, author, body, is_system, created_at
        FROM ticket_comments WHERE ticket_id=$1 ORDER BY id ASC`
	rows, err := q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var result []domain.Comment
	for rows.Next() {
		var comment domain.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.Author,
			&comment.Text,
			&comment.System,
			&comment.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, comment)
	}
	return result, rows.Err()
}
