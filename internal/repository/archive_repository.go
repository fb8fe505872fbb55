package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

func insertArchive(ctx context.Context, q pgxQuerier, archive *domain.ArchivedTicket) error {
	const query = `
        INSERT INTO ticket_archives (original_id, title, description, requester, assignee, queue_name,
                                     status, comments, created_at, closed_at, archived_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id`
	err := q.QueryRow(ctx, query,
		archive.OriginalID,
		archive.Title,
		archive.Description,
		archive.Requester,
		archive.Assignee,
		archive.Queue,
		archive.Status,
		archive.Comments,
		archive.CreatedAt,
		archive.ClosedAt,
		archive.ArchivedAt,
	).Scan(&archive.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrStatusConflict
		}
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

// getArchive looks an archive up by id or original_id; column is never user input.
func getArchive(ctx context.Context, q pgxQuerier, column string, value int64) (*domain.ArchivedTicket, error) {
	query := `
        SELECT id, original_id, title, description, requester, assignee, queue_name,
               status, comments, created_at, closed_at, archived_at
        FROM ticket_archives WHERE ` + column + `=$1`
	var archive domain.ArchivedTicket
	if err := q.QueryRow(ctx, query, value).Scan(
		&archive.ID,
		&archive.OriginalID,
		&archive.Title,
		&archive.Description,
		&archive.Requester,
		&archive.Assignee,
		&archive.Queue,
		&archive.Status,
		&archive.Comments,
		&archive.CreatedAt,
		&archive.ClosedAt,
		&archive.ArchivedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("get archive: %w", err)
	}
	normalizeArchiveTimes(&archive)
	return &archive, nil
}
