package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

const ticketColumns = `id, title, description, status, queue_name, requester, assignee, participants,
               last_viewed, reopened_from, created_at, updated_at, activity_at, closed_at, archive_ref`

func insertTicket(ctx context.Context, q pgxQuerier, ticket *domain.Ticket) error {
	views, err := encodeViews(ticket.LastViewed)
	if err != nil {
		return err
	}
	const query = `
        INSERT INTO tickets (title, description, status, queue_name, requester, assignee, participants,
                             last_viewed, reopened_from, created_at, updated_at, activity_at, closed_at, archive_ref)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        RETURNING id`
	return q.QueryRow(ctx, query,
		ticket.Title,
		ticket.Description,
		ticket.Status,
		ticket.Queue,
		ticket.Requester,
		ticket.Assignee,
		participantsOrEmpty(ticket.Participants),
		string(views),
		ticket.ReopenedFrom,
		ticket.CreatedAt,
		ticket.UpdatedAt,
		ticket.ActivityAt,
		ticket.ClosedAt,
		ticket.ArchiveRef,
	).Scan(&ticket.ID)
}

// updateTicketRow writes the mutable columns only if the status is still prevStatus.
func updateTicketRow(ctx context.Context, q pgxQuerier, ticket *domain.Ticket, prevStatus domain.TicketStatus) error {
	views, err := encodeViews(ticket.LastViewed)
	if err != nil {
		return err
	}
	const query = `
        UPDATE tickets SET status=$1, assignee=$2, participants=$3, last_viewed=$4, updated_at=$5,
            activity_at=$6, closed_at=$7, archive_ref=$8
        WHERE id=$9 AND status=$10`
	cmd, err := q.Exec(ctx, query,
		ticket.Status,
		ticket.Assignee,
		participantsOrEmpty(ticket.Participants),
		string(views),
		ticket.UpdatedAt,
		ticket.ActivityAt,
		ticket.ClosedAt,
		ticket.ArchiveRef,
		ticket.ID,
		prevStatus,
	)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func loadTicket(ctx context.Context, q pgxQuerier, id int64, forUpdate bool) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	ticket, err := scanTicket(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	if ticket.Comments, err = listComments(ctx, q, ticket.ID); err != nil {
		return nil, err
	}
	if ticket.Attachments, err = listAttachments(ctx, q, ticket.ID); err != nil {
		return nil, err
	}
	if ticket.ExternalLinks, err = listLinks(ctx, q, ticket.ID); err != nil {
		return nil, err
	}
	normalizeTimes(ticket)
	return ticket, nil
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		ticket domain.Ticket
		views  []byte
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&ticket.Status,
		&ticket.Queue,
		&ticket.Requester,
		&ticket.Assignee,
		&ticket.Participants,
		&views,
		&ticket.ReopenedFrom,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&ticket.ActivityAt,
		&ticket.ClosedAt,
		&ticket.ArchiveRef,
	); err != nil {
		return nil, err
	}
	decoded, err := decodeViews(views)
	if err != nil {
		return nil, err
	}
	ticket.LastViewed = decoded
	return &ticket, nil
}

func listTicketIDs(ctx context.Context, q pgxQuerier, filter TicketFilter) ([]int64, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.Queue != nil {
		args = append(args, domain.QueueKey(*filter.Queue))
		clauses = append(clauses, fmt.Sprintf("LOWER(queue_name)=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Participant != nil {
		args = append(args, *filter.Participant)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(participants)", len(args)))
	}
	if filter.Requester != nil {
		args = append(args, *filter.Requester)
		clauses = append(clauses, fmt.Sprintf("requester=$%d", len(args)))
	}
	if filter.Assignee != nil {
		args = append(args, *filter.Assignee)
		clauses = append(clauses, fmt.Sprintf("assignee=$%d", len(args)))
	}
	if filter.Link != nil {
		args = append(args, filter.Link.Kind, filter.Link.ID)
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM ticket_links l WHERE l.ticket_id=tickets.id AND l.kind=$%d AND l.link_id=$%d)",
			len(args)-1, len(args)))
	}

	limit, offset := normalizeLimit(filter)
	query := fmt.Sprintf(`SELECT id FROM tickets WHERE %s ORDER BY id ASC LIMIT %d OFFSET %d`,
		strings.Join(clauses, " AND "), limit, offset)

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func participantsOrEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
