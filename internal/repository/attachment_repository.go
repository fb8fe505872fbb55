package repository

import (
	"context"
	"fmt"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// replaceAttachments rewrites the attachment set of a ticket.
func replaceAttachments(ctx context.Context, q pgxQuerier, ticketID int64, attachments []domain.Attachment) error {
	if _, err := q.Exec(ctx, `DELETE FROM ticket_attachments WHERE ticket_id=$1`, ticketID); err != nil {
		return fmt.Errorf("clear attachments: %w", err)
	}
	const query = `
        INSERT INTO ticket_attachments (ticket_id, position, object_ref, arg_name)
        VALUES ($1,$2,$3,$4)`
	for i, att := range attachments {
		if _, err := q.Exec(ctx, query, ticketID, i, att.ObjectRef, att.ArgName); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

func listAttachments(ctx context.Context, q pgxQuerier, ticketID int64) ([]domain.Attachment, error) {
	const query = `
        SELECT object_ref, arg_name
        FROM ticket_attachments WHERE ticket_id=$1 ORDER BY position ASC`
	rows, err := q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var result []domain.Attachment
	for rows.Next() {
		var att domain.Attachment
		if err := rows.Scan(&att.ObjectRef, &att.ArgName); err != nil {
			return nil, err
		}
		result = append(result, att)
	}
	return result, rows.Err()
}

// replaceLinks rewrites the external link set of a ticket.
func replaceLinks(ctx context.Context, q pgxQuerier, ticketID int64, links []domain.ExternalLink) error {
	if _, err := q.Exec(ctx, `DELETE FROM ticket_links WHERE ticket_id=$1`, ticketID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	const query = `
        INSERT INTO ticket_links (ticket_id, position, kind, link_id)
        VALUES ($1,$2,$3,$4)`
	for i, link := range links {
		if _, err := q.Exec(ctx, query, ticketID, i, link.Kind, link.ID); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}
	return nil
}

func listLinks(ctx context.Context, q pgxQuerier, ticketID int64) ([]domain.ExternalLink, error) {
	const query = `
        SELECT kind, link_id
        FROM ticket_links WHERE ticket_id=$1 ORDER BY position ASC`
	rows, err := q.Query(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var result []domain.ExternalLink
	for rows.Next() {
		var link domain.ExternalLink
		if err := rows.Scan(&link.Kind, &link.ID); err != nil {
			return nil, err
		}
		result = append(result, link)
	}
	return result, rows.Err()
}
