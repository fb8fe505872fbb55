package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// SQLiteStore implements TicketStore on an embedded SQLite database. Write
// transactions begin IMMEDIATE, so updates of a ticket are serialized by the
// database write lock; the status compare-and-set still guards every update.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened database. See persistence.OpenSQLite.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func toMicros(value time.Time) int64 {
	return value.UTC().UnixMicro()
}

func fromMicros(value int64) time.Time {
	return time.UnixMicro(value).UTC()
}

func (s *SQLiteStore) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		participants, err := encodeStrings(ticket.Participants)
		if err != nil {
			return err
		}
		views, err := encodeViews(ticket.LastViewed)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tickets (
			   title, description, status, queue_name, requester, assignee, participants,
			   last_viewed, reopened_from, created_at, updated_at, activity_at, closed_at, archive_ref
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ticket.Title,
			ticket.Description,
			string(ticket.Status),
			ticket.Queue,
			ticket.Requester,
			nullString(ticket.Assignee),
			string(participants),
			string(views),
			nullInt64(ticket.ReopenedFrom),
			toMicros(ticket.CreatedAt),
			toMicros(ticket.UpdatedAt),
			toMicros(ticket.ActivityAt),
			nullMicros(ticket.ClosedAt),
			nullInt64(ticket.ArchiveRef),
		)
		if err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("ticket id: %w", err)
		}
		ticket.ID = id
		return s.writeChildren(ctx, tx, ticket)
	})
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.loadTicket(ctx, s.db, id)
}

func (s *SQLiteStore) ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	clauses := []string{"1=1"}
	args := []any{}
	if filter.Queue != nil {
		clauses = append(clauses, "LOWER(queue_name) = ?")
		args = append(args, domain.QueueKey(*filter.Queue))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if filter.Participant != nil {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM json_each(tickets.participants) p WHERE p.value = ?)")
		args = append(args, *filter.Participant)
	}
	if filter.Requester != nil {
		clauses = append(clauses, "requester = ?")
		args = append(args, *filter.Requester)
	}
	if filter.Assignee != nil {
		clauses = append(clauses, "assignee = ?")
		args = append(args, *filter.Assignee)
	}
	if filter.Link != nil {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM ticket_links l WHERE l.ticket_id = tickets.id AND l.kind = ? AND l.link_id = ?)")
		args = append(args, filter.Link.Kind, filter.Link.ID)
	}
	limit, offset := normalizeLimit(filter)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM tickets WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id ASC LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]domain.Ticket, 0, len(ids))
	for _, id := range ids {
		ticket, err := s.loadTicket(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, nil
}

func (s *SQLiteStore) UpdateTicket(ctx context.Context, id int64, fn MutateFunc) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		ticket, err := s.loadTicket(ctx, tx, id)
		if err != nil {
			return err
		}
		prevStatus := ticket.Status
		archive, err := fn(ticket)
		if err != nil {
			return err
		}
		if archive != nil {
			archive.OriginalID = ticket.ID
			if err := s.insertArchive(ctx, tx, archive); err != nil {
				return err
			}
			ref := archive.ID
			ticket.ArchiveRef = &ref
		}
		participants, err := encodeStrings(ticket.Participants)
		if err != nil {
			return err
		}
		views, err := encodeViews(ticket.LastViewed)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tickets SET status = ?, assignee = ?, participants = ?, last_viewed = ?,
			   updated_at = ?, activity_at = ?, closed_at = ?, archive_ref = ?
			 WHERE id = ? AND status = ?`,
			string(ticket.Status),
			nullString(ticket.Assignee),
			string(participants),
			string(views),
			toMicros(ticket.UpdatedAt),
			toMicros(ticket.ActivityAt),
			nullMicros(ticket.ClosedAt),
			nullInt64(ticket.ArchiveRef),
			ticket.ID,
			string(prevStatus),
		)
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update ticket: %w", err)
		}
		if affected == 0 {
			return ErrStatusConflict
		}
		if err := s.writeChildren(ctx, tx, ticket); err != nil {
			return err
		}
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *SQLiteStore) GetArchive(ctx context.Context, id int64) (*domain.ArchivedTicket, error) {
	return s.getArchive(ctx, "id", id)
}

func (s *SQLiteStore) GetArchiveByTicket(ctx context.Context, ticketID int64) (*domain.ArchivedTicket, error) {
	return s.getArchive(ctx, "original_id", ticketID)
}

func (s *SQLiteStore) GetOrCreateQueue(ctx context.Context, name string) (*domain.Queue, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO queues (queue_key, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (queue_key) DO UPDATE SET queue_key = excluded.queue_key
		 RETURNING name, automatic_assignee, created_at`,
		domain.QueueKey(name), name, toMicros(time.Now()))
	queue, err := scanQueue(row)
	if err != nil {
		return nil, fmt.Errorf("upsert queue: %w", err)
	}
	return queue, nil
}

func (s *SQLiteStore) SetQueueAssignee(ctx context.Context, name string, assignee *string) (*domain.Queue, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`UPDATE queues SET automatic_assignee = ? WHERE queue_key = ?
		 RETURNING name, automatic_assignee, created_at`,
		nullString(assignee), domain.QueueKey(name))
	queue, err := scanQueue(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQueueNotFound
		}
		return nil, fmt.Errorf("set queue assignee: %w", err)
	}
	return queue, nil
}

func (s *SQLiteStore) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT name, automatic_assignee, created_at FROM queues ORDER BY queue_key ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queues: %w", err)
	}
	defer rows.Close()
	var result []domain.Queue
	for rows.Next() {
		queue, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *queue)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return errors.New("sqlite store is not configured")
	}
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadTicket(ctx context.Context, q sqlQuerier, id int64) (*domain.Ticket, error) {
	var (
		ticket       domain.Ticket
		status       string
		assignee     sql.NullString
		participants string
		views        string
		reopenedFrom sql.NullInt64
		createdAt    int64
		updatedAt    int64
		activityAt   int64
		closedAt     sql.NullInt64
		archiveRef   sql.NullInt64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, title, description, status, queue_name, requester, assignee, participants,
		        last_viewed, reopened_from, created_at, updated_at, activity_at, closed_at, archive_ref
		   FROM tickets WHERE id = ?`, id).Scan(
		&ticket.ID,
		&ticket.Title,
		&ticket.Description,
		&status,
		&ticket.Queue,
		&ticket.Requester,
		&assignee,
		&participants,
		&views,
		&reopenedFrom,
		&createdAt,
		&updatedAt,
		&activityAt,
		&closedAt,
		&archiveRef,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("load ticket: %w", err)
	}
	ticket.Status = domain.TicketStatus(status)
	ticket.Assignee = stringPtr(assignee)
	ticket.ReopenedFrom = int64Ptr(reopenedFrom)
	ticket.ArchiveRef = int64Ptr(archiveRef)
	ticket.CreatedAt = fromMicros(createdAt)
	ticket.UpdatedAt = fromMicros(updatedAt)
	ticket.ActivityAt = fromMicros(activityAt)
	if closedAt.Valid {
		closed := fromMicros(closedAt.Int64)
		ticket.ClosedAt = &closed
	}
	if ticket.Participants, err = decodeStrings([]byte(participants)); err != nil {
		return nil, err
	}
	if ticket.LastViewed, err = decodeViews([]byte(views)); err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, q, &ticket); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, q sqlQuerier, ticket *domain.Ticket) error {
	rows, err := q.QueryContext(ctx,
		`SELECT id, author, body, is_system, created_at FROM ticket_comments WHERE ticket_id = ? ORDER BY id ASC`,
		ticket.ID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	for rows.Next() {
		var (
			comment   domain.Comment
			createdAt int64
		)
		if err := rows.Scan(&comment.ID, &comment.Author, &comment.Text, &comment.System, &createdAt); err != nil {
			_ = rows.Close()
			return err
		}
		comment.CreatedAt = fromMicros(createdAt)
		ticket.Comments = append(ticket.Comments, comment)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT object_ref, arg_name FROM ticket_attachments WHERE ticket_id = ? ORDER BY position ASC`,
		ticket.ID)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	for rows.Next() {
		var (
			att     domain.Attachment
			argName sql.NullString
		)
		if err := rows.Scan(&att.ObjectRef, &argName); err != nil {
			_ = rows.Close()
			return err
		}
		att.ArgName = stringPtr(argName)
		ticket.Attachments = append(ticket.Attachments, att)
	}
	if err := closeRows(rows); err != nil {
		return err
	}

	rows, err = q.QueryContext(ctx,
		`SELECT kind, link_id FROM ticket_links WHERE ticket_id = ? ORDER BY position ASC`,
		ticket.ID)
	if err != nil {
		return fmt.Errorf("list links: %w", err)
	}
	for rows.Next() {
		var link domain.ExternalLink
		if err := rows.Scan(&link.Kind, &link.ID); err != nil {
			_ = rows.Close()
			return err
		}
		ticket.ExternalLinks = append(ticket.ExternalLinks, link)
	}
	return closeRows(rows)
}

func (s *SQLiteStore) writeChildren(ctx context.Context, tx *sql.Tx, ticket *domain.Ticket) error {
	for i := range ticket.Comments {
		if ticket.Comments[i].ID != 0 {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ticket_comments (ticket_id, author, body, is_system, created_at) VALUES (?, ?, ?, ?, ?)`,
			ticket.ID,
			ticket.Comments[i].Author,
			ticket.Comments[i].Text,
			ticket.Comments[i].System,
			toMicros(ticket.Comments[i].CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
		if ticket.Comments[i].ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("comment id: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_attachments WHERE ticket_id = ?`, ticket.ID); err != nil {
		return fmt.Errorf("clear attachments: %w", err)
	}
	for i, att := range ticket.Attachments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ticket_attachments (ticket_id, position, object_ref, arg_name) VALUES (?, ?, ?, ?)`,
			ticket.ID, i, att.ObjectRef, nullString(att.ArgName)); err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ticket_links WHERE ticket_id = ?`, ticket.ID); err != nil {
		return fmt.Errorf("clear links: %w", err)
	}
	for i, link := range ticket.ExternalLinks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ticket_links (ticket_id, position, kind, link_id) VALUES (?, ?, ?, ?)`,
			ticket.ID, i, link.Kind, link.ID); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertArchive(ctx context.Context, tx *sql.Tx, archive *domain.ArchivedTicket) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO ticket_archives (
		   original_id, title, description, requester, assignee, queue_name,
		   status, comments, created_at, closed_at, archived_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		archive.OriginalID,
		archive.Title,
		archive.Description,
		archive.Requester,
		nullString(archive.Assignee),
		archive.Queue,
		string(archive.Status),
		archive.Comments,
		toMicros(archive.CreatedAt),
		toMicros(archive.ClosedAt),
		toMicros(archive.ArchivedAt),
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return ErrStatusConflict
		}
		return fmt.Errorf("insert archive: %w", err)
	}
	if archive.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("archive id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getArchive(ctx context.Context, column string, value int64) (*domain.ArchivedTicket, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	var (
		archive    domain.ArchivedTicket
		assignee   sql.NullString
		status     string
		createdAt  int64
		closedAt   int64
		archivedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, original_id, title, description, requester, assignee, queue_name,
		        status, comments, created_at, closed_at, archived_at
		   FROM ticket_archives WHERE `+column+` = ?`, value).Scan(
		&archive.ID,
		&archive.OriginalID,
		&archive.Title,
		&archive.Description,
		&archive.Requester,
		&assignee,
		&archive.Queue,
		&status,
		&archive.Comments,
		&createdAt,
		&closedAt,
		&archivedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrArchiveNotFound
		}
		return nil, fmt.Errorf("get archive: %w", err)
	}
	archive.Assignee = stringPtr(assignee)
	archive.Status = domain.TicketStatus(status)
	archive.CreatedAt = fromMicros(createdAt)
	archive.ClosedAt = fromMicros(closedAt)
	archive.ArchivedAt = fromMicros(archivedAt)
	return &archive, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueue(row rowScanner) (*domain.Queue, error) {
	var (
		queue     domain.Queue
		assignee  sql.NullString
		createdAt int64
	)
	if err := row.Scan(&queue.Name, &assignee, &createdAt); err != nil {
		return nil, err
	}
	queue.AutomaticAssignee = stringPtr(assignee)
	queue.CreatedAt = fromMicros(createdAt)
	return &queue, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	return rows.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE ||
		sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullMicros(v *time.Time) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*v), Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
