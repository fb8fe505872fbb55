package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements TicketStore on a pgx pool. Ticket updates take a
// row lock and compare-and-set the status inside one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore instantiates the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if err := insertTicket(ctx, tx, ticket); err != nil {
			return err
		}
		return writeChildren(ctx, tx, ticket)
	})
}

func (s *PostgresStore) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	return loadTicket(ctx, s.pool, id, false)
}

func (s *PostgresStore) ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	ids, err := listTicketIDs(ctx, s.pool, filter)
	if err != nil {
		return nil, err
	}
	result := make([]domain.Ticket, 0, len(ids))
	for _, id := range ids {
		ticket, err := loadTicket(ctx, s.pool, id, false)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, nil
}

func (s *PostgresStore) UpdateTicket(ctx context.Context, id int64, fn MutateFunc) (*domain.Ticket, error) {
	var updated *domain.Ticket
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ticket, err := loadTicket(ctx, tx, id, true)
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
			if err := insertArchive(ctx, tx, archive); err != nil {
				return err
			}
			ref := archive.ID
			ticket.ArchiveRef = &ref
		}
		if err := updateTicketRow(ctx, tx, ticket, prevStatus); err != nil {
			return err
		}
		if err := writeChildren(ctx, tx, ticket); err != nil {
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

func (s *PostgresStore) GetArchive(ctx context.Context, id int64) (*domain.ArchivedTicket, error) {
	return getArchive(ctx, s.pool, "id", id)
}

func (s *PostgresStore) GetArchiveByTicket(ctx context.Context, ticketID int64) (*domain.ArchivedTicket, error) {
	return getArchive(ctx, s.pool, "original_id", ticketID)
}

func (s *PostgresStore) GetOrCreateQueue(ctx context.Context, name string) (*domain.Queue, error) {
	return upsertQueue(ctx, s.pool, name)
}

func (s *PostgresStore) SetQueueAssignee(ctx context.Context, name string, assignee *string) (*domain.Queue, error) {
	return setQueueAssignee(ctx, s.pool, name, assignee)
}

func (s *PostgresStore) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	return listQueues(ctx, s.pool)
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if s == nil || s.pool == nil {
		return errors.New("postgres store is not configured")
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// writeChildren persists new comments and replaces the attachment and link sets.
func writeChildren(ctx context.Context, q pgxQuerier, ticket *domain.Ticket) error {
	if err := insertComments(ctx, q, ticket.ID, ticket.Comments); err != nil {
		return err
	}
	if err := replaceAttachments(ctx, q, ticket.ID, ticket.Attachments); err != nil {
		return err
	}
	return replaceLinks(ctx, q, ticket.ID, ticket.ExternalLinks)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
