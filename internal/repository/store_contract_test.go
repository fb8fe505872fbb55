package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/persistence"
)

type storeFactory func(t *testing.T) TicketStore

func storeFactories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(*testing.T) TicketStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) TicketStore {
			db, err := persistence.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tickets.db"), zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			return NewSQLiteStore(db)
		},
		"postgres": func(t *testing.T) TicketStore {
			dsn := os.Getenv("TEST_POSTGRES_DSN")
			if dsn == "" {
				t.Skip("TEST_POSTGRES_DSN not set")
			}
			pg, err := persistence.NewPostgres(context.Background(), config.PostgresConfig{DSN: dsn, RunMigrations: true}, zap.NewNop())
			require.NoError(t, err)
			t.Cleanup(pg.Close)
			_, err = pg.Pool.Exec(context.Background(),
				`TRUNCATE ticket_archives, ticket_links, ticket_attachments, ticket_comments, tickets, queues RESTART IDENTITY CASCADE`)
			require.NoError(t, err)
			return NewPostgresStore(pg.Pool)
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store TicketStore)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

var baseTime = time.Date(2026, 5, 2, 9, 30, 0, 123456000, time.UTC)

func newTicket(queue, requester string) *domain.Ticket {
	return &domain.Ticket{
		Title:        "Need sword",
		Description:  "a sharp one",
		Status:       domain.TicketStatusOpen,
		Queue:        queue,
		Requester:    requester,
		Participants: []string{requester},
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
		ActivityAt:   baseTime,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		ticket := newTicket("REQ", "alice")
		ticket.AppendComment("alice", "hello", false, baseTime)
		arg := "weapon"
		ticket.Attach(domain.Attachment{ObjectRef: "SwordA", ArgName: &arg})
		ticket.Link(domain.ExternalLink{Kind: "situation", ID: "9"})
		ticket.MarkViewed("alice", baseTime)

		require.NoError(t, store.CreateTicket(ctx, ticket))
		assert.NotZero(t, ticket.ID)

		got, err := store.GetTicket(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, "Need sword", got.Title)
		assert.Equal(t, domain.TicketStatusOpen, got.Status)
		assert.Equal(t, []string{"alice"}, got.Participants)
		require.Len(t, got.Comments, 1)
		assert.NotZero(t, got.Comments[0].ID)
		assert.Equal(t, "hello", got.Comments[0].Text)
		assert.True(t, got.Comments[0].CreatedAt.Equal(baseTime))
		require.Len(t, got.Attachments, 1)
		assert.Equal(t, "weapon", *got.Attachments[0].ArgName)
		assert.Equal(t, []domain.ExternalLink{{Kind: "situation", ID: "9"}}, got.ExternalLinks)
		assert.True(t, got.LastViewed["alice"].Equal(baseTime))
		assert.True(t, got.CreatedAt.Equal(baseTime))
		assert.Nil(t, got.ArchiveRef)

		_, err = store.GetTicket(ctx, ticket.ID+100)
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})
}

func TestStoreUpdateAppendsComments(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		ticket := newTicket("REQ", "alice")
		require.NoError(t, store.CreateTicket(ctx, ticket))

		for i, text := range []string{"one", "two"} {
			updated, err := store.UpdateTicket(ctx, ticket.ID, func(t *domain.Ticket) (*domain.ArchivedTicket, error) {
				t.AppendComment("bob", text, false, baseTime.Add(time.Duration(i+1)*time.Minute))
				return nil, nil
			})
			require.NoError(t, err)
			require.Len(t, updated.Comments, i+1)
		}
		got, err := store.GetTicket(ctx, ticket.ID)
		require.NoError(t, err)
		require.Len(t, got.Comments, 2)
		assert.Equal(t, "one", got.Comments[0].Text)
		assert.Equal(t, "two", got.Comments[1].Text)
		assert.Less(t, got.Comments[0].ID, got.Comments[1].ID)
		assert.True(t, got.ActivityAt.Equal(baseTime.Add(2*time.Minute)))
	})
}

func TestStoreUpdateAbortsOnError(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		ticket := newTicket("REQ", "alice")
		require.NoError(t, store.CreateTicket(ctx, ticket))

		boom := errors.New("boom")
		_, err := store.UpdateTicket(ctx, ticket.ID, func(t *domain.Ticket) (*domain.ArchivedTicket, error) {
			t.Status = domain.TicketStatusClaimed
			t.AppendComment("bob", "never stored", false, baseTime)
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := store.GetTicket(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.TicketStatusOpen, got.Status)
		assert.Empty(t, got.Comments)

		_, err = store.UpdateTicket(ctx, ticket.ID+100, func(*domain.Ticket) (*domain.ArchivedTicket, error) { return nil, nil })
		assert.ErrorIs(t, err, ErrTicketNotFound)
	})
}

func TestStoreArchiveOnClose(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		ticket := newTicket("REQ", "alice")
		require.NoError(t, store.CreateTicket(ctx, ticket))

		closedAt := baseTime.Add(time.Hour)
		updated, err := store.UpdateTicket(ctx, ticket.ID, func(t *domain.Ticket) (*domain.ArchivedTicket, error) {
			if err := t.Transition(domain.TriggerClose, domain.TicketStatusCompleted, closedAt); err != nil {
				return nil, err
			}
			t.AppendComment("bob", "granted", false, closedAt)
			return domain.NewArchive(t, closedAt), nil
		})
		require.NoError(t, err)
		require.NotNil(t, updated.ArchiveRef)

		archive, err := store.GetArchiveByTicket(ctx, ticket.ID)
		require.NoError(t, err)
		assert.Equal(t, *updated.ArchiveRef, archive.ID)
		assert.Equal(t, ticket.ID, archive.OriginalID)
		assert.Equal(t, domain.TicketStatusCompleted, archive.Status)
		assert.Contains(t, archive.Comments, "bob:\ngranted")
		assert.True(t, archive.ClosedAt.Equal(closedAt))

		byID, err := store.GetArchive(ctx, archive.ID)
		require.NoError(t, err)
		assert.Equal(t, archive.OriginalID, byID.OriginalID)

		got, err := store.GetTicket(ctx, ticket.ID)
		require.NoError(t, err)
		require.NotNil(t, got.ArchiveRef)
		require.NotNil(t, got.ClosedAt)
		assert.True(t, got.ClosedAt.Equal(closedAt))

		_, err = store.UpdateTicket(ctx, ticket.ID, func(t *domain.Ticket) (*domain.ArchivedTicket, error) {
			return domain.NewArchive(t, closedAt), nil
		})
		assert.ErrorIs(t, err, ErrStatusConflict, "a ticket is archived at most once")

		_, err = store.GetArchive(ctx, archive.ID+100)
		assert.ErrorIs(t, err, ErrArchiveNotFound)
	})
}

func TestStoreConcurrentUpdatesSerialize(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		ticket := newTicket("REQ", "alice")
		require.NoError(t, store.CreateTicket(ctx, ticket))

		const writers = 6
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.UpdateTicket(ctx, ticket.ID, func(t *domain.Ticket) (*domain.ArchivedTicket, error) {
					if err := t.Transition(domain.TriggerClose, domain.TicketStatusClosed, baseTime); err != nil {
						return nil, err
					}
					return domain.NewArchive(t, baseTime), nil
				})
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			}
		}
		assert.Equal(t, 1, ok)
		_, err := store.GetArchiveByTicket(ctx, ticket.ID)
		require.NoError(t, err)
	})
}

func TestStoreReplacesSets(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		ticket := newTicket("REQ", "alice")
		ticket.Attach(domain.Attachment{ObjectRef: "SwordA"})
		ticket.Link(domain.ExternalLink{Kind: "situation", ID: "1"})
		require.NoError(t, store.CreateTicket(ctx, ticket))

		_, err := store.UpdateTicket(ctx, ticket.ID, func(t *domain.Ticket) (*domain.ArchivedTicket, error) {
			t.Detach("SwordA")
			t.Attach(domain.Attachment{ObjectRef: "ShieldB"})
			t.Unlink(domain.ExternalLink{Kind: "situation", ID: "1"})
			t.AddParticipant("bob")
			t.MarkViewed("bob", baseTime.Add(time.Minute))
			return nil, nil
		})
		require.NoError(t, err)

		got, err := store.GetTicket(ctx, ticket.ID)
		require.NoError(t, err)
		require.Len(t, got.Attachments, 1)
		assert.Equal(t, "ShieldB", got.Attachments[0].ObjectRef)
		assert.Nil(t, got.Attachments[0].ArgName)
		assert.Empty(t, got.ExternalLinks)
		assert.Equal(t, []string{"alice", "bob"}, got.Participants)
		assert.True(t, got.LastViewed["bob"].Equal(baseTime.Add(time.Minute)))
	})
}

func TestStoreListFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		a := newTicket("REQ", "alice")
		b := newTicket("Renown", "erin")
		c := newTicket("req", "erin")
		bob := "bob"
		c.Status = domain.TicketStatusClaimed
		c.Assignee = &bob
		c.AddParticipant("bob")
		b.Link(domain.ExternalLink{Kind: "situation", ID: "4"})
		for _, ticket := range []*domain.Ticket{a, b, c} {
			require.NoError(t, store.CreateTicket(ctx, ticket))
		}

		ids := func(filter TicketFilter) []int64 {
			list, err := store.ListTickets(ctx, filter)
			require.NoError(t, err)
			out := []int64{}
			for _, ticket := range list {
				out = append(out, ticket.ID)
			}
			return out
		}
		queue := "REQ"
		erin := "erin"
		assert.Equal(t, []int64{a.ID, c.ID}, ids(TicketFilter{Queue: &queue}))
		assert.Equal(t, []int64{c.ID}, ids(TicketFilter{Statuses: []domain.TicketStatus{domain.TicketStatusClaimed}}))
		assert.Equal(t, []int64{c.ID}, ids(TicketFilter{Participant: &bob}))
		assert.Equal(t, []int64{b.ID, c.ID}, ids(TicketFilter{Requester: &erin}))
		assert.Equal(t, []int64{c.ID}, ids(TicketFilter{Assignee: &bob}))
		assert.Equal(t, []int64{b.ID}, ids(TicketFilter{Link: &domain.ExternalLink{Kind: "situation", ID: "4"}}))
		assert.Equal(t, []int64{b.ID}, ids(TicketFilter{Limit: 1, Offset: 1}))
		assert.Equal(t, []int64{a.ID, b.ID, c.ID}, ids(TicketFilter{}))
	})
}

func TestStoreQueues(t *testing.T) {
	forEachStore(t, func(t *testing.T, store TicketStore) {
		ctx := context.Background()
		first, err := store.GetOrCreateQueue(ctx, "REQ")
		require.NoError(t, err)
		again, err := store.GetOrCreateQueue(ctx, "req")
		require.NoError(t, err)
		assert.Equal(t, first.Name, again.Name)
		assert.Nil(t, again.AutomaticAssignee)

		qm := "quartermaster"
		updated, err := store.SetQueueAssignee(ctx, "Req", &qm)
		require.NoError(t, err)
		require.NotNil(t, updated.AutomaticAssignee)
		assert.Equal(t, qm, *updated.AutomaticAssignee)

		_, err = store.SetQueueAssignee(ctx, "missing", &qm)
		assert.ErrorIs(t, err, ErrQueueNotFound)

		_, err = store.GetOrCreateQueue(ctx, "Plot")
		require.NoError(t, err)
		queues, err := store.ListQueues(ctx)
		require.NoError(t, err)
		require.Len(t, queues, 2)
		assert.Equal(t, "Plot", queues[0].Name)
		assert.Equal(t, "REQ", queues[1].Name)

		cleared, err := store.SetQueueAssignee(ctx, "REQ", nil)
		require.NoError(t, err)
		assert.Nil(t, cleared.AutomaticAssignee)
	})
}
