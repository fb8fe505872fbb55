package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/repository"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

func TestNeedSwordScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket := f.create(t, "REQ", "Need sword", "alice")
	claimed, err := f.svc.Claim(ctx, ticket.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusClaimed, claimed.Status)
	require.NotNil(t, claimed.Assignee)
	assert.Equal(t, "bob", *claimed.Assignee)

	closed, err := f.svc.Close(ctx, ticket.ID, "bob", domain.TicketStatusCompleted, "granted")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusCompleted, closed.Status)
	require.NotNil(t, closed.ClosedAt)
	require.NotNil(t, closed.ArchiveRef)

	archive, err := f.store.GetArchiveByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, archive.OriginalID)
	assert.Equal(t, *closed.ArchiveRef, archive.ID)
	assert.Equal(t, domain.TicketStatusCompleted, archive.Status)
	assert.Equal(t, "alice", archive.Requester)
	assert.Equal(t, "REQ", archive.Queue)
	assert.Equal(t, *closed.ClosedAt, archive.ClosedAt)
	assert.Contains(t, archive.Comments, "bob:\ngranted")

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusCompleted, stored.Status, "terminal tickets stay queryable")
	assert.Equal(t, "granted", stored.Comments[len(stored.Comments)-1].Text)
}

func TestArchiveRefIffTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	open := f.create(t, "REQ", "open", "alice")
	claimed := f.create(t, "REQ", "claimed", "alice")
	_, err := f.svc.Claim(ctx, claimed.ID, "bob")
	require.NoError(t, err)
	for i, outcome := range domain.TerminalStatuses {
		ticket := f.create(t, "REQ", string(outcome), "alice")
		if i%2 == 0 {
			_, err := f.svc.Claim(ctx, ticket.ID, "bob")
			require.NoError(t, err)
		}
		_, err := f.svc.Close(ctx, ticket.ID, "carol", outcome, "")
		require.NoError(t, err)
	}
	_, err = f.svc.Reopen(ctx, 3, "bob")
	require.NoError(t, err)

	all, err := f.svc.ListTickets(ctx, "bob", TicketListFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, all, 7)
	for _, ticket := range all {
		assert.Equal(t, ticket.IsTerminal(), ticket.ArchiveRef != nil, "ticket #%d status %s", ticket.ID, ticket.Status)
		assert.Equal(t, ticket.IsTerminal(), ticket.ClosedAt != nil, "ticket #%d status %s", ticket.ID, ticket.Status)
		assert.True(t, ticket.HasParticipant(ticket.Requester))
	}
	assert.Nil(t, f.reload(t, open.ID).ArchiveRef)
}

func TestCloseRejectsNonTerminalOutcome(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, "REQ", "Need sword", "alice")
	_, err := f.svc.Close(context.Background(), ticket.ID, "bob", domain.TicketStatusClaimed, "")
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Equal(t, domain.TicketStatusOpen, f.reload(t, ticket.ID).Status)
}

func TestCloseTwiceIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "REQ", "Need sword", "alice")
	first, err := f.svc.Close(ctx, ticket.ID, "bob", domain.TicketStatusRejected, "no stock")
	require.NoError(t, err)

	_, err = f.svc.Close(ctx, ticket.ID, "bob", domain.TicketStatusCompleted, "changed my mind")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusRejected, stored.Status)
	assert.Equal(t, first.ClosedAt, stored.ClosedAt, "closed_at is set once")
	assert.Len(t, stored.Comments, 1)
}

func TestCloseRequiresPermission(t *testing.T) {
	f := newFixture(t)
	ticket := f.create(t, "REQ", "Need sword", "alice")
	_, err := f.svc.Close(context.Background(), ticket.ID, "alice", domain.TicketStatusCancelled, "nevermind")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusOpen, stored.Status)
	assert.Empty(t, stored.Comments)
	_, err = f.store.GetArchiveByTicket(context.Background(), ticket.ID)
	assert.ErrorIs(t, err, repository.ErrArchiveNotFound)
}

func TestConcurrentCloseArchivesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "REQ", "Need sword", "alice")

	const callers = 8
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Close(ctx, ticket.ID, "bob", domain.TicketStatusCompleted, "")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		assert.True(t,
			errors.Is(err, apperrors.ErrInvalidTransition) || errors.Is(err, apperrors.ErrArchiveConflict),
			"unexpected error %v", err)
	}
	assert.Equal(t, 1, successes)

	archive, err := f.store.GetArchiveByTicket(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), archive.ID)
	_, err = f.store.GetArchive(ctx, 2)
	assert.ErrorIs(t, err, repository.ErrArchiveNotFound)
}

func TestReopenSpawnsNewTicket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		f.create(t, "REQ", "Need sword", "alice")
	}
	_, err := f.svc.Claim(ctx, 7, "bob")
	require.NoError(t, err)
	_, err = f.svc.AddComment(ctx, 7, "alice", "please hurry")
	require.NoError(t, err)
	_, err = f.svc.Close(ctx, 7, "bob", domain.TicketStatusCompleted, "granted")
	require.NoError(t, err)
	archiveBefore, err := f.store.GetArchiveByTicket(ctx, 7)
	require.NoError(t, err)

	reopened, err := f.svc.Reopen(ctx, 7, "carol")
	require.NoError(t, err)
	assert.NotEqual(t, int64(7), reopened.ID)
	assert.Equal(t, domain.TicketStatusOpen, reopened.Status)
	assert.Equal(t, "Need sword", reopened.Title)
	assert.Equal(t, "alice", reopened.Requester)
	require.NotNil(t, reopened.Assignee)
	assert.Equal(t, "bob", *reopened.Assignee)
	require.NotNil(t, reopened.ReopenedFrom)
	assert.Equal(t, int64(7), *reopened.ReopenedFrom)
	assert.Nil(t, reopened.ArchiveRef)
	assert.Nil(t, reopened.ClosedAt)

	require.Len(t, reopened.Comments, 2)
	assert.True(t, reopened.Comments[0].System)
	assert.Equal(t, "reopened by carol (previous ticket #7)", reopened.Comments[0].Text)
	assert.True(t, strings.HasPrefix(reopened.Comments[1].Text, domain.PreviousCommentsDivider+"\n"))
	assert.Contains(t, reopened.Comments[1].Text, "please hurry")

	archiveAfter, err := f.store.GetArchive(ctx, archiveBefore.ID)
	require.NoError(t, err)
	assert.Equal(t, archiveBefore, archiveAfter, "archive is untouched")
	assert.Equal(t, domain.TicketStatusCompleted, f.reload(t, 7).Status)

	recipients := f.sink.Recipients()
	assert.Subset(t, recipients, []string{"alice", "bob"})
}

func TestReopenArchiveByRef(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "REQ", "Need sword", "alice")
	closed, err := f.svc.Close(ctx, ticket.ID, "bob", domain.TicketStatusCancelled, "")
	require.NoError(t, err)

	reopened, err := f.svc.ReopenArchive(ctx, *closed.ArchiveRef, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, ticket.ID, reopened.ID)
	assert.Nil(t, reopened.Assignee)
	require.Len(t, reopened.Comments, 1, "no previous comments block without history")
	assert.Contains(t, reopened.Comments[0].Text, "previous ticket #1")

	again, err := f.svc.Reopen(ctx, reopened.ID, "bob")
	assert.Nil(t, again)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = f.svc.ReopenArchive(ctx, 99, "bob")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.svc.Reopen(ctx, ticket.ID, "alice")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestTerminalTicketIsReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "REQ", "Need sword", "alice")
	_, err := f.svc.Close(ctx, ticket.ID, "bob", domain.TicketStatusClosed, "")
	require.NoError(t, err)

	_, err = f.svc.AddComment(ctx, ticket.ID, "bob", "late note")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = f.svc.Claim(ctx, ticket.ID, "bob")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = f.svc.Assign(ctx, ticket.ID, "carol", "bob")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = f.svc.Attach(ctx, ticket.ID, "SwordA", nil, "bob")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = f.svc.LinkExternal(ctx, ticket.ID, "situation", "1", "bob")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	_, err = f.svc.AddParticipant(ctx, ticket.ID, "dave", "bob")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	viewed, err := f.svc.MarkViewed(ctx, ticket.ID, "alice")
	require.NoError(t, err)
	assert.False(t, viewed.IsUnread("alice"))
	assert.Empty(t, viewed.Comments)
}

func TestGetArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket := f.create(t, "REQ", "Need sword", "alice")
	closed, err := f.svc.Close(ctx, ticket.ID, "bob", domain.TicketStatusCompleted, "")
	require.NoError(t, err)

	archive, err := f.svc.GetArchive(ctx, *closed.ArchiveRef, "alice")
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, archive.OriginalID)

	_, err = f.svc.GetArchive(ctx, *closed.ArchiveRef, "mallory")
	assert.ErrorIs(t, err, apperrors.ErrPermissionDenied)
}

func TestStoreStatusConflictMapsToArchiveConflict(t *testing.T) {
	f := newFixture(t)
	err := f.svc.mapStoreError(repository.ErrStatusConflict, opClose, 3)
	assert.ErrorIs(t, err, apperrors.ErrArchiveConflict)

	err = f.svc.mapStoreError(repository.ErrStatusConflict, opClaim, 3)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	err = f.svc.mapStoreError(errors.New("disk on fire"), opClaim, 3)
	assert.Equal(t, apperrors.CodeInternal, apperrors.Code(err))
}
