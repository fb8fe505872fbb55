package repository

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// MemoryStore keeps everything in process memory. Updates to one ticket are
// serialized by a per-ticket mutex; different tickets proceed in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	tickets  map[int64]*domain.Ticket
	archives map[int64]*domain.ArchivedTicket
	byTicket map[int64]int64
	queues   map[string]*domain.Queue
	locks    map[int64]*sync.Mutex
	nextID   int64
	nextArch int64
	nextCmt  int64
	now      func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[int64]*domain.Ticket),
		archives: make(map[int64]*domain.ArchivedTicket),
		byTicket: make(map[int64]int64),
		queues:   make(map[string]*domain.Queue),
		locks:    make(map[int64]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateTicket(ctx context.Context, ticket *domain.Ticket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ticket.ID = s.nextID
	s.assignCommentIDs(ticket)
	s.tickets[ticket.ID] = ticket.Clone()
	s.locks[ticket.ID] = &sync.Mutex{}
	return nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, id int64) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return ticket.Clone(), nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]int64, 0, len(s.tickets))
	for id, ticket := range s.tickets {
		if matchesFilter(ticket, filter) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	limit, offset := normalizeLimit(filter)
	result := []domain.Ticket{}
	for i := offset; i < len(ids) && len(result) < limit; i++ {
		result = append(result, *s.tickets[ids[i]].Clone())
	}
	s.mu.RUnlock()
	return result, nil
}

func (s *MemoryStore) UpdateTicket(ctx context.Context, id int64, fn MutateFunc) (*domain.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	lock, ok := s.locks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTicketNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	working := s.tickets[id].Clone()
	s.mu.RUnlock()
	prevStatus := working.Status

	archive, err := fn(working)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickets[id].Status != prevStatus {
		return nil, ErrStatusConflict
	}
	if archive != nil {
		if _, exists := s.byTicket[id]; exists {
			return nil, ErrStatusConflict
		}
		s.nextArch++
		archive.ID = s.nextArch
		archive.OriginalID = id
		stored := *archive
		s.archives[archive.ID] = &stored
		s.byTicket[id] = archive.ID
		ref := archive.ID
		working.ArchiveRef = &ref
	}
	s.assignCommentIDs(working)
	s.tickets[id] = working.Clone()
	return working, nil
}

func (s *MemoryStore) GetArchive(ctx context.Context, id int64) (*domain.ArchivedTicket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	archive, ok := s.archives[id]
	if !ok {
		return nil, ErrArchiveNotFound
	}
	copied := *archive
	return &copied, nil
}

func (s *MemoryStore) GetArchiveByTicket(ctx context.Context, ticketID int64) (*domain.ArchivedTicket, error) {
	s.mu.RLock()
	id, ok := s.byTicket[ticketID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrArchiveNotFound
	}
	return s.GetArchive(ctx, id)
}

func (s *MemoryStore) GetOrCreateQueue(ctx context.Context, name string) (*domain.Queue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := domain.QueueKey(name)
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queues[key]
	if !ok {
		queue = &domain.Queue{Name: name, CreatedAt: s.now()}
		s.queues[key] = queue
	}
	return copyQueue(queue), nil
}

func (s *MemoryStore) SetQueueAssignee(ctx context.Context, name string, assignee *string) (*domain.Queue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queues[domain.QueueKey(name)]
	if !ok {
		return nil, ErrQueueNotFound
	}
	if assignee == nil {
		queue.AutomaticAssignee = nil
	} else {
		value := *assignee
		queue.AutomaticAssignee = &value
	}
	return copyQueue(queue), nil
}

func (s *MemoryStore) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.Queue, 0, len(s.queues))
	for _, queue := range s.queues {
		result = append(result, *copyQueue(queue))
	}
	slices.SortFunc(result, func(a, b domain.Queue) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return result, nil
}

// assignCommentIDs must be called with s.mu held for writing.
func (s *MemoryStore) assignCommentIDs(ticket *domain.Ticket) {
	for i := range ticket.Comments {
		if ticket.Comments[i].ID == 0 {
			s.nextCmt++
			ticket.Comments[i].ID = s.nextCmt
		}
	}
}

func matchesFilter(ticket *domain.Ticket, filter TicketFilter) bool {
	if filter.Queue != nil && domain.QueueKey(*filter.Queue) != domain.QueueKey(ticket.Queue) {
		return false
	}
	if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, ticket.Status) {
		return false
	}
	if filter.Participant != nil && !ticket.HasParticipant(*filter.Participant) {
		return false
	}
	if filter.Requester != nil && ticket.Requester != *filter.Requester {
		return false
	}
	if filter.Assignee != nil && !ticket.IsAssignee(*filter.Assignee) {
		return false
	}
	if filter.Link != nil && !slices.Contains(ticket.ExternalLinks, *filter.Link) {
		return false
	}
	return true
}

func copyQueue(q *domain.Queue) *domain.Queue {
	copied := *q
	if q.AutomaticAssignee != nil {
		value := *q.AutomaticAssignee
		copied.AutomaticAssignee = &value
	}
	return &copied
}
