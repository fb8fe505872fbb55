package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-engine/internal/config"
	"github.com/spec-kit/ticket-engine/internal/domain"
	"github.com/spec-kit/ticket-engine/internal/observability"
	"github.com/spec-kit/ticket-engine/internal/repository"
	apperrors "github.com/spec-kit/ticket-engine/pkg/util/errorutil"
)

// QueueRegistry resolves queue names. Reads are served from an immutable
// snapshot swapped on every write; writes are serialized.
type QueueRegistry struct {
	store    repository.TicketStore
	can      domain.Permission
	logger   *zap.Logger
	metrics  *observability.Metrics
	writeMu  sync.Mutex
	snapshot atomic.Pointer[map[string]domain.Queue]
}

// NewQueueRegistry builds a registry with an empty cache.
func NewQueueRegistry(store repository.TicketStore, can domain.Permission, logger *zap.Logger) *QueueRegistry {
	if can == nil {
		can = domain.AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &QueueRegistry{store: store, can: can, logger: logger}
	empty := map[string]domain.Queue{}
	r.snapshot.Store(&empty)
	return r
}

// WithMetrics records administrative operations in m.
func (r *QueueRegistry) WithMetrics(m *observability.Metrics) *QueueRegistry {
	r.metrics = m
	return r
}

// Load replaces the cache with the queues currently in the store.
func (r *QueueRegistry) Load(ctx context.Context) error {
	queues, err := r.store.ListQueues(ctx)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	next := make(map[string]domain.Queue, len(queues))
	for _, q := range queues {
		next[q.Key()] = q
	}
	r.writeMu.Lock()
	r.snapshot.Store(&next)
	r.writeMu.Unlock()
	return nil
}

// Seed creates the declared queues and applies their automatic assignees.
// Definitions without an assignee leave the stored value alone.
func (r *QueueRegistry) Seed(ctx context.Context, defs []config.QueueDefinition) error {
	for _, def := range defs {
		if _, err := r.GetOrCreateQueue(ctx, def.Name); err != nil {
			return err
		}
		if def.AutomaticAssignee == "" {
			continue
		}
		assignee := def.AutomaticAssignee
		if _, err := r.setAssignee(ctx, def.Name, &assignee); err != nil {
			return err
		}
		r.logger.Info("queue seeded",
			zap.String("queue", def.Name),
			zap.String("automatic_assignee", assignee),
		)
	}
	return nil
}

// GetOrCreateQueue returns the queue for name, creating it without an
// automatic assignee when absent. Lookup is case-insensitive.
func (r *QueueRegistry) GetOrCreateQueue(ctx context.Context, name string) (*domain.Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("queue name is required", nil)
	}
	key := domain.QueueKey(name)
	if q, ok := (*r.snapshot.Load())[key]; ok {
		return copyQueue(q), nil
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if q, ok := (*r.snapshot.Load())[key]; ok {
		return copyQueue(q), nil
	}
	queue, err := r.store.GetOrCreateQueue(ctx, name)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	r.publish(*queue)
	return copyQueue(*queue), nil
}

// SetAutomaticAssignee changes the queue's automatic assignee; nil clears it.
func (r *QueueRegistry) SetAutomaticAssignee(ctx context.Context, name string, assignee *string, actor string) (*domain.Queue, error) {
	queue, err := r.setAutomaticAssignee(ctx, name, assignee, actor)
	outcome := "ok"
	if err != nil {
		outcome = apperrors.Code(err)
	}
	r.metrics.RecordOperation(opSetQueueAssignee, outcome)
	return queue, err
}

func (r *QueueRegistry) setAutomaticAssignee(ctx context.Context, name string, assignee *string, actor string) (*domain.Queue, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("queue name is required", nil)
	}
	if assignee != nil {
		trimmed := strings.TrimSpace(*assignee)
		if trimmed == "" {
			assignee = nil
		} else {
			assignee = &trimmed
		}
	}
	if !r.can(actor, nil, domain.ActionAdminQueue) {
		return nil, apperrors.NewPermissionDenied("not allowed to administer queues", map[string]any{"queue": name})
	}
	queue, err := r.setAssignee(ctx, name, assignee)
	if err != nil {
		return nil, err
	}
	r.logger.Info("queue automatic assignee changed",
		zap.String("queue", queue.Name),
		zap.Stringp("automatic_assignee", queue.AutomaticAssignee),
		zap.String("actor", actor),
	)
	return queue, nil
}

func (r *QueueRegistry) setAssignee(ctx context.Context, name string, assignee *string) (*domain.Queue, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	queue, err := r.store.SetQueueAssignee(ctx, name, assignee)
	if err != nil {
		if errors.Is(err, repository.ErrQueueNotFound) {
			return nil, apperrors.NewNotFound("queue", map[string]any{"queue": name})
		}
		return nil, apperrors.NewInternalError(err)
	}
	r.publish(*queue)
	return copyQueue(*queue), nil
}

// ListQueues returns every known queue ordered by key.
func (r *QueueRegistry) ListQueues(ctx context.Context) ([]domain.Queue, error) {
	queues, err := r.store.ListQueues(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return queues, nil
}

// publish must be called with writeMu held.
func (r *QueueRegistry) publish(queue domain.Queue) {
	current := *r.snapshot.Load()
	next := make(map[string]domain.Queue, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[queue.Key()] = *copyQueue(queue)
	r.snapshot.Store(&next)
}

func copyQueue(q domain.Queue) *domain.Queue {
	if q.AutomaticAssignee != nil {
		value := *q.AutomaticAssignee
		q.AutomaticAssignee = &value
	}
	return &q
}
