package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// View maps and participant lists are stored as JSON documents in both SQL stores.

func encodeViews(views map[string]time.Time) ([]byte, error) {
	if views == nil {
		views = map[string]time.Time{}
	}
	raw, err := json.Marshal(views)
	if err != nil {
		return nil, fmt.Errorf("encode last viewed: %w", err)
	}
	return raw, nil
}

func decodeViews(raw []byte) (map[string]time.Time, error) {
	views := map[string]time.Time{}
	if len(raw) == 0 {
		return views, nil
	}
	if err := json.Unmarshal(raw, &views); err != nil {
		return nil, fmt.Errorf("decode last viewed: %w", err)
	}
	for k, v := range views {
		views[k] = v.UTC()
	}
	return views, nil
}

func encodeStrings(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode string list: %w", err)
	}
	return raw, nil
}

func decodeStrings(raw []byte) ([]string, error) {
	values := []string{}
	if len(raw) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return values, nil
}

// normalizeTimes converts driver-returned timestamps to UTC.
func normalizeTimes(t *domain.Ticket) {
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.ActivityAt = t.ActivityAt.UTC()
	if t.ClosedAt != nil {
		closed := t.ClosedAt.UTC()
		t.ClosedAt = &closed
	}
	for i := range t.Comments {
		t.Comments[i].CreatedAt = t.Comments[i].CreatedAt.UTC()
	}
}

func normalizeArchiveTimes(a *domain.ArchivedTicket) {
	a.CreatedAt = a.CreatedAt.UTC()
	a.ClosedAt = a.ClosedAt.UTC()
	a.ArchivedAt = a.ArchivedAt.UTC()
}
