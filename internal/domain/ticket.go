package domain

import (
	"slices"
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen      TicketStatus = "open"
	TicketStatusClaimed   TicketStatus = "claimed"
	TicketStatusRejected  TicketStatus = "rejected"
	TicketStatusCompleted TicketStatus = "completed"
	TicketStatusCancelled TicketStatus = "cancelled"
	TicketStatusClosed    TicketStatus = "closed"
)

// IsTerminal reports whether the status ends the ticket lifecycle.
func (s TicketStatus) IsTerminal() bool {
	switch s {
	case TicketStatusRejected, TicketStatusCompleted, TicketStatusCancelled, TicketStatusClosed:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	return s == TicketStatusOpen || s == TicketStatusClaimed || s.IsTerminal()
}

// Attachment references an external game object, optionally bound to a template slot.
type Attachment struct {
	ObjectRef string
	ArgName   *string
}

// ExternalLink is a cross-reference to another workflow-aware entity.
type ExternalLink struct {
	Kind string
	ID   string
}

// Ticket is the aggregate for staff-facing requests.
type Ticket struct {
	ID            int64
	Title         string
	Description   string
	Status        TicketStatus
	Queue         string
	Requester     string
	Assignee      *string
	Participants  []string
	Comments      []Comment
	Attachments   []Attachment
	ExternalLinks []ExternalLink
	LastViewed    map[string]time.Time
	ReopenedFrom  *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// ActivityAt moves on comments, status changes and assignment changes only.
	ActivityAt time.Time
	ClosedAt   *time.Time
	ArchiveRef *int64
}

// IsTerminal reports whether the ticket has reached a terminal status.
func (t *Ticket) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// IsAssignee reports whether identity currently holds the ticket.
func (t *Ticket) IsAssignee(identity string) bool {
	return t.Assignee != nil && *t.Assignee == identity
}

// HasParticipant reports whether identity takes part in the ticket.
func (t *Ticket) HasParticipant(identity string) bool {
	return slices.Contains(t.Participants, identity)
}

// AddParticipant inserts identity into the participant set. It reports whether the set changed.
func (t *Ticket) AddParticipant(identity string) bool {
	if identity == "" || t.HasParticipant(identity) {
		return false
	}
	t.Participants = append(t.Participants, identity)
	slices.Sort(t.Participants)
	return true
}

// RemoveParticipant drops identity from the participant set. The requester is never removed.
func (t *Ticket) RemoveParticipant(identity string) bool {
	if identity == t.Requester {
		return false
	}
	idx := slices.Index(t.Participants, identity)
	if idx < 0 {
		return false
	}
	t.Participants = slices.Delete(t.Participants, idx, idx+1)
	return true
}

// Attach adds the attachment unless an identical entry exists.
func (t *Ticket) Attach(att Attachment) bool {
	for _, existing := range t.Attachments {
		if existing.ObjectRef == att.ObjectRef && sameArg(existing.ArgName, att.ArgName) {
			return false
		}
	}
	t.Attachments = append(t.Attachments, att)
	return true
}

// Detach removes every attachment for objectRef and reports whether any existed.
func (t *Ticket) Detach(objectRef string) bool {
	before := len(t.Attachments)
	t.Attachments = slices.DeleteFunc(t.Attachments, func(a Attachment) bool {
		return a.ObjectRef == objectRef
	})
	return len(t.Attachments) != before
}

// Link adds an external link; adding a present link is a no-op.
func (t *Ticket) Link(link ExternalLink) bool {
	if slices.Contains(t.ExternalLinks, link) {
		return false
	}
	t.ExternalLinks = append(t.ExternalLinks, link)
	return true
}

// Unlink removes an external link; removing an absent link is a no-op.
func (t *Ticket) Unlink(link ExternalLink) bool {
	idx := slices.Index(t.ExternalLinks, link)
	if idx < 0 {
		return false
	}
	t.ExternalLinks = slices.Delete(t.ExternalLinks, idx, idx+1)
	return true
}

// AppendComment adds a comment to the end of the thread.
func (t *Ticket) AppendComment(author, text string, system bool, at time.Time) {
	t.Comments = append(t.Comments, Comment{
		Author:    author,
		Text:      text,
		System:    system,
		CreatedAt: at,
	})
	t.touchActivity(at)
}

// MarkViewed records that identity has seen the ticket at the given time.
func (t *Ticket) MarkViewed(identity string, at time.Time) {
	if t.LastViewed == nil {
		t.LastViewed = make(map[string]time.Time)
	}
	t.LastViewed[identity] = at
}

// IsUnread reports whether identity has not seen the latest activity.
func (t *Ticket) IsUnread(identity string) bool {
	seen, ok := t.LastViewed[identity]
	if !ok {
		return true
	}
	return seen.Before(t.ActivityAt)
}

// Recipients returns the participants plus the assignee, minus the excluded identities.
func (t *Ticket) Recipients(exclude ...string) []string {
	set := slices.Clone(t.Participants)
	if t.Assignee != nil && !slices.Contains(set, *t.Assignee) {
		set = append(set, *t.Assignee)
	}
	set = slices.DeleteFunc(set, func(id string) bool {
		return slices.Contains(exclude, id)
	})
	slices.Sort(set)
	return set
}

// Clone returns a deep copy safe to mutate independently.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Assignee = clonePtr(t.Assignee)
	c.ReopenedFrom = clonePtr(t.ReopenedFrom)
	c.ClosedAt = clonePtr(t.ClosedAt)
	c.ArchiveRef = clonePtr(t.ArchiveRef)
	c.Participants = slices.Clone(t.Participants)
	c.Comments = slices.Clone(t.Comments)
	c.ExternalLinks = slices.Clone(t.ExternalLinks)
	c.Attachments = make([]Attachment, len(t.Attachments))
	for i, att := range t.Attachments {
		c.Attachments[i] = Attachment{ObjectRef: att.ObjectRef, ArgName: clonePtr(att.ArgName)}
	}
	if t.LastViewed != nil {
		c.LastViewed = make(map[string]time.Time, len(t.LastViewed))
		for k, v := range t.LastViewed {
			c.LastViewed[k] = v
		}
	}
	return &c
}

func (t *Ticket) touchActivity(at time.Time) {
	if at.After(t.ActivityAt) {
		t.ActivityAt = at
	}
}

// QueueKey normalizes a queue name for case-insensitive lookups.
func QueueKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func sameArg(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
