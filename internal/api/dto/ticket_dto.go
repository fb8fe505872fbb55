package dto

import (
	"time"

	"github.com/spec-kit/ticket-engine/internal/domain"
)

// CreateTicketRequest payload. Requester defaults to the caller.
type CreateTicketRequest struct {
	Queue       string `json:"queue"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Requester   string `json:"requester"`
}

// CommentRequest payload.
type CommentRequest struct {
	Text string `json:"text"`
}

// AssignRequest payload.
type AssignRequest struct {
	Assignee string `json:"assignee"`
}

// CloseRequest payload.
type CloseRequest struct {
	Outcome domain.TicketStatus `json:"outcome"`
	Reason  string              `json:"reason"`
}

// AttachRequest payload.
type AttachRequest struct {
	ObjectRef string  `json:"object_ref"`
	ArgName   *string `json:"arg_name"`
}

// LinkRequest payload.
type LinkRequest struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// ParticipantRequest payload.
type ParticipantRequest struct {
	Identity string `json:"identity"`
}

// QueueAssigneeRequest payload; a null assignee clears it.
type QueueAssigneeRequest struct {
	Assignee *string `json:"assignee"`
}

// TokenRequest payload for POST /auth/token.
type TokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	ActAs        string `json:"act_as"`
}

// TokenResponse is returned by a successful token exchange.
type TokenResponse struct {
	AccessToken string             `json:"access_token"`
	TokenType   string             `json:"token_type"`
	ExpiresAt   time.Time          `json:"expires_at"`
	Actor       string             `json:"actor"`
	SubjectType domain.SubjectType `json:"subject_type"`
}

// TicketSummary is the list representation of a ticket.
type TicketSummary struct {
	ID           int64               `json:"id"`
	Title        string              `json:"title"`
	Status       domain.TicketStatus `json:"status"`
	Queue        string              `json:"queue"`
	Requester    string              `json:"requester"`
	Assignee     *string             `json:"assignee"`
	Unread       bool                `json:"unread"`
	ReopenedFrom *int64              `json:"reopened_from,omitempty"`
	ArchiveRef   *int64              `json:"archive_ref,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ActivityAt   time.Time           `json:"activity_at"`
	ClosedAt     *time.Time          `json:"closed_at,omitempty"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	TicketSummary
	Description   string               `json:"description"`
	Participants  []string             `json:"participants"`
	Comments      []CommentResponse    `json:"comments"`
	Attachments   []AttachmentResponse `json:"attachments"`
	ExternalLinks []LinkRequest        `json:"external_links"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// CommentResponse represents one thread entry.
type CommentResponse struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentResponse represents an attached object.
type AttachmentResponse struct {
	ObjectRef string  `json:"object_ref"`
	ArgName   *string `json:"arg_name"`
}

// ArchiveResponse represents an archived snapshot.
type ArchiveResponse struct {
	ID          int64               `json:"id"`
	OriginalID  int64               `json:"original_id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Requester   string              `json:"requester"`
	Assignee    *string             `json:"assignee"`
	Queue       string              `json:"queue"`
	Status      domain.TicketStatus `json:"status"`
	Comments    string              `json:"comments"`
	CreatedAt   time.Time           `json:"created_at"`
	ClosedAt    time.Time           `json:"closed_at"`
	ArchivedAt  time.Time           `json:"archived_at"`
}

// QueueResponse represents a queue.
type QueueResponse struct {
	Name              string    `json:"name"`
	AutomaticAssignee *string   `json:"automatic_assignee"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewTicketSummary converts a ticket for list output; unread is computed for viewer.
func NewTicketSummary(t *domain.Ticket, viewer string) TicketSummary {
	return TicketSummary{
		ID:           t.ID,
		Title:        t.Title,
		Status:       t.Status,
		Queue:        t.Queue,
		Requester:    t.Requester,
		Assignee:     t.Assignee,
		Unread:       t.IsUnread(viewer),
		ReopenedFrom: t.ReopenedFrom,
		ArchiveRef:   t.ArchiveRef,
		CreatedAt:    t.CreatedAt,
		ActivityAt:   t.ActivityAt,
		ClosedAt:     t.ClosedAt,
	}
}

// NewTicketDetail converts a ticket with its thread.
func NewTicketDetail(t *domain.Ticket, viewer string) TicketDetailResponse {
	comments := make([]CommentResponse, 0, len(t.Comments))
	for _, c := range t.Comments {
		comments = append(comments, CommentResponse{
			ID:        c.ID,
			Author:    c.Author,
			Text:      c.Text,
			System:    c.System,
			CreatedAt: c.CreatedAt,
		})
	}
	attachments := make([]AttachmentResponse, 0, len(t.Attachments))
	for _, a := range t.Attachments {
		attachments = append(attachments, AttachmentResponse{ObjectRef: a.ObjectRef, ArgName: a.ArgName})
	}
	links := make([]LinkRequest, 0, len(t.ExternalLinks))
	for _, l := range t.ExternalLinks {
		links = append(links, LinkRequest{Kind: l.Kind, ID: l.ID})
	}
	participants := append([]string{}, t.Participants...)
	return TicketDetailResponse{
		TicketSummary: NewTicketSummary(t, viewer),
		Description:   t.Description,
		Participants:  participants,
		Comments:      comments,
		Attachments:   attachments,
		ExternalLinks: links,
		UpdatedAt:     t.UpdatedAt,
	}
}

// NewArchiveResponse converts an archive snapshot.
func NewArchiveResponse(a *domain.ArchivedTicket) ArchiveResponse {
	return ArchiveResponse{
		ID:          a.ID,
		OriginalID:  a.OriginalID,
		Title:       a.Title,
		Description: a.Description,
		Requester:   a.Requester,
		Assignee:    a.Assignee,
		Queue:       a.Queue,
		Status:      a.Status,
		Comments:    a.Comments,
		CreatedAt:   a.CreatedAt,
		ClosedAt:    a.ClosedAt,
		ArchivedAt:  a.ArchivedAt,
	}
}

// NewQueueResponse converts a queue.
func NewQueueResponse(q domain.Queue) QueueResponse {
	return QueueResponse{Name: q.Name, AutomaticAssignee: q.AutomaticAssignee, CreatedAt: q.CreatedAt}
}
