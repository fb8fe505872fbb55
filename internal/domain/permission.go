package domain

// SubjectType differentiates service clients from player identities on tokens.
type SubjectType string

const (
	SubjectTypeIdentity SubjectType = "IDENTITY"
	SubjectTypeClient   SubjectType = "CLIENT"
)

// Action names an operation guarded by the host permission predicate.
type Action string

const (
	ActionCreate       Action = "create"
	ActionView         Action = "view"
	ActionComment      Action = "comment"
	ActionAssign       Action = "assign"
	ActionClaim        Action = "claim"
	ActionUnclaim      Action = "unclaim"
	ActionClose        Action = "close"
	ActionReopen       Action = "reopen"
	ActionAttach       Action = "attach"
	ActionLink         Action = "link"
	ActionParticipants Action = "participants"
	ActionAdminQueue   Action = "admin_queue"
)

// Permission is supplied by the host's role system. ticket may be nil for
// actions that are not scoped to an existing ticket.
type Permission func(actor string, ticket *Ticket, action Action) bool

// AllowAll grants every action.
func AllowAll(string, *Ticket, Action) bool { return true }
