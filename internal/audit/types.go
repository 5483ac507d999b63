package audit

import (
	"errors"
	"time"
)

// ErrInvalidFilter is returned when a query names an unknown action or actor type.
var ErrInvalidFilter = errors.New("audit: invalid filter")

// ActorType identifies which principal class performed an action.
type ActorType string

const (
	ActorAdmin  ActorType = "admin"
	ActorClient ActorType = "client"
)

// Valid reports whether t is a known actor type.
func (t ActorType) Valid() bool {
	return t == ActorAdmin || t == ActorClient
}

// Action is an entry of the closed audit vocabulary.
type Action string

const (
	ActionLogin                Action = "login"
	ActionLoginFailed          Action = "login_failed"
	ActionLogout               Action = "logout"
	ActionPasswordResetRequest Action = "password_reset_request"
	ActionPasswordReset        Action = "password_reset"
	ActionPasswordResetFailed  Action = "password_reset_failed"
	ActionPasswordChange       Action = "password_change"
	ActionRateLimited          Action = "rate_limited"
	ActionAccessDenied         Action = "access_denied"

	ActionClientInviteCreate Action = "client_invite_create"
	ActionClientInviteAccept Action = "client_invite_accept"
	ActionClientInviteFailed Action = "client_invite_accept_failed"
	ActionClientCreate       Action = "client_create"
	ActionClientEnable       Action = "client_enable"
	ActionClientDisable      Action = "client_disable"

	ActionAdminCreate Action = "admin_create"
	ActionAdminUpdate Action = "admin_update"

	ActionCompanyCreate       Action = "company_create"
	ActionCompanyUpdate       Action = "company_update"
	ActionCompanyStatusChange Action = "company_status_change"
	ActionCompanyDelete       Action = "company_delete"

	ActionDocumentUpload   Action = "document_upload"
	ActionDocumentDownload Action = "document_download"
	ActionDocumentDelete   Action = "document_delete"
	ActionUpdateCreate     Action = "update_create"
	ActionUpdateDelete     Action = "update_delete"
)

var vocabulary = map[Action]struct{}{
	ActionLogin: {}, ActionLoginFailed: {}, ActionLogout: {},
	ActionPasswordResetRequest: {}, ActionPasswordReset: {}, ActionPasswordResetFailed: {}, ActionPasswordChange: {},
	ActionRateLimited: {}, ActionAccessDenied: {},
	ActionClientInviteCreate: {}, ActionClientInviteAccept: {}, ActionClientInviteFailed: {}, ActionClientCreate: {},
	ActionClientEnable: {}, ActionClientDisable: {},
	ActionAdminCreate: {}, ActionAdminUpdate: {},
	ActionCompanyCreate: {}, ActionCompanyUpdate: {}, ActionCompanyStatusChange: {}, ActionCompanyDelete: {},
	ActionDocumentUpload: {}, ActionDocumentDownload: {}, ActionDocumentDelete: {},
	ActionUpdateCreate: {}, ActionUpdateDelete: {},
}

var securityActions = []Action{
	ActionLogin,
	ActionLoginFailed,
	ActionLogout,
	ActionPasswordResetRequest,
	ActionPasswordReset,
	ActionPasswordResetFailed,
	ActionPasswordChange,
	ActionRateLimited,
	ActionAccessDenied,
	ActionClientInviteAccept,
	ActionClientInviteFailed,
}

// Valid reports whether a belongs to the audit vocabulary.
func (a Action) Valid() bool {
	_, ok := vocabulary[a]
	return ok
}

// IsSecurity reports whether a is part of the authentication-related subset.
func (a Action) IsSecurity() bool {
	for _, s := range securityActions {
		if s == a {
			return true
		}
	}
	return false
}

// SecurityActions returns the authentication-related subset of the vocabulary.
func SecurityActions() []Action {
	out := make([]Action, len(securityActions))
	copy(out, securityActions)
	return out
}

// Event is an immutable audit record.
type Event struct {
	ID           string         `json:"id"`
	ActorID      *string        `json:"actor_id"`
	ActorType    ActorType      `json:"actor_type"`
	CompanyID    *string        `json:"company_id"`
	Action       Action         `json:"action"`
	ResourceType *string        `json:"resource_type"`
	ResourceID   *string        `json:"resource_id"`
	Details      map[string]any `json:"details,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter narrows an audit query. Zero values mean "any".
type Filter struct {
	CompanyID    string
	ActorID      string
	ActorType    ActorType
	Actions      []Action
	ResourceType string
	Since        time.Time
	Until        time.Time
	Limit        int
	Offset       int
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Normalize clamps pagination to sane bounds.
func (f Filter) Normalize() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Page is one slice of a reverse-chronological result set.
type Page struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// OriginSummary describes an actor seen from several network addresses.
type OriginSummary struct {
	ActorID           string    `json:"actor_id"`
	ActorType         ActorType `json:"actor_type"`
	Addresses         []string  `json:"addresses"`
	DistinctAddresses int       `json:"distinct_addresses"`
	LastSeen          time.Time `json:"last_seen"`
}

// String returns a pointer to s, or nil when s is empty.
func String(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
