// Package notify delivers invite and password-reset links to their recipients.
// Delivery itself is an external concern; this package defines the boundary.
package notify

import (
	"context"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"clientportal.io/internal/obs"
)

// InviteNotice asks for an invite link to be sent to a prospective client.
type InviteNotice struct {
	Email       string
	CompanyName string
	URL         string
	ExpiresAt   time.Time
}

// ResetNotice asks for a password-reset link to be sent to an account holder.
type ResetNotice struct {
	Email         string
	PrincipalType string
	URL           string
	ExpiresAt     time.Time
}

// Notifier sends one-time links. Implementations must not log the plaintext link
// unless explicitly configured to.
type Notifier interface {
	SendInvite(ctx context.Context, n InviteNotice) error
	SendPasswordReset(ctx context.Context, n ResetNotice) error
}

type nop struct{}

func (nop) SendInvite(context.Context, InviteNotice) error       { return nil }
func (nop) SendPasswordReset(context.Context, ResetNotice) error { return nil }

// Nop drops every notice.
var Nop Notifier = nop{}

// LogNotifier writes notices to the process log with the secret removed.
// Intended for development where no mail relay is configured.
type LogNotifier struct {
	log       *logrus.Logger
	plaintext bool
}

// LogOption configures a LogNotifier.
type LogOption func(*LogNotifier)

// WithPlaintextLinks logs links with their secret intact so a developer can
// follow them. Never enable it where the log leaves the machine.
func WithPlaintextLinks() LogOption {
	return func(n *LogNotifier) { n.plaintext = true }
}

// NewLogNotifier returns a notifier that logs through l, or the shared logger when nil.
func NewLogNotifier(l *logrus.Logger, opts ...LogOption) *LogNotifier {
	if l == nil {
		l = obs.Logger()
	}
	n := &LogNotifier{log: l}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *LogNotifier) link(raw string) string {
	if n.plaintext {
		return raw
	}
	return Redact(raw)
}

func (n *LogNotifier) SendInvite(_ context.Context, notice InviteNotice) error {
	n.log.WithFields(logrus.Fields{
		"type":       "notify",
		"kind":       "invite",
		"recipient":  notice.Email,
		"company":    notice.CompanyName,
		"url":        n.link(notice.URL),
		"expires_at": notice.ExpiresAt.UTC().Format(time.RFC3339),
	}).Info("invite notice")
	return nil
}

func (n *LogNotifier) SendPasswordReset(_ context.Context, notice ResetNotice) error {
	n.log.WithFields(logrus.Fields{
		"type":           "notify",
		"kind":           "password_reset",
		"recipient":      notice.Email,
		"principal_type": notice.PrincipalType,
		"url":            n.link(notice.URL),
		"expires_at":     notice.ExpiresAt.UTC().Format(time.RFC3339),
	}).Info("password reset notice")
	return nil
}

// Redact replaces the token query parameter of a link.
func Redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "[unparseable]"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
