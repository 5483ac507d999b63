package audit

import (
	"context"
	"strings"
)

type ctxKey string

const requestMetaKey ctxKey = "audit_request_meta"

// RequestMeta carries the network origin of the request being served.
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// WithRequestMeta attaches request origin details to the context for audit records.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	meta.RequestID = strings.TrimSpace(meta.RequestID)
	meta.IPAddress = strings.TrimSpace(meta.IPAddress)
	meta.UserAgent = strings.TrimSpace(meta.UserAgent)
	if meta == (RequestMeta{}) {
		return ctx
	}
	return context.WithValue(ctx, requestMetaKey, meta)
}

// RequestMetaFromContext returns the request origin details if present.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if ctx == nil {
		return RequestMeta{}
	}
	if v, ok := ctx.Value(requestMetaKey).(RequestMeta); ok {
		return v
	}
	return RequestMeta{}
}
