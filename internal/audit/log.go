// Package audit carries request-scoped metadata and emits security events.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/obs"
)

// Request describes the inbound call a mutation belongs to.
type Request struct {
	TxID   string
	Method string
	Path   string
	Start  time.Time
}

type requestKey struct{}

// WithRequest attaches request metadata to the context.
func WithRequest(ctx context.Context, req Request) context.Context {
	req.TxID = strings.TrimSpace(req.TxID)
	return context.WithValue(ctx, requestKey{}, req)
}

// RequestFromContext returns the request metadata bound to ctx.
func RequestFromContext(ctx context.Context) (Request, bool) {
	if ctx == nil {
		return Request{}, false
	}
	req, ok := ctx.Value(requestKey{}).(Request)
	return req, ok
}

// TxID returns the transaction id bound to ctx, or "".
func TxID(ctx context.Context) string {
	req, _ := RequestFromContext(ctx)
	return req.TxID
}

// LogEvent writes a security event enriched with request and principal context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	e := obs.Logger().Info().Str("type", "audit").Str("event", event)
	if txID := TxID(ctx); txID != "" {
		e = e.Str("tx_id", txID)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		e = e.Int64("user_id", p.ID).Str("role", p.Role)
	}
	if len(fields) > 0 {
		e = e.Fields(fields)
	}
	e.Msg("audit event")
	return nil
}
