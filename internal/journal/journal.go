// Package journal records and serves the append-only audit trail of mutating calls.
package journal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"switchboard.dev/internal/apperr"
	"switchboard.dev/internal/audit"
	"switchboard.dev/internal/auth"
	"switchboard.dev/internal/obs"
	"switchboard.dev/internal/paging"
	"switchboard.dev/internal/permission"
)

// Operation is the kind of mutation an entry records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// FormatJSON is the only content format written today.
const FormatJSON = "json"

// Entry is one immutable journal row.
type Entry struct {
	ID            int64     `json:"id"`
	ResellerID    *int64    `json:"reseller_id"`
	RoleID        int64     `json:"role_id"`
	Role          string    `json:"role"`
	UserID        int64     `json:"user_id"`
	TxID          string    `json:"tx_id"`
	Content       *string   `json:"content"`
	ContentFormat string    `json:"content_format"`
	Operation     Operation `json:"operation"`
	ResourceID    int64     `json:"resource_id"`
	ResourceName  string    `json:"resource_name"`
	Timestamp     float64   `json:"timestamp"`
	Username      string    `json:"username"`
}

// Query selects journal rows.
type Query struct {
	ResourceName string
	ResourceID   *int64
	Page         paging.Page
}

// Store persists journal rows. Implementations never update or delete rows.
type Store interface {
	AppendJournal(ctx context.Context, e Entry) (int64, error)
	ListJournal(ctx context.Context, q Query, f permission.Filter) ([]Entry, int, error)
}

// Publisher fans written entries out to other systems.
type Publisher interface {
	Publish(ctx context.Context, key string, value any) error
}

// Service writes and reads journal entries.
type Service struct {
	store      Store
	prefix     string
	publishers []Publisher
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures Service.
type Option func(*Service)

// WithAPIPrefix sets the path prefix stripped before deriving resource names.
func WithAPIPrefix(prefix string) Option {
	return func(s *Service) {
		s.prefix = strings.TrimRight(prefix, "/")
	}
}

// WithPublisher fans entries out after they are stored. It may be given
// more than once.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithClock overrides the time source used when a request carries no start time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// New constructs a Service on top of store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		now:   time.Now,
		log:   *obs.Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OperationFor maps an HTTP method onto a journal operation.
func OperationFor(method string) (Operation, bool) {
	switch strings.ToUpper(method) {
	case http.MethodPost:
		return OpCreate, true
	case http.MethodPut, http.MethodPatch:
		return OpUpdate, true
	case http.MethodDelete:
		return OpDelete, true
	default:
		return "", false
	}
}

// ResourceName derives the resource name from a request path.
func ResourceName(path, prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix != "" && strings.HasPrefix(path, prefix+"/") {
		path = path[len(prefix):]
	}
	path = strings.Trim(path, "/")
	name, _, _ := strings.Cut(path, "/")
	return name
}

// Write records the mutation of resourceID described by the request bound to
// ctx. It reports false without error when the request method is not a
// mutating one. A storage failure is returned: callers must not report the
// mutation as done.
func (s *Service) Write(ctx context.Context, resourceID int64, payload any) (bool, error) {
	req, ok := audit.RequestFromContext(ctx)
	if !ok {
		return false, apperr.Internal(apperr.CodeJournalWriteFailed, fmt.Errorf("journal: no request bound to context"))
	}
	op, ok := OperationFor(req.Method)
	if !ok {
		return false, nil
	}
	content, err := Content(payload)
	if err != nil {
		return false, apperr.Internal(apperr.CodeJournalWriteFailed, err)
	}
	start := req.Start
	if start.IsZero() {
		start = s.now()
	}
	entry := Entry{
		TxID:          txID(ctx, req),
		Content:       &content,
		ContentFormat: FormatJSON,
		Operation:     op,
		ResourceID:    resourceID,
		ResourceName:  ResourceName(req.Path, s.prefix),
		Timestamp:     float64(start.UnixMilli()) / 1000,
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry.ResellerID = p.Reseller()
		entry.UserID = p.ID
		entry.Username = p.Login
		entry.Role = p.Role
		if role, ok := permission.RoleByName(p.Role); ok {
			entry.RoleID = role.ID
		}
	}

	id, err := s.store.AppendJournal(ctx, entry)
	if err != nil {
		obs.ObserveJournalFailure(entry.ResourceName)
		return false, apperr.Internal(apperr.CodeJournalWriteFailed, err)
	}
	entry.ID = id
	obs.ObserveJournal(entry.ResourceName, string(op))

	if len(s.publishers) > 0 {
		publish := func(ctx context.Context) { s.publish(ctx, entry) }
		if ob, ok := ctx.Value(outboxKey{}).(*Outbox); ok {
			ob.add(publish)
		} else {
			publish(ctx)
		}
	}
	return true, nil
}

func (s *Service) publish(ctx context.Context, entry Entry) {
	key := fmt.Sprintf("%s:%d", entry.ResourceName, entry.ResourceID)
	for _, p := range s.publishers {
		if err := p.Publish(ctx, key, entry); err != nil {
			s.log.Warn().Err(err).Str("tx_id", entry.TxID).Str("key", key).Msg("journal publish failed")
		}
	}
}

// List returns journal rows visible to f. Content of rows written under a
// role f cannot administer is withheld.
func (s *Service) List(ctx context.Context, q Query, f permission.Filter) ([]Entry, int, error) {
	q.Page = q.Page.Normalize()
	entries, total, err := s.store.ListJournal(ctx, q, f)
	if err != nil {
		return nil, 0, err
	}
	return Redact(entries, f), total, nil
}

// Redact clears the content of entries whose role is outside f's access set.
func Redact(entries []Entry, f permission.Filter) []Entry {
	for i := range entries {
		if !f.CanAccessRole(entries[i].RoleID) {
			entries[i].Content = nil
		}
	}
	return entries
}

// txID prefers the trace id of an inbound span over the request's own id.
func txID(ctx context.Context, req audit.Request) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return req.TxID
}

// Content serializes payload for storage. Objects and arrays become JSON with
// secrets masked, an empty object becomes "", anything else is base64 encoded.
func Content(payload any) (string, error) {
	switch v := payload.(type) {
	case nil:
		return "", nil
	case []byte:
		return base64.StdEncoding.EncodeToString(v), nil
	case string:
		return base64.StdEncoding.EncodeToString([]byte(v)), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode journal content: %w", err)
	}
	doc, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("encode journal content: %w", err)
	}
	switch d := doc.(type) {
	case map[string]any:
		if len(d) == 0 {
			return "", nil
		}
	case []any:
	default:
		return base64.StdEncoding.EncodeToString(raw), nil
	}
	out, err := json.Marshal(mask(doc))
	if err != nil {
		return "", fmt.Errorf("encode journal content: %w", err)
	}
	return string(out), nil
}
