package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"switchboard.dev/internal/journal"
	"switchboard.dev/internal/obs"
	"switchboard.dev/internal/permission"
)

const serviceName = "switchboard-api"

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe is a simple readiness check (database ping).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// JournalReader lists journal entries.
type JournalReader interface {
	List(ctx context.Context, q journal.Query, f permission.Filter) ([]journal.Entry, int, error)
}

// Options configures the HTTP layer.
type Options struct {
	Version string
	// Prefix is prepended to every API route, e.g. "/v1".
	Prefix       string
	Auth         Authenticator
	Login        Login
	Journal      JournalReader
	Stream       JournalStream
	Ready        readinessChecker
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
	// Done stops background maintenance of the rate limiter.
	Done <-chan struct{}
}

// API is the HTTP layer.
type API struct {
	router  *mux.Router
	prefix  string
	auth    Authenticator
	login   Login
	journal JournalReader
	stream  JournalStream
	ready   readinessChecker
	version string
	opts    Options
}

func New(opts Options) *API {
	if opts.Ready == nil {
		opts.Ready = ReadyProbe{}
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	a := &API{
		router:  mux.NewRouter(),
		prefix:  opts.Prefix,
		auth:    opts.Auth,
		login:   opts.Login,
		journal: opts.Journal,
		stream:  opts.Stream,
		ready:   opts.Ready,
		version: opts.Version,
		opts:    opts,
	}
	a.router.NotFoundHandler = http.HandlerFunc(notFound)
	a.router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	// health/ready/info
	a.router.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	a.router.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	a.router.HandleFunc(a.prefix+"/info", a.Info).Methods(http.MethodGet)

	// Prometheus metrics
	a.router.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	if a.login != nil {
		a.router.HandleFunc(a.prefix+"/auth/token", a.handleAuthToken).Methods(http.MethodPost)
	}
	if a.journal != nil {
		a.router.HandleFunc(a.prefix+"/journals", a.handleJournals).Methods(http.MethodGet)
	}
	if a.stream != nil {
		a.router.HandleFunc(a.prefix+"/journals/stream", a.handleJournalStream).Methods(http.MethodGet)
	}
	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	if a.auth != nil {
		h = a.withAuth(h)
	}
	h = MaxBodyBytes(h, a.opts.MaxBodyBytes)
	h = RateLimit(h, a.opts.RateBurst, a.opts.RatePerSec, a.opts.Done)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
