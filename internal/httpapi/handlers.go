package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/auth"
	"clientportal.io/internal/obs"
	"clientportal.io/internal/ratelimit"
)

const serviceName = "clientportal-api"

// ReadyProbe reports whether the backing database answers.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Options wires the collaborators of the HTTP layer.
type Options struct {
	Auth        *auth.Service
	Audit       *audit.Query
	Recorder    audit.Recorder
	AuthLimiter ratelimit.Limiter
	Ready       readinessChecker
	Logger      *logrus.Logger
	Version     string

	CORSOrigins    []string
	TrustedProxies []string
	MaxBodyBytes   int64
	GlobalRPS      float64
	GlobalBurst    int
}

// API is the HTTP surface of the portal.
type API struct {
	router   *mux.Router
	auth     *auth.Service
	audit    *audit.Query
	recorder audit.Recorder
	limiter  ratelimit.Limiter
	ready    readinessChecker
	log      *logrus.Logger
	version  string

	corsOrigins []string
	proxies     ProxyTrust
	maxBody     int64
	ratePerSec  float64
	rateBurst   int
}

func New(opts Options) (*API, error) {
	if opts.Auth == nil {
		return nil, errors.New("httpapi: auth service is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("httpapi: audit query is required")
	}
	proxies, err := ParseProxyTrust(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}
	a := &API{
		router:      mux.NewRouter(),
		auth:        opts.Auth,
		audit:       opts.Audit,
		recorder:    opts.Recorder,
		limiter:     opts.AuthLimiter,
		ready:       opts.Ready,
		log:         opts.Logger,
		version:     opts.Version,
		corsOrigins: opts.CORSOrigins,
		proxies:     proxies,
		maxBody:     opts.MaxBodyBytes,
		ratePerSec:  opts.GlobalRPS,
		rateBurst:   opts.GlobalBurst,
	}
	if a.recorder == nil {
		a.recorder = audit.Nop
	}
	if a.limiter == nil {
		a.limiter = ratelimit.NewMemory(ratelimit.DefaultLimit, ratelimit.DefaultWindow)
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.log == nil {
		a.log = obs.Logger()
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	r := a.router
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	// public authentication flows
	login := AuthRateLimit(a.limiter, a.recorder, a.log, "login")
	reset := AuthRateLimit(a.limiter, a.recorder, a.log, "password_reset")
	accept := AuthRateLimit(a.limiter, a.recorder, a.log, "invite_accept")

	const principal = "/v1/auth/{principal:admin|client}"
	r.Handle(principal+"/login", login(http.HandlerFunc(a.handleLogin))).Methods(http.MethodPost)
	r.Handle(principal+"/forgot-password", reset(http.HandlerFunc(a.handleForgotPassword))).Methods(http.MethodPost)
	r.Handle(principal+"/reset-password", reset(http.HandlerFunc(a.handleResetPassword))).Methods(http.MethodPost)
	r.Handle("/v1/invites/accept", accept(http.HandlerFunc(a.handleAcceptInvite))).Methods(http.MethodPost)
	r.Handle("/v1/invites/{token}", accept(http.HandlerFunc(a.handleInspectInvite))).Methods(http.MethodGet)

	r.Handle("/v1/me", a.OptionalAuth(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)
	r.Handle("/v1/auth/logout", a.Authenticate(http.HandlerFunc(a.handleLogout))).Methods(http.MethodPost)
	r.Handle("/v1/auth/change-password",
		a.Authenticate(a.RequirePrincipal(http.HandlerFunc(a.handleChangePassword)))).Methods(http.MethodPost)

	super := r.PathPrefix("/v1/admin/admins").Subrouter()
	super.Use(a.Authenticate, a.RequireSuperAdmin)
	super.HandleFunc("", a.handleCreateAdmin).Methods(http.MethodPost)
	super.HandleFunc("/{id}", a.handleAdminActive).Methods(http.MethodPatch)

	admin := r.PathPrefix("/v1/admin").Subrouter()
	admin.Use(a.Authenticate, a.RequireAdmin)
	admin.HandleFunc("/companies", a.handleCreateCompany).Methods(http.MethodPost)
	admin.HandleFunc("/companies/{id}/invites", a.handleCreateInvite).Methods(http.MethodPost)
	admin.HandleFunc("/companies/{id}/invites", a.handleListInvites).Methods(http.MethodGet)
	admin.HandleFunc("/companies/{id}/client", a.handleCreateClient).Methods(http.MethodPost)
	admin.HandleFunc("/companies/{id}/status", a.handleCompanyStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/clients/{id}", a.handleClientActive).Methods(http.MethodPatch)
	admin.HandleFunc("/audit", a.handleAuditSearch).Methods(http.MethodGet)
	admin.HandleFunc("/audit/security", a.handleAuditSecurity).Methods(http.MethodGet)
	admin.HandleFunc("/audit/suspicious", a.handleAuditSuspicious).Methods(http.MethodGet)
	admin.HandleFunc("/audit/stats", a.handleAuditStats).Methods(http.MethodGet)

	client := r.PathPrefix("/v1/client").Subrouter()
	client.Use(a.Authenticate, a.RequireClient)
	client.HandleFunc("/activity", a.handleClientActivity).Methods(http.MethodGet)
}

// Handler returns the router wrapped in the full middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = obs.Instrument(a.router)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = MaxBodyBytes(h, a.maxBody)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = LoggingJSON(h, a.log)
	return RequestID(h, a.proxies)
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
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		a.log.WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error":      msg,
		"request_id": requestIDFromContext(r.Context()),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		case errors.As(err, &maxErr):
			return errors.New("request body too large")
		default:
			return fmt.Errorf("invalid JSON body: %v", err)
		}
	}
	return nil
}

// respondError maps service errors to status codes. Unrecognised errors are
// logged and surface as a bare 500.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, auth.ErrSecretInvalid):
		writeError(w, r, http.StatusBadRequest, "invalid or expired token")
	case errors.Is(err, auth.ErrCurrentPasswordIncorrect):
		writeError(w, r, http.StatusBadRequest, "current password is incorrect")
	case errors.Is(err, auth.ErrAccountInactive):
		writeError(w, r, http.StatusForbidden, "account inactive")
	case errors.Is(err, auth.ErrCompanyInactive):
		writeError(w, r, http.StatusForbidden, "company inactive")
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, detail(err, auth.ErrConflict, "resource already exists"))
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not found")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, detail(err, auth.ErrInvalidInput, "invalid input"))
	case errors.Is(err, audit.ErrInvalidFilter):
		writeError(w, r, http.StatusBadRequest, detail(err, audit.ErrInvalidFilter, "invalid filter"))
	default:
		a.log.WithFields(logrus.Fields{
			"request_id": requestIDFromContext(r.Context()),
			"path":       obs.CanonicalPath(r.URL.Path),
		}).WithError(err).Error("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

// detail strips the sentinel prefix from a wrapped error so only the
// caller-facing explanation remains.
func detail(err, sentinel error, fallback string) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if i := strings.Index(msg, prefix); i >= 0 {
		return msg[i+len(prefix):]
	}
	return fallback
}
