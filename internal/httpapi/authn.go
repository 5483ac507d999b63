package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/auth"
	"clientportal.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

// Authenticate verifies the bearer token and attaches its claims to the
// context. It does not consult account state; the Require* gates do.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="clientportal"`)
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		claims, err := a.auth.Signer().Verify(token)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="clientportal", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	})
}

// OptionalAuth attaches claims when a valid token is present and never rejects.
func (a *API) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err == nil {
			if claims, err := a.auth.Signer().Verify(token); err == nil {
				r = r.WithContext(auth.ContextWithClaims(r.Context(), claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin admits active administrators of either role.
func (a *API) RequireAdmin(next http.Handler) http.Handler {
	return a.gate("admin", func(r *http.Request, claims *auth.Claims) (auth.Principal, error) {
		acct, err := a.auth.ResolveAdmin(r.Context(), claims)
		if err != nil {
			return auth.Principal{}, err
		}
		return auth.Principal{Type: auth.PrincipalAdmin, Admin: acct}, nil
	}, next)
}

// RequireSuperAdmin admits active administrators whose live role is super_admin.
func (a *API) RequireSuperAdmin(next http.Handler) http.Handler {
	return a.gate("super_admin", func(r *http.Request, claims *auth.Claims) (auth.Principal, error) {
		acct, err := a.auth.ResolveAdmin(r.Context(), claims)
		if err != nil {
			return auth.Principal{}, err
		}
		if acct.Role != auth.RoleSuperAdmin {
			return auth.Principal{}, auth.ErrForbidden
		}
		return auth.Principal{Type: auth.PrincipalAdmin, Admin: acct}, nil
	}, next)
}

// RequireClient admits active clients whose company is active.
func (a *API) RequireClient(next http.Handler) http.Handler {
	return a.gate("client", func(r *http.Request, claims *auth.Claims) (auth.Principal, error) {
		acct, company, err := a.auth.ResolveClient(r.Context(), claims)
		if err != nil {
			return auth.Principal{}, err
		}
		return auth.Principal{Type: auth.PrincipalClient, Client: acct, Company: company}, nil
	}, next)
}

// RequirePrincipal admits any live principal.
func (a *API) RequirePrincipal(next http.Handler) http.Handler {
	return a.gate("any", func(r *http.Request, claims *auth.Claims) (auth.Principal, error) {
		return a.auth.Principal(r.Context(), claims)
	}, next)
}

type resolveFunc func(r *http.Request, claims *auth.Claims) (auth.Principal, error)

func (a *API) gate(requirement string, resolve resolveFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		principal, err := resolve(r, claims)
		if err != nil {
			a.denied(r, claims, requirement, err)
			a.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func (a *API) denied(r *http.Request, claims *auth.Claims, requirement string, cause error) {
	reason := "forbidden"
	switch {
	case errors.Is(cause, auth.ErrAccountInactive):
		reason = "account_inactive"
	case errors.Is(cause, auth.ErrCompanyInactive):
		reason = "company_inactive"
	case errors.Is(cause, auth.ErrInvalidToken):
		reason = "account_missing"
	case !errors.Is(cause, auth.ErrForbidden):
		// store failure, not a decision about the caller
		return
	}
	obs.ObserveAuth(string(claims.PrincipalType), "authorize", reason)
	a.recorder.Record(r.Context(), audit.Event{
		ActorID:   audit.String(claims.Subject),
		ActorType: audit.ActorType(claims.PrincipalType),
		CompanyID: audit.String(claims.CompanyID),
		Action:    audit.ActionAccessDenied,
		Details: map[string]any{
			"required": requirement,
			"reason":   reason,
			"method":   r.Method,
			"path":     obs.CanonicalPath(r.URL.Path),
		},
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
