package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"clientportal.io/internal/audit"
	"clientportal.io/internal/auth"
)

// parseFilter reads an audit filter from query parameters. Actions may be
// repeated or comma-separated.
func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		CompanyID:    strings.TrimSpace(q.Get("company_id")),
		ActorID:      strings.TrimSpace(q.Get("actor_id")),
		ActorType:    audit.ActorType(strings.TrimSpace(q.Get("actor_type"))),
		ResourceType: strings.TrimSpace(q.Get("resource_type")),
	}
	for _, raw := range q["action"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				f.Actions = append(f.Actions, audit.Action(part))
			}
		}
	}
	var err error
	if f.Since, err = parseTime(q, "since"); err != nil {
		return audit.Filter{}, err
	}
	if f.Until, err = parseTime(q, "until"); err != nil {
		return audit.Filter{}, err
	}
	if f.Limit, err = parseInt(q, "limit"); err != nil {
		return audit.Filter{}, err
	}
	if f.Offset, err = parseInt(q, "offset"); err != nil {
		return audit.Filter{}, err
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func parseInt(q url.Values, key string) (int, error) {
	raw := strings.TrimSpace(q.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func (a *API) handleAuditSearch(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := a.audit.Search(r.Context(), filter)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleAuditSecurity(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := a.audit.SecurityEvents(r.Context(), filter)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) handleAuditSuspicious(w http.ResponseWriter, r *http.Request) {
	actors, err := a.audit.SuspiciousActors(r.Context())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if actors == nil {
		actors = []audit.OriginSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"window_days": int(audit.SuspiciousWindow / (24 * time.Hour)),
		"actors":      actors,
	})
}

func (a *API) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, r, http.StatusBadRequest, "window must be a positive duration such as 72h")
			return
		}
		window = d
	}
	counts, err := a.audit.Stats(r.Context(), window)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"counts": counts})
}

// handleClientActivity lists events for the caller's own company only.
func (a *API) handleClientActivity(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok || principal.Client == nil {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	filter.CompanyID = principal.Client.CompanyID
	filter.ActorID = ""
	filter.ActorType = ""
	page, err := a.audit.Search(r.Context(), filter)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
