package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"clientportal.io/internal/auth"
)

type createCompanyRequest struct {
	Name string `json:"name"`
}

type createInviteRequest struct {
	Email    string `json:"email"`
	TTLHours int    `json:"ttl_hours"`
}

type createClientRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type companyStatusRequest struct {
	Status auth.CompanyStatus `json:"status"`
}

type activeRequest struct {
	Active *bool `json:"active"`
}

type createAdminRequest struct {
	Email    string         `json:"email"`
	Name     string         `json:"name"`
	Password string         `json:"password"`
	Role     auth.AdminRole `json:"role"`
}

func actorClaims(r *http.Request) *auth.Claims {
	claims, _ := auth.ClaimsFromContext(r.Context())
	return claims
}

func (a *API) handleCreateCompany(w http.ResponseWriter, r *http.Request) {
	var req createCompanyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	company, err := a.auth.CreateCompany(r.Context(), actorClaims(r), req.Name)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/companies/%s", company.ID))
	writeJSON(w, http.StatusCreated, company)
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.TTLHours < 0 {
		writeError(w, r, http.StatusBadRequest, "ttl_hours must not be negative")
		return
	}
	invite, err := a.auth.CreateInvite(r.Context(), actorClaims(r), mux.Vars(r)["id"], req.Email,
		time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invite)
}

func (a *API) handleListInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := a.auth.ListInvites(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if invites == nil {
		invites = []*auth.InviteToken{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": invites})
}

func (a *API) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req createClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	client, err := a.auth.CreateClientAccount(r.Context(), actorClaims(r), mux.Vars(r)["id"], req.Email, req.Password)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, auth.ClientView(client))
}

func (a *API) handleCompanyStatus(w http.ResponseWriter, r *http.Request) {
	var req companyStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	company, err := a.auth.SetCompanyStatus(r.Context(), actorClaims(r), mux.Vars(r)["id"], req.Status)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, company)
}

func (a *API) handleClientActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Active == nil {
		writeError(w, r, http.StatusBadRequest, "active is required")
		return
	}
	client, err := a.auth.SetClientActive(r.Context(), actorClaims(r), mux.Vars(r)["id"], *req.Active)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auth.ClientView(client))
}

func (a *API) handleCreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req createAdminRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleAdmin
	}
	admin, err := a.auth.CreateAdmin(r.Context(), actorClaims(r), req.Email, req.Name, req.Password, req.Role)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/v1/admin/admins/%s", admin.ID))
	writeJSON(w, http.StatusCreated, auth.AdminView(admin))
}

func (a *API) handleAdminActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Active == nil {
		writeError(w, r, http.StatusBadRequest, "active is required")
		return
	}
	admin, err := a.auth.SetAdminActive(r.Context(), actorClaims(r), mux.Vars(r)["id"], *req.Active)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auth.AdminView(admin))
}
