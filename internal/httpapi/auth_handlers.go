package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"clientportal.io/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type secretPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type meResponse struct {
	Authenticated bool                `json:"authenticated"`
	Principal     *auth.PrincipalView `json:"principal,omitempty"`
}

const resetRequestedMessage = "if the account exists, a password reset link has been sent"

func principalType(r *http.Request) auth.PrincipalType {
	return auth.PrincipalType(mux.Vars(r)["principal"])
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.auth.Login(r.Context(), req.Email, req.Password, principalType(r))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.RequestPasswordReset(r.Context(), req.Email, principalType(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": resetRequestedMessage})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req secretPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.auth.ResetPassword(r.Context(), req.Token, req.Password, principalType(r)); err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (a *API) handleInspectInvite(w http.ResponseWriter, r *http.Request) {
	preview, err := a.auth.InspectInvite(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req secretPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	session, err := a.auth.AcceptInvite(r.Context(), req.Token, req.Password)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}
	principal, err := a.auth.Principal(r.Context(), claims)
	if err != nil {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}
	view := principal.Sanitized()
	writeJSON(w, http.StatusOK, meResponse{Authenticated: true, Principal: &view})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	a.auth.Logout(r.Context(), claims)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if err := a.auth.ChangePassword(r.Context(), claims, req.CurrentPassword, req.NewPassword); err != nil {
		a.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password changed"})
}
