package handlers

import (
	"net/http"

	"github.com/pliu/banter/internal/auth"
	"github.com/pliu/banter/internal/service"
)

type AuthHandler struct {
	Service *service.Service
	Signer  *auth.Signer
}

type Credentials struct {
	Name   string `json:"name"`
	Secret string `json:"secret"`
	// Password is accepted in place of Secret.
	Password string `json:"password"`
}

// Login claims or enters the name and sets the session cookie used by /ws.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds Credentials
	if !decode(w, r, &creds) {
		return
	}
	secret := creds.Secret
	if secret == "" {
		secret = creds.Password
	}

	user, err := h.Service.Login(r.Context(), creds.Name, secret)
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, h.Signer.Cookie(user.Name))
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) FindUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}

	user, err := h.Service.FindUser(r.Context(), req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *AuthHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.SearchUsers(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}
