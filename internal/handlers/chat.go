package handlers

import (
	"net/http"

	"github.com/pliu/banter/internal/service"
)

type ChatHandler struct {
	Service *service.Service
}

type CreateChatRequest struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
}

type CreateGroupRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Admin   string   `json:"admin"`
}

type RenameGroupRequest struct {
	ChatID string `json:"chatId"`
	Name   string `json:"name"`
	Admin  string `json:"admin"`
}

func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	chats, err := h.Service.ListChats(r.Context(), r.URL.Query().Get("user"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chats": chats})
}

// GetOrCreateChat opens the direct chat between two users.
func (h *ChatHandler) GetOrCreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if !decode(w, r, &req) {
		return
	}

	chat, err := h.Service.GetOrCreateDirectChat(r.Context(), req.User1, req.User2)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat": chat})
}

func (h *ChatHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !decode(w, r, &req) {
		return
	}

	chat, err := h.Service.CreateGroupChat(r.Context(), req.Name, req.Admin, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"chat": chat})
}

func (h *ChatHandler) RenameGroup(w http.ResponseWriter, r *http.Request) {
	var req RenameGroupRequest
	if !decode(w, r, &req) {
		return
	}

	renamed, err := h.Service.RenameGroup(r.Context(), req.ChatID, req.Name, req.Admin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "renamed": renamed})
}
