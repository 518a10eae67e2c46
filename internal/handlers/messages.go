package handlers

import (
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pliu/banter/internal/service"
	"github.com/pliu/banter/internal/store"
)

type MessageHandler struct {
	Service *service.Service
	// MaxVoiceBytes caps the multipart body of a voice upload.
	MaxVoiceBytes int64
}

type SendMessageRequest struct {
	ChatID   string `json:"chatId"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
}

// SeenRequest names the reader as receiver; reader and user are older
// spellings of the same field.
type SeenRequest struct {
	ChatID   string `json:"chatId"`
	Receiver string `json:"receiver"`
	Reader   string `json:"reader"`
	User     string `json:"user"`
}

func (r SeenRequest) reader() string {
	for _, name := range []string{r.Receiver, r.Reader, r.User} {
		if name != "" {
			return name
		}
	}
	return ""
}

type TypingRequest struct {
	ChatID string `json:"chatId"`
	User   string `json:"user"`
	Typing bool   `json:"typing"`
}

func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var page store.Page
	if s := q.Get("after"); s != "" {
		after, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			badRequest(w, "after: not a number")
			return
		}
		page.After = after
	}
	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			badRequest(w, "limit: not a number")
			return
		}
		page.Limit = limit
	}

	res, err := h.Service.ListMessages(r.Context(), q.Get("chatId"), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if !decode(w, r, &req) {
		return
	}

	msg, err := h.Service.SendMessage(r.Context(), service.SendRequest{
		ChatID:   req.ChatID,
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Text:     req.Text,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// SendVoice accepts a multipart upload with the clip in the audio field.
func (h *MessageHandler) SendVoice(w http.ResponseWriter, r *http.Request) {
	if h.MaxVoiceBytes > 0 {
		// Room for the other form fields on top of the clip.
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxVoiceBytes+64<<10)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			badRequest(w, "audio: clip too large")
			return
		}
		badRequest(w, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		badRequest(w, "audio: required")
		return
	}
	defer file.Close()

	msg, err := h.Service.SendMessage(r.Context(), service.SendRequest{
		ChatID:   r.FormValue("chatId"),
		Sender:   r.FormValue("sender"),
		Receiver: r.FormValue("receiver"),
		Voice:    file,
		VoiceExt: clipExtension(header.Filename, header.Header.Get("Content-Type")),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

// clipExtension prefers the uploaded file's extension, then its content
// type. Browsers record webm, which is also the fallback.
func clipExtension(filename, contentType string) string {
	if ext := strings.TrimPrefix(filepath.Ext(filename), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "octet-stream" {
			return sub
		}
	}
	return "webm"
}

func (h *MessageHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var req SeenRequest
	if !decode(w, r, &req) {
		return
	}

	updated, err := h.Service.MarkSeen(r.Context(), req.ChatID, req.reader())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
}

// DeleteMessage soft deletes for everyone. The requester comes from the user
// query parameter or a JSON body.
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	user := r.URL.Query().Get("user")
	if user == "" && r.ContentLength != 0 {
		var req struct {
			User string `json:"user"`
		}
		if !decode(w, r, &req) {
			return
		}
		user = req.User
	}

	if err := h.Service.SoftDelete(r.Context(), id, user); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *MessageHandler) SetTyping(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if !decode(w, r, &req) {
		return
	}

	if err := h.Service.SetTyping(r.Context(), req.ChatID, req.User, req.Typing); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
