package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"live-quiz-service/internal/app"
)

const defaultQRSize = 256

// SessionHandler serves the REST side of session management.
type SessionHandler struct {
	service *app.QuizService
	joinURL string
}

func NewSessionHandler(service *app.QuizService, joinURL string) *SessionHandler {
	return &SessionHandler{service: service, joinURL: joinURL}
}

type createSessionRequest struct {
	QuizRef          string `json:"quizRef"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
}

type createSessionResponse struct {
	Session sessionView `json:"session"`
	HostKey string      `json:"hostKey"`
}

// Create opens a new lobby. The response is the only place the host key is returned.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.QuizRef = strings.TrimSpace(req.QuizRef)
	if req.QuizRef == "" {
		writeError(w, http.StatusBadRequest, "quizRef is required")
		return
	}

	host, err := h.service.CreateSession(r.Context(), req.QuizRef, req.TimeLimitSeconds)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	session, err := host.Session(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		Session: newSessionView(session),
		HostKey: host.HostKey(),
	})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newSessionView(session))
}

// QRCode renders a PNG that opens the join page with the session PIN filled in.
func (h *SessionHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if session.Status.Terminal() {
		writeError(w, http.StatusGone, "session has ended")
		return
	}

	size := defaultQRSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 64 || n > 1024 {
			writeError(w, http.StatusBadRequest, "size must be between 64 and 1024")
			return
		}
		size = n
	}

	png, err := qrcode.Encode(joinLink(h.joinURL, session.Pin), qrcode.Medium, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

func joinLink(base, pin string) string {
	if base == "" {
		base = "http://localhost:8080/join"
	}
	u, err := url.Parse(base)
	if err != nil {
		return base + "?pin=" + url.QueryEscape(pin)
	}
	q := u.Query()
	q.Set("pin", pin)
	u.RawQuery = q.Encode()
	return u.String()
}
