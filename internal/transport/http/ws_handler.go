package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

type WSHandler struct {
	service  *app.QuizService
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.QuizService, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		service: service,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionIndex   int    `json:"questionIndex"`
	OptionID        string `json:"optionId"`
	ClientElapsedMs int64  `json:"clientElapsedMs"`
}

// indexPayload targets a question explicitly; without it the host command applies to
// the session's current position.
type indexPayload struct {
	Index *int `json:"index"`
}

type joinedPayload struct {
	SessionID   string          `json:"sessionId"`
	Participant participantView `json:"participant"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// wsConn serializes writes through one writer goroutine; gorilla connections allow a
// single concurrent writer only.
type wsConn struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	send       chan outboundMessage[any]
	closed     chan struct{}
	writerDone chan struct{}
}

func newWSConn(conn *websocket.Conn, logger *slog.Logger) *wsConn {
	c := &wsConn{
		conn:       conn,
		logger:     logger,
		send:       make(chan outboundMessage[any], 16),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go func() {
		defer close(c.writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("ws write failed", "error", err)
				// Unblocks the read loop so the handler can shut down.
				_ = conn.Close()
				return
			}
		}
	}()
	return c
}

// emit queues a message. It reports false once the connection is shutting down.
func (c *wsConn) emit(typ string, payload any) bool {
	select {
	case c.send <- outboundMessage[any]{Type: typ, Payload: payload}:
		return true
	case <-c.closed:
		return false
	}
}

func (c *wsConn) fail(err error) bool {
	return c.emit("error", errorPayload{Message: err.Error()})
}

// shutdown stops the feeds, waits for them and drains the writer.
func (c *wsConn) shutdown(background *errgroup.Group) {
	close(c.closed)
	if err := background.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("ws background task failed", "error", err)
	}
	close(c.send)
	<-c.writerDone
	_ = c.conn.Close()
}

// pump forwards a store feed to the socket until either side closes.
func pump[T any](c *wsConn, feed <-chan T, deliver func(T) bool) func() error {
	return func() error {
		for {
			select {
			case v, ok := <-feed:
				if !ok {
					return nil
				}
				if !deliver(v) {
					return nil
				}
			case <-c.closed:
				return nil
			}
		}
	}
}

// ServePlayer upgrades a participant connection. New players pass pin and name; a
// reconnecting player passes sessionId and participantId instead.
func (h *WSHandler) ServePlayer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pin, name := q.Get("pin"), q.Get("name")
	sessionID, participantID := q.Get("sessionId"), q.Get("participantId")
	resume := sessionID != "" && participantID != ""
	if !resume && (pin == "" || name == "") {
		writeError(w, http.StatusBadRequest, "missing pin and name, or sessionId and participantId")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var participant domain.Participant
	if resume {
		participant, err = h.service.Participant(ctx, sessionID, participantID)
	} else {
		participant, err = h.service.JoinByPin(ctx, pin, name)
	}
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		_ = conn.Close()
		return
	}
	sessionID = participant.SessionID

	sessions, cancelSessions, err := h.service.OnSessionChange(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		_ = conn.Close()
		return
	}
	defer cancelSessions()

	c := newWSConn(conn, h.logger.With("session", sessionID, "participant", participant.ID))
	var background errgroup.Group
	defer c.shutdown(&background)

	c.emit("joined", joinedPayload{SessionID: sessionID, Participant: newParticipantView(participant, -1)})
	background.Go(pump(c, sessions, func(s domain.Session) bool {
		return c.emit("session", h.state(ctx, s, false))
	}))

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.emit("error", errorPayload{Message: "invalid answer payload"})
				continue
			}
			outcome, err := h.service.SubmitAnswer(ctx, sessionID, participant.ID, domain.AnswerSubmission{
				QuestionIndex:   payload.QuestionIndex,
				OptionID:        payload.OptionID,
				ClientElapsedMs: payload.ClientElapsedMs,
			})
			if err != nil {
				c.fail(err)
				continue
			}
			c.emit("answerResult", outcome)
		case "ping":
			c.emit("pong", struct{}{})
		default:
			c.emit("error", errorPayload{Message: "unsupported message type"})
		}
	}
}

// ServeHost upgrades the host connection. The host key is checked before the upgrade so
// an unauthorized client gets a plain HTTP error.
func (h *WSHandler) ServeHost(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID, hostKey := q.Get("sessionId"), q.Get("hostKey")
	if sessionID == "" || hostKey == "" {
		writeError(w, http.StatusBadRequest, "missing sessionId or hostKey")
		return
	}
	host, err := h.service.Host(r.Context(), sessionID, hostKey)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sessions, cancelSessions, err := h.service.OnSessionChange(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		_ = conn.Close()
		return
	}
	defer cancelSessions()
	participants, cancelParticipants, err := h.service.OnParticipantsChange(ctx, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		_ = conn.Close()
		return
	}
	defer cancelParticipants()

	c := newWSConn(conn, h.logger.With("session", sessionID, "role", "host"))
	var background errgroup.Group
	// cancel runs before shutdown waits, so a pending auto reveal is abandoned.
	defer c.shutdown(&background)
	defer cancel()

	var currentIndex atomic.Int64
	currentIndex.Store(-1)
	background.Go(pump(c, sessions, func(s domain.Session) bool {
		currentIndex.Store(int64(s.CurrentQuestionIndex))
		return c.emit("session", h.state(ctx, s, true))
	}))
	background.Go(pump(c, participants, func(ps []domain.Participant) bool {
		return c.emit("participants", newParticipantViews(ps, int(currentIndex.Load())))
	}))

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		var payload indexPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				c.emit("error", errorPayload{Message: "invalid command payload"})
				continue
			}
		}

		if inbound.Type == "autoReveal" {
			background.Go(func() error {
				if _, err := host.RevealWhenTimeUp(ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.fail(err)
				}
				return nil
			})
			continue
		}

		session, err := h.command(ctx, host, inbound.Type, payload)
		if err != nil {
			c.fail(err)
			continue
		}
		c.emit("ack", newSessionView(session))
	}
}

var errUnsupportedCommand = errors.New("unsupported message type")

func (h *WSHandler) command(ctx context.Context, host *app.HostController, typ string, payload indexPayload) (domain.Session, error) {
	switch typ {
	case "start":
		return host.Start(ctx)
	case "next":
		return host.Next(ctx)
	case "end":
		return host.EndSession(ctx)
	case "advance", "reveal", "leaderboard":
	default:
		return domain.Session{}, errUnsupportedCommand
	}

	index := 0
	if payload.Index != nil {
		index = *payload.Index
	} else {
		session, err := host.Session(ctx)
		if err != nil {
			return domain.Session{}, err
		}
		index = session.CurrentQuestionIndex
		if typ == "advance" {
			index++
		}
	}
	switch typ {
	case "advance":
		return host.AdvanceQuestion(ctx, index)
	case "reveal":
		return host.RevealAnswer(ctx, index)
	default:
		return host.ShowLeaderboard(ctx, index)
	}
}

// state builds the session push. Question content is attached while one is on screen;
// the correct option only once revealed, or always for the host.
func (h *WSHandler) state(ctx context.Context, s domain.Session, host bool) stateView {
	view := stateView{Session: newSessionView(s)}
	question, ok, err := h.service.CurrentQuestion(ctx, s)
	if err != nil {
		h.logger.Warn("load current question", "session", s.ID, "error", err)
		return view
	}
	if ok {
		revealed := host || s.Status != domain.StatusQuestion
		view.Question = newQuestionView(question, s.CurrentQuestionIndex, revealed)
	}
	if deadline := s.Deadline(); !deadline.IsZero() {
		ms := deadline.UnixMilli()
		view.Deadline = &ms
	}
	return view
}
