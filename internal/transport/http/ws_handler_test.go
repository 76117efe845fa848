package http

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

func TestWebSocketGameFlow(t *testing.T) {
	server := newTestServer(t)
	created := createSession(t, server, "quiz-1")

	player := dial(t, server, "/ws/play?pin="+created.Session.Pin+"&name=Alice")
	_, payload := readUntil(t, player, "joined")
	if payload["sessionId"] != created.Session.ID {
		t.Fatalf("expected join into %s, got %v", created.Session.ID, payload["sessionId"])
	}
	_, payload = readUntil(t, player, "session")
	if status := payload["session"].(map[string]any)["status"]; status != "lobby" {
		t.Fatalf("expected lobby, got %v", status)
	}

	host := dial(t, server, "/ws/host?sessionId="+created.Session.ID+"&hostKey="+url.QueryEscape(created.HostKey))
	_, payload = readUntil(t, host, "participants")
	for len(payload["list"].([]any)) == 0 {
		// The participants feed may push the empty lobby before the join lands.
		_, payload = readUntil(t, host, "participants")
	}

	send(t, host, map[string]any{"type": "start"})
	_, ack := readUntil(t, host, "ack")
	if ack["status"] != "question" {
		t.Fatalf("expected question after start, got %v", ack["status"])
	}

	var question map[string]any
	for question == nil {
		_, payload = readUntil(t, player, "session")
		if q, ok := payload["question"].(map[string]any); ok {
			question = q
		}
	}
	if _, leaked := question["correctOptionId"]; leaked {
		t.Fatalf("player must not see the correct option before reveal: %v", question)
	}

	send(t, player, map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionIndex": 0, "optionId": "o2"},
	})
	_, result := readUntil(t, player, "answerResult")
	if result["accepted"] != true || result["reason"] != "accepted" {
		t.Fatalf("expected accepted answer, got %v", result)
	}
	if score := result["totalScore"].(float64); score < app.BasePoints {
		t.Fatalf("expected at least %d points, got %v", app.BasePoints, score)
	}

	send(t, player, map[string]any{
		"type":    "answer",
		"payload": map[string]any{"questionIndex": 0, "optionId": "o1"},
	})
	_, result = readUntil(t, player, "answerResult")
	if result["accepted"] != false || result["reason"] != "duplicate" {
		t.Fatalf("expected duplicate, got %v", result)
	}

	send(t, host, map[string]any{"type": "reveal"})
	if _, ack = readUntil(t, host, "ack"); ack["status"] != "answer_reveal" {
		t.Fatalf("expected answer_reveal, got %v", ack["status"])
	}
	send(t, host, map[string]any{"type": "next"})
	_, ack = readUntil(t, host, "ack")
	if ack["status"] != "leaderboard" {
		t.Fatalf("expected leaderboard, got %v", ack["status"])
	}
	board := ack["leaderboard"].([]any)
	if len(board) != 1 || board[0].(map[string]any)["name"] != "Alice" {
		t.Fatalf("unexpected leaderboard %v", board)
	}

	send(t, host, map[string]any{"type": "next"})
	if _, ack = readUntil(t, host, "ack"); ack["status"] != "ended" {
		t.Fatalf("expected ended after the last question, got %v", ack["status"])
	}
}

func TestWebSocketHostRejectsWrongKey(t *testing.T) {
	server := newTestServer(t)
	created := createSession(t, server, "quiz-1")

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/host?sessionId=" + created.Session.ID + "&hostKey=nope"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestWebSocketJoinAfterStartFails(t *testing.T) {
	server := newTestServer(t)
	created := createSession(t, server, "quiz-1")

	host := dial(t, server, "/ws/host?sessionId="+created.Session.ID+"&hostKey="+url.QueryEscape(created.HostKey))
	send(t, host, map[string]any{"type": "start"})
	readUntil(t, host, "ack")

	late := dial(t, server, "/ws/play?pin="+created.Session.Pin+"&name=Bob")
	_, payload := readUntil(t, late, "error")
	if payload["message"] != domain.ErrSessionNotFound.Error() {
		t.Fatalf("expected session not found, got %v", payload["message"])
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.NewSessionStore()
	quizRepo := memory.NewQuizRepository(memory.NewStaticQuizLoader(sampleQuiz()), time.Minute)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := app.NewQuizService(store, quizRepo, app.WithLogger(logger))
	server := httptest.NewServer(NewRouter(service, logger, "http://quiz.test/join", nil))
	t.Cleanup(server.Close)
	return server
}

func createSession(t *testing.T, server *httptest.Server, quizRef string) createSessionResponse {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"quizRef": quizRef, "timeLimitSeconds": 20})
	resp, err := http.Post(server.URL+"/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return created
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write %v: %v", msg["type"], err)
	}
}

// readUntil skips pushes of other types. Array payloads come back under "list".
func readUntil(t *testing.T, conn *websocket.Conn, expect string) (string, map[string]any) {
	t.Helper()
	for i := 0; i < 50; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read json waiting for %s: %v", expect, err)
		}
		if msg.Type != expect {
			continue
		}
		payload := map[string]any{}
		if bytes.HasPrefix(bytes.TrimSpace(msg.Payload), []byte("[")) {
			var list []any
			if err := json.Unmarshal(msg.Payload, &list); err != nil {
				t.Fatalf("decode %s payload: %v", expect, err)
			}
			payload["list"] = list
		} else if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			t.Fatalf("decode %s payload: %v", expect, err)
		}
		return msg.Type, payload
	}
	t.Fatalf("no %s message received", expect)
	return "", nil
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Arithmetic",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
				},
			},
		},
	}
}
