package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"live-quiz-service/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Message: msg})
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotHost):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrEmptyQuiz),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrOptionNotFound):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNoMoreQuestions),
		errors.Is(err, domain.ErrContention):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// sessionView is what clients see of a session; the host key never leaves the server
// except in the create response.
type sessionView struct {
	ID                   string                    `json:"id"`
	Pin                  string                    `json:"pin"`
	Status               domain.Status             `json:"status"`
	QuizRef              string                    `json:"quizRef"`
	TotalQuestions       int                       `json:"totalQuestions"`
	CurrentQuestionIndex int                       `json:"currentQuestionIndex"`
	QuestionStartedAt    *int64                    `json:"questionStartedAt,omitempty"`
	TimeLimitSeconds     int                       `json:"timeLimitSeconds"`
	Leaderboard          []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
}

func newSessionView(s domain.Session) sessionView {
	view := sessionView{
		ID:                   s.ID,
		Pin:                  s.Pin,
		Status:               s.Status,
		QuizRef:              s.QuizRef,
		TotalQuestions:       s.TotalQuestions,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		TimeLimitSeconds:     s.TimeLimitSeconds,
	}
	if !s.QuestionStartedAt.IsZero() {
		ms := s.QuestionStartedAt.UnixMilli()
		view.QuestionStartedAt = &ms
	}
	// Rankings between compiles are stale by definition.
	if s.Status == domain.StatusLeaderboard || s.Status == domain.StatusEnded {
		view.Leaderboard = s.Leaderboard
	}
	return view
}

type participantView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Answered bool   `json:"answered"`
}

func newParticipantView(p domain.Participant, currentIndex int) participantView {
	return participantView{
		ID:       p.ID,
		Name:     p.Name,
		Score:    p.Score,
		Answered: p.HasAnswered(currentIndex),
	}
}

func newParticipantViews(participants []domain.Participant, currentIndex int) []participantView {
	out := make([]participantView, len(participants))
	for i, p := range participants {
		out[i] = newParticipantView(p, currentIndex)
	}
	return out
}

type optionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// questionView hides the correct option until the answer has been revealed.
type questionView struct {
	Index           int          `json:"index"`
	Prompt          string       `json:"prompt"`
	Options         []optionView `json:"options"`
	CorrectOptionID string       `json:"correctOptionId,omitempty"`
}

func newQuestionView(q domain.Question, index int, revealed bool) *questionView {
	view := &questionView{Index: index, Prompt: q.Prompt, Options: make([]optionView, len(q.Options))}
	for i, opt := range q.Options {
		view.Options[i] = optionView{ID: opt.ID, Text: opt.Text}
		if revealed && opt.Correct {
			view.CorrectOptionID = opt.ID
		}
	}
	return view
}

// stateView is the payload of every "session" push.
type stateView struct {
	Session  sessionView   `json:"session"`
	Question *questionView `json:"question,omitempty"`
	Deadline *int64        `json:"deadline,omitempty"`
}
