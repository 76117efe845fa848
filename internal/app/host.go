package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// HostController is the only handle that can drive a session through its lifecycle.
// It is obtained from QuizService.CreateSession or QuizService.Host. Every method is
// safe to retry: re-requesting a position the session already reached is a no-op.
type HostController struct {
	service   *QuizService
	sessionID string
	hostKey   string
}

func (h *HostController) SessionID() string { return h.sessionID }

// HostKey is the secret that lets a reconnecting host resume control.
func (h *HostController) HostKey() string { return h.hostKey }

func (h *HostController) Session(ctx context.Context) (domain.Session, error) {
	return h.service.sessions.GetSession(ctx, h.sessionID)
}

// Start shows the first question.
func (h *HostController) Start(ctx context.Context) (domain.Session, error) {
	return h.AdvanceQuestion(ctx, 0)
}

// AdvanceQuestion opens question index, resetting every participant's answered flag in
// the same atomic batch.
func (h *HostController) AdvanceQuestion(ctx context.Context, index int) (domain.Session, error) {
	return h.service.advanceQuestion(ctx, h.sessionID, index)
}

// RevealAnswer closes question index to further submissions.
func (h *HostController) RevealAnswer(ctx context.Context, index int) (domain.Session, error) {
	return h.service.revealAnswer(ctx, h.sessionID, index)
}

// ShowLeaderboard compiles the ranking after question index.
func (h *HostController) ShowLeaderboard(ctx context.Context, index int) (domain.Session, error) {
	return h.service.showLeaderboard(ctx, h.sessionID, index)
}

// EndSession terminates the session from any state.
func (h *HostController) EndSession(ctx context.Context) (domain.Session, error) {
	return h.service.endSession(ctx, h.sessionID)
}

// Next moves the session one step: lobby to the first question, question to reveal,
// reveal to leaderboard, leaderboard to the next question or, after the last one, ended.
func (h *HostController) Next(ctx context.Context) (domain.Session, error) {
	session, err := h.Session(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	status, index := nextStep(session)
	switch status {
	case domain.StatusQuestion:
		return h.AdvanceQuestion(ctx, index)
	case domain.StatusAnswerReveal:
		return h.RevealAnswer(ctx, index)
	case domain.StatusLeaderboard:
		return h.ShowLeaderboard(ctx, index)
	case domain.StatusEnded:
		return h.EndSession(ctx)
	default:
		return session, nil
	}
}

// RevealWhenTimeUp waits for the current question's deadline and then reveals it. If the
// session is not in a question, or the host moved on meanwhile, nothing happens.
func (h *HostController) RevealWhenTimeUp(ctx context.Context) (domain.Session, error) {
	session, err := h.Session(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status != domain.StatusQuestion {
		return session, nil
	}
	now, err := h.service.sessions.ServerTime(ctx)
	if err != nil {
		return domain.Session{}, err
	}

	timer := time.NewTimer(session.Deadline().Sub(now))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return domain.Session{}, ctx.Err()
	case <-timer.C:
	}
	return h.RevealAnswer(ctx, session.CurrentQuestionIndex)
}
