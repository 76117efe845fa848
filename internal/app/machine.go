package app

import (
	"fmt"
	"math"
	"time"

	"live-quiz-service/internal/domain"
)

// Sessions move along a single ordered track:
//
//	lobby < question(0) < reveal(0) < leaderboard(0) < question(1) < ... < ended
//
// A transition may only take the immediate next position, except ended, which is
// reachable from anywhere. Targets at or behind the current position are stale
// requests (double clicks, lagging hosts) and apply nothing.

const phasesPerQuestion = 3

func position(status domain.Status, index int) int {
	switch status {
	case domain.StatusLobby:
		return -1
	case domain.StatusQuestion:
		return index * phasesPerQuestion
	case domain.StatusAnswerReveal:
		return index*phasesPerQuestion + 1
	case domain.StatusLeaderboard:
		return index*phasesPerQuestion + 2
	case domain.StatusEnded:
		return math.MaxInt
	default:
		panic(fmt.Sprintf("unhandled session status %v", status))
	}
}

// transition moves session to (target, index) if that is its next step. It reports
// whether anything changed; stale targets return false with no error.
func transition(session *domain.Session, target domain.Status, index int) (bool, error) {
	if session.Status.Terminal() {
		return false, nil
	}
	if target == domain.StatusEnded {
		session.Status = domain.StatusEnded
		return true, nil
	}
	current := position(session.Status, session.CurrentQuestionIndex)
	if index < 0 {
		return false, fmt.Errorf("%w: question index %d", domain.ErrInvalidTransition, index)
	}
	if index >= session.TotalQuestions {
		if target == domain.StatusQuestion && index == session.TotalQuestions {
			return false, domain.ErrNoMoreQuestions
		}
		return false, fmt.Errorf("%w: question index %d of %d", domain.ErrInvalidTransition, index, session.TotalQuestions)
	}
	wanted := position(target, index)
	if wanted <= current {
		return false, nil
	}
	if wanted != current+1 {
		return false, fmt.Errorf("%w: %s(%d) -> %s(%d)", domain.ErrInvalidTransition,
			session.Status, session.CurrentQuestionIndex, target, index)
	}
	session.Status = target
	session.CurrentQuestionIndex = index
	return true, nil
}

// beginQuestion is the start/next step. The participant reset and the session flip
// must land in the same batch write.
func beginQuestion(session *domain.Session, participants []domain.Participant, index int, now time.Time) (bool, error) {
	changed, err := transition(session, domain.StatusQuestion, index)
	if err != nil || !changed {
		return false, err
	}
	session.QuestionStartedAt = now
	session.Leaderboard = nil
	for i := range participants {
		participants[i].AnsweredCurrentQuestion = false
	}
	return true, nil
}

// nextStep is the position one step ahead of the session, used by the host's "next" button.
func nextStep(session domain.Session) (domain.Status, int) {
	switch session.Status {
	case domain.StatusLobby:
		return domain.StatusQuestion, 0
	case domain.StatusQuestion:
		return domain.StatusAnswerReveal, session.CurrentQuestionIndex
	case domain.StatusAnswerReveal:
		return domain.StatusLeaderboard, session.CurrentQuestionIndex
	case domain.StatusLeaderboard:
		if session.CurrentQuestionIndex+1 < session.TotalQuestions {
			return domain.StatusQuestion, session.CurrentQuestionIndex + 1
		}
		return domain.StatusEnded, session.CurrentQuestionIndex
	case domain.StatusEnded:
		return domain.StatusEnded, session.CurrentQuestionIndex
	default:
		panic(fmt.Sprintf("unhandled session status %v", session.Status))
	}
}
