package app

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

const (
	// DefaultTimeLimitSeconds applies when a session is created without a limit.
	DefaultTimeLimitSeconds = 30
	// MaxNameLength bounds participant display names, in runes.
	MaxNameLength = 40
)

// QuizService contains the live quiz use cases: session creation, joining, answering,
// and the host-driven transitions exposed through HostController.
type QuizService struct {
	sessions SessionStore
	quizzes  QuizRepository
	pins     *PinAllocator
	logger   *slog.Logger

	tiePolicy        TiePolicy
	defaultTimeLimit int
	newID            func() string
}

// Option customizes a QuizService.
type Option func(*QuizService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *QuizService) { s.logger = logger }
}

func WithTiePolicy(policy TiePolicy) Option {
	return func(s *QuizService) { s.tiePolicy = policy }
}

func WithDefaultTimeLimit(seconds int) Option {
	return func(s *QuizService) {
		if seconds > 0 {
			s.defaultTimeLimit = seconds
		}
	}
}

func WithPinAllocator(pins *PinAllocator) Option {
	return func(s *QuizService) { s.pins = pins }
}

func NewQuizService(store SessionStore, quizzes QuizRepository, opts ...Option) *QuizService {
	s := &QuizService{
		sessions:         store,
		quizzes:          quizzes,
		logger:           slog.Default(),
		tiePolicy:        TiePolicyJoinOrder,
		defaultTimeLimit: DefaultTimeLimitSeconds,
		newID:            uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pins == nil {
		s.pins = NewPinAllocator(store, DefaultPinAttempts, s.logger)
	}
	return s
}

// CreateSession opens a lobby for quizRef and hands the caller its host controller.
// A non-positive timeLimitSeconds uses the service default.
func (s *QuizService) CreateSession(ctx context.Context, quizRef string, timeLimitSeconds int) (*HostController, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizRef)
	if err != nil {
		return nil, err
	}
	if len(quiz.Questions) == 0 {
		return nil, domain.ErrEmptyQuiz
	}
	if timeLimitSeconds <= 0 {
		timeLimitSeconds = s.defaultTimeLimit
	}

	pin, err := s.pins.Allocate(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate pin: %w", err)
	}
	now, err := s.sessions.ServerTime(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, domain.Session{
		Pin:                  pin,
		HostKey:              s.newID(),
		Status:               domain.StatusLobby,
		QuizRef:              quiz.ID,
		TotalQuestions:       len(quiz.Questions),
		CurrentQuestionIndex: -1,
		TimeLimitSeconds:     timeLimitSeconds,
		CreatedAt:            now,
		UpdatedAt:            now,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Info("session created", "session", session.ID, "pin", session.Pin, "quiz", quiz.ID)
	return &HostController{service: s, sessionID: session.ID, hostKey: session.HostKey}, nil
}

// Host resumes host control of an existing session, e.g. after a host reconnect.
func (s *QuizService) Host(ctx context.Context, sessionID, hostKey string) (*HostController, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if hostKey == "" || subtle.ConstantTimeCompare([]byte(session.HostKey), []byte(hostKey)) != 1 {
		return nil, domain.ErrNotHost
	}
	return &HostController{service: s, sessionID: session.ID, hostKey: session.HostKey}, nil
}

// Session returns the current session document.
func (s *QuizService) Session(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// Participants returns the session's participants in join order.
func (s *QuizService) Participants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	return s.sessions.ListParticipants(ctx, sessionID)
}

// Participant looks up one participant of the session, e.g. for a player reconnect.
func (s *QuizService) Participant(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	participants, err := s.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return domain.Participant{}, err
	}
	for _, p := range participants {
		if p.ID == participantID {
			return p, nil
		}
	}
	return domain.Participant{}, domain.ErrParticipantNotFound
}

// CurrentQuestion returns the question the session is showing, if any. Lobby and ended
// sessions show none.
func (s *QuizService) CurrentQuestion(ctx context.Context, session domain.Session) (domain.Question, bool, error) {
	if session.Status == domain.StatusLobby || session.Status.Terminal() || session.CurrentQuestionIndex < 0 {
		return domain.Question{}, false, nil
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizRef)
	if err != nil {
		return domain.Question{}, false, err
	}
	if session.CurrentQuestionIndex >= len(quiz.Questions) {
		return domain.Question{}, false, nil
	}
	return quiz.Questions[session.CurrentQuestionIndex], true, nil
}

// JoinByPin registers a new participant in the lobby of the session holding pin.
// Sessions that have left the lobby are indistinguishable from unknown PINs.
func (s *QuizService) JoinByPin(ctx context.Context, pin, name string) (domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return domain.Participant{}, domain.ErrInvalidName
	}

	candidates, err := s.sessions.FindSessionsByPin(ctx, pin)
	if err != nil {
		return domain.Participant{}, err
	}
	var target *domain.Session
	for i := range candidates {
		c := &candidates[i]
		if c.Status != domain.StatusLobby {
			continue
		}
		// A PIN handed out after allocation exhaustion can be shared; the newest lobby wins.
		if target == nil || c.CreatedAt.After(target.CreatedAt) {
			target = c
		}
	}
	if target == nil {
		return domain.Participant{}, domain.ErrSessionNotFound
	}

	now, err := s.sessions.ServerTime(ctx)
	if err != nil {
		return domain.Participant{}, err
	}
	participant, err := s.sessions.AddParticipant(ctx, target.ID, domain.Participant{
		ID:                s.newID(),
		Name:              name,
		LastAnsweredIndex: -1,
		Answers:           map[int]domain.AnswerRecord{},
		JoinedAt:          now,
	}, func(current domain.Session) error {
		if current.Status != domain.StatusLobby {
			return domain.ErrSessionNotFound
		}
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	s.logger.Info("participant joined", "session", target.ID, "participant", participant.ID)
	return participant, nil
}

// SubmitAnswer records a participant's answer for the current question. Late, stale and
// repeated submissions are not errors: they come back as a non-accepted outcome and
// leave the score untouched.
func (s *QuizService) SubmitAnswer(ctx context.Context, sessionID, participantID string, submission domain.AnswerSubmission) (domain.AnswerOutcome, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizRef)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	if submission.QuestionIndex < 0 || submission.QuestionIndex >= len(quiz.Questions) {
		return domain.AnswerOutcome{}, domain.ErrQuestionNotFound
	}
	option, ok := quiz.Questions[submission.QuestionIndex].Option(submission.OptionID)
	if !ok {
		return domain.AnswerOutcome{}, domain.ErrOptionNotFound
	}

	now, err := s.sessions.ServerTime(ctx)
	if err != nil {
		return domain.AnswerOutcome{}, err
	}

	var outcome domain.AnswerOutcome
	participant, err := s.sessions.UpdateParticipant(ctx, sessionID, participantID,
		func(current domain.Session, p *domain.Participant) (bool, error) {
			// Stores may rerun the mutation after losing an optimistic race.
			outcome = domain.AnswerOutcome{Reason: domain.OutcomeStale}
			idx := submission.QuestionIndex
			if current.Status != domain.StatusQuestion || current.CurrentQuestionIndex != idx {
				return false, nil
			}
			if prior, done := p.Answers[idx]; done {
				outcome.Reason = domain.OutcomeDuplicate
				outcome.Record = prior
				return false, nil
			}
			// now was read before the question opened: the answer targets a question the
			// player could not have seen yet.
			if now.Before(current.QuestionStartedAt) {
				return false, nil
			}
			elapsed := now.Sub(current.QuestionStartedAt)
			if elapsed > current.TimeLimit() {
				outcome.Reason = domain.OutcomeLate
				return false, nil
			}

			record := domain.AnswerRecord{
				QuestionIndex:   idx,
				OptionID:        option.ID,
				Correct:         option.Correct,
				Points:          Score(option.Correct, elapsed, current.TimeLimitSeconds),
				ElapsedMs:       elapsed.Milliseconds(),
				ClientElapsedMs: submission.ClientElapsedMs,
				AnsweredAt:      now,
			}
			if p.Answers == nil {
				p.Answers = map[int]domain.AnswerRecord{}
			}
			p.Answers[idx] = record
			p.Score += record.Points
			p.AnsweredCurrentQuestion = true
			p.LastAnsweredIndex = idx

			outcome.Accepted = true
			outcome.Reason = domain.OutcomeAccepted
			outcome.Record = record
			return true, nil
		})
	if err != nil {
		return domain.AnswerOutcome{}, err
	}
	outcome.TotalScore = participant.Score
	if !outcome.Accepted {
		s.logger.Debug("answer ignored", "session", sessionID, "participant", participantID,
			"question", submission.QuestionIndex, "reason", outcome.Reason)
	}
	return outcome, nil
}

// OnSessionChange feeds the session document to a subscriber, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *QuizService) OnSessionChange(ctx context.Context, sessionID string) (<-chan domain.Session, func(), error) {
	return s.sessions.WatchSession(ctx, sessionID)
}

// OnParticipantsChange feeds the participant list (join order) to a subscriber.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *QuizService) OnParticipantsChange(ctx context.Context, sessionID string) (<-chan []domain.Participant, func(), error) {
	return s.sessions.WatchParticipants(ctx, sessionID)
}

func (s *QuizService) advanceQuestion(ctx context.Context, sessionID string, index int) (domain.Session, error) {
	now, err := s.sessions.ServerTime(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	applied := false
	session, err := s.sessions.UpdateAll(ctx, sessionID, func(session *domain.Session, participants []domain.Participant) (bool, error) {
		changed, err := beginQuestion(session, participants, index, now)
		applied = changed
		return changed, err
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.logTransition(session, applied)
	return session, nil
}

func (s *QuizService) revealAnswer(ctx context.Context, sessionID string, index int) (domain.Session, error) {
	return s.updateStatus(ctx, sessionID, domain.StatusAnswerReveal, index, nil)
}

func (s *QuizService) showLeaderboard(ctx context.Context, sessionID string, index int) (domain.Session, error) {
	participants, err := s.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	board := CompileLeaderboard(participants, s.tiePolicy)
	return s.updateStatus(ctx, sessionID, domain.StatusLeaderboard, index, func(session *domain.Session) {
		session.Leaderboard = board
	})
}

func (s *QuizService) endSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return s.updateStatus(ctx, sessionID, domain.StatusEnded, 0, nil)
}

func (s *QuizService) updateStatus(ctx context.Context, sessionID string, target domain.Status, index int, onApply func(*domain.Session)) (domain.Session, error) {
	applied := false
	session, err := s.sessions.UpdateSession(ctx, sessionID, func(session *domain.Session) (bool, error) {
		changed, err := transition(session, target, index)
		if changed && onApply != nil {
			onApply(session)
		}
		applied = changed
		return changed, err
	})
	if err != nil {
		return domain.Session{}, err
	}
	s.logTransition(session, applied)
	return session, nil
}

func (s *QuizService) logTransition(session domain.Session, applied bool) {
	if !applied {
		s.logger.Debug("stale transition ignored", "session", session.ID,
			"status", session.Status.String(), "question", session.CurrentQuestionIndex)
		return
	}
	s.logger.Info("session transition", "session", session.ID,
		"status", session.Status.String(), "question", session.CurrentQuestionIndex)
}
