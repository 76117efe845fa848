package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// SessionMutation edits a session document in place. Returning false skips the write.
type SessionMutation func(session *domain.Session) (bool, error)

// ParticipantMutation edits one participant document, observing the session document
// as of the same atomic read. Returning false skips the write.
type ParticipantMutation func(session domain.Session, participant *domain.Participant) (bool, error)

// BatchMutation edits the session and every participant as one atomic batch.
// Returning false skips the write.
type BatchMutation func(session *domain.Session, participants []domain.Participant) (bool, error)

// SessionStore is the document store capability the engine runs on (in-memory, Redis, etc).
// Every write is atomic per call; UpdateAll spans the session and all its participants.
type SessionStore interface {
	// ServerTime is the store's clock, the reference for question timers.
	ServerTime(ctx context.Context) (time.Time, error)

	CreateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	GetSession(ctx context.Context, sessionID string) (domain.Session, error)
	FindSessionsByPin(ctx context.Context, pin string) ([]domain.Session, error)
	UpdateSession(ctx context.Context, sessionID string, mutate SessionMutation) (domain.Session, error)

	// AddParticipant inserts a participant if admit accepts the current session document.
	AddParticipant(ctx context.Context, sessionID string, participant domain.Participant, admit func(domain.Session) error) (domain.Participant, error)
	UpdateParticipant(ctx context.Context, sessionID, participantID string, mutate ParticipantMutation) (domain.Participant, error)
	// ListParticipants returns participants in join order.
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	UpdateAll(ctx context.Context, sessionID string, mutate BatchMutation) (domain.Session, error)

	// WatchSession and WatchParticipants push the current snapshot, then one snapshot per
	// change. Slow readers only see the latest one. The cancel func must be called.
	WatchSession(ctx context.Context, sessionID string) (<-chan domain.Session, func(), error)
	WatchParticipants(ctx context.Context, sessionID string) (<-chan []domain.Participant, func(), error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}
