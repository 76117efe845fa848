package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no joinable or addressable session matches.
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrParticipantNotFound is returned when a participant is not part of the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEmptyQuiz indicates quiz content with no questions.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrQuestionNotFound indicates a question index outside the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrInvalidTransition is returned for a transition that skips ahead of the session.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrNoMoreQuestions is returned when advancing past the last question.
	ErrNoMoreQuestions = errors.New("no more questions")
	// ErrNotHost is returned when a host key does not match the session.
	ErrNotHost = errors.New("not the session host")
	// ErrInvalidName rejects empty or oversized display names.
	ErrInvalidName = errors.New("invalid participant name")
	// ErrContention is returned when an atomic update keeps losing to concurrent writers.
	ErrContention = errors.New("too much contention on session")
)
