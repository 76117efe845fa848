package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle phase of a live quiz session.
type Status uint8

const (
	StatusLobby Status = iota
	StatusQuestion
	StatusAnswerReveal
	StatusLeaderboard
	StatusEnded
)

var statusNames = [...]string{
	StatusLobby:        "lobby",
	StatusQuestion:     "question",
	StatusAnswerReveal: "answer_reveal",
	StatusLeaderboard:  "leaderboard",
	StatusEnded:        "ended",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no further transitions are accepted.
func (s Status) Terminal() bool {
	return s == StatusEnded
}

func (s Status) MarshalText() ([]byte, error) {
	if int(s) >= len(statusNames) {
		return nil, fmt.Errorf("unknown session status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", text)
}

// Session is one run of a quiz, from lobby to ended.
type Session struct {
	ID                   string             `json:"id"`
	Pin                  string             `json:"pin"`
	HostKey              string             `json:"hostKey,omitempty"`
	Status               Status             `json:"status"`
	QuizRef              string             `json:"quizRef"`
	TotalQuestions       int                `json:"totalQuestions"`
	CurrentQuestionIndex int                `json:"currentQuestionIndex"`
	QuestionStartedAt    time.Time          `json:"questionStartedAt"`
	TimeLimitSeconds     int                `json:"timeLimitSeconds"`
	Leaderboard          []LeaderboardEntry `json:"leaderboard,omitempty"`
	CreatedAt            time.Time          `json:"createdAt"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

// TimeLimit is the per-question answer window.
func (s Session) TimeLimit() time.Duration {
	return time.Duration(s.TimeLimitSeconds) * time.Second
}

// Deadline is when the current question stops accepting answers.
// It is the zero time outside the question phase.
func (s Session) Deadline() time.Time {
	if s.Status != StatusQuestion {
		return time.Time{}
	}
	return s.QuestionStartedAt.Add(s.TimeLimit())
}

// Participant is one joined player within a session.
type Participant struct {
	ID                      string               `json:"id"`
	SessionID               string               `json:"sessionId"`
	Name                    string               `json:"name"`
	Score                   int                  `json:"score"`
	AnsweredCurrentQuestion bool                 `json:"answeredCurrentQuestion"`
	LastAnsweredIndex       int                  `json:"lastAnsweredIndex"`
	Answers                 map[int]AnswerRecord `json:"answers"`
	JoinSeq                 int64                `json:"joinSeq"`
	JoinedAt                time.Time            `json:"joinedAt"`
}

// HasAnswered reports whether the participant answered the question at currentIndex.
// The flag alone is not trusted: a reset that never landed leaves it stale, so the
// last answered index must match as well.
func (p Participant) HasAnswered(currentIndex int) bool {
	return p.AnsweredCurrentQuestion && p.LastAnsweredIndex == currentIndex
}

// TotalElapsed sums the server-observed answer time over all recorded answers.
func (p Participant) TotalElapsed() int64 {
	var total int64
	for _, a := range p.Answers {
		total += a.ElapsedMs
	}
	return total
}

// AnswerRecord is the write-once result of one submission.
type AnswerRecord struct {
	QuestionIndex   int       `json:"questionIndex"`
	OptionID        string    `json:"optionId"`
	Correct         bool      `json:"correct"`
	Points          int       `json:"points"`
	ElapsedMs       int64     `json:"elapsedMs"`
	ClientElapsedMs int64     `json:"clientElapsedMs"`
	AnsweredAt      time.Time `json:"answeredAt"`
}

// LeaderboardEntry is a ranked snapshot of a participant.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
}

// AnswerSubmission models the answer signal from a participant client.
type AnswerSubmission struct {
	QuestionIndex   int
	OptionID        string
	ClientElapsedMs int64
}

// OutcomeReason explains why a submission was or was not recorded.
type OutcomeReason string

const (
	OutcomeAccepted  OutcomeReason = "accepted"
	OutcomeDuplicate OutcomeReason = "duplicate"
	OutcomeStale     OutcomeReason = "stale"
	OutcomeLate      OutcomeReason = "late"
)

// AnswerOutcome summarizes a submission for the submitting participant.
type AnswerOutcome struct {
	Accepted   bool          `json:"accepted"`
	Reason     OutcomeReason `json:"reason"`
	Record     AnswerRecord  `json:"record"`
	TotalScore int           `json:"totalScore"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id" yaml:"id"`
	Prompt  string   `json:"prompt" yaml:"prompt"`
	Options []Option `json:"options" yaml:"options"`
}

// Option looks up an option by ID.
func (q Question) Option(id string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// Quiz is the static, ordered question list a session plays through.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Validate checks the shape the engine relies on: at least one question, and every
// question with unique option IDs and exactly one correct option.
func (quiz Quiz) Validate() error {
	if len(quiz.Questions) == 0 {
		return fmt.Errorf("quiz %s: %w", quiz.ID, ErrEmptyQuiz)
	}
	for i, q := range quiz.Questions {
		seen := make(map[string]struct{}, len(q.Options))
		correct := 0
		for _, opt := range q.Options {
			if _, dup := seen[opt.ID]; dup {
				return fmt.Errorf("quiz %s question %d: duplicate option %q", quiz.ID, i, opt.ID)
			}
			seen[opt.ID] = struct{}{}
			if opt.Correct {
				correct++
			}
		}
		if correct != 1 {
			return fmt.Errorf("quiz %s question %d: want exactly one correct option, got %d", quiz.ID, i, correct)
		}
	}
	return nil
}
