package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. Each session and its
// participants form one aggregate guarded by the store lock, so every call is atomic.
type SessionStore struct {
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*aggregate
	pins     map[string]map[string]struct{}
}

type aggregate struct {
	session      domain.Session
	participants map[string]domain.Participant
	nextSeq      int64

	sessionSubs     map[chan domain.Session]struct{}
	participantSubs map[chan []domain.Participant]struct{}
}

var _ app.SessionStore = (*SessionStore)(nil)

func NewSessionStore() *SessionStore {
	return NewSessionStoreWithClock(time.Now)
}

// NewSessionStoreWithClock allows deterministic server timestamps in tests.
func NewSessionStoreWithClock(now func() time.Time) *SessionStore {
	return &SessionStore{
		now:      now,
		sessions: make(map[string]*aggregate),
		pins:     make(map[string]map[string]struct{}),
	}
}

func (s *SessionStore) ServerTime(_ context.Context) (time.Time, error) {
	return s.now(), nil
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session.ID = uuid.NewString()
	session.UpdatedAt = s.now()
	s.sessions[session.ID] = &aggregate{
		session:         cloneSession(session),
		participants:    make(map[string]domain.Participant),
		sessionSubs:     make(map[chan domain.Session]struct{}),
		participantSubs: make(map[chan []domain.Participant]struct{}),
	}
	if s.pins[session.Pin] == nil {
		s.pins[session.Pin] = make(map[string]struct{})
	}
	s.pins[session.Pin][session.ID] = struct{}{}
	return cloneSession(session), nil
}

func (s *SessionStore) GetSession(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return cloneSession(agg.session), nil
}

func (s *SessionStore) FindSessionsByPin(_ context.Context, pin string) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for id := range s.pins[pin] {
		out = append(out, cloneSession(s.sessions[id].session))
	}
	return out, nil
}

func (s *SessionStore) UpdateSession(_ context.Context, sessionID string, mutate app.SessionMutation) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	next := cloneSession(agg.session)
	changed, err := mutate(&next)
	if err != nil {
		return domain.Session{}, err
	}
	if !changed {
		return cloneSession(agg.session), nil
	}
	s.commitSessionLocked(agg, next)
	return cloneSession(next), nil
}

func (s *SessionStore) AddParticipant(_ context.Context, sessionID string, participant domain.Participant, admit func(domain.Session) error) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	if admit != nil {
		if err := admit(cloneSession(agg.session)); err != nil {
			return domain.Participant{}, err
		}
	}

	agg.nextSeq++
	participant.SessionID = sessionID
	participant.JoinSeq = agg.nextSeq
	agg.participants[participant.ID] = cloneParticipant(participant)
	agg.broadcastParticipantsLocked()
	return cloneParticipant(participant), nil
}

func (s *SessionStore) UpdateParticipant(_ context.Context, sessionID, participantID string, mutate app.ParticipantMutation) (domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	current, ok := agg.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}

	next := cloneParticipant(current)
	changed, err := mutate(cloneSession(agg.session), &next)
	if err != nil {
		return domain.Participant{}, err
	}
	if !changed {
		return cloneParticipant(current), nil
	}
	agg.participants[participantID] = next
	agg.broadcastParticipantsLocked()
	return cloneParticipant(next), nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return agg.participantsLocked(), nil
}

func (s *SessionStore) UpdateAll(_ context.Context, sessionID string, mutate app.BatchMutation) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}

	next := cloneSession(agg.session)
	participants := agg.participantsLocked()
	changed, err := mutate(&next, participants)
	if err != nil {
		return domain.Session{}, err
	}
	if !changed {
		return cloneSession(agg.session), nil
	}
	for _, p := range participants {
		if _, ok := agg.participants[p.ID]; ok {
			agg.participants[p.ID] = p
		}
	}
	s.commitSessionLocked(agg, next)
	agg.broadcastParticipantsLocked()
	return cloneSession(next), nil
}

func (s *SessionStore) WatchSession(ctx context.Context, sessionID string) (<-chan domain.Session, func(), error) {
	s.mu.Lock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, nil, domain.ErrSessionNotFound
	}
	ch := make(chan domain.Session, 8)
	agg.sessionSubs[ch] = struct{}{}
	ch <- cloneSession(agg.session)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := agg.sessionSubs[ch]; ok {
			delete(agg.sessionSubs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, withContext(ctx, cancel), nil
}

func (s *SessionStore) WatchParticipants(ctx context.Context, sessionID string) (<-chan []domain.Participant, func(), error) {
	s.mu.Lock()
	agg, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, nil, domain.ErrSessionNotFound
	}
	ch := make(chan []domain.Participant, 8)
	agg.participantSubs[ch] = struct{}{}
	ch <- agg.participantsLocked()
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := agg.participantSubs[ch]; ok {
			delete(agg.participantSubs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, withContext(ctx, cancel), nil
}

func (s *SessionStore) commitSessionLocked(agg *aggregate, next domain.Session) {
	next.UpdatedAt = s.now()
	if next.Status.Terminal() {
		delete(s.pins[next.Pin], next.ID)
		if len(s.pins[next.Pin]) == 0 {
			delete(s.pins, next.Pin)
		}
	}
	agg.session = next
	snapshot := cloneSession(next)
	for ch := range agg.sessionSubs {
		publish(ch, snapshot)
	}
}

func (a *aggregate) participantsLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(a.participants))
	for _, p := range a.participants {
		out = append(out, cloneParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinSeq < out[j].JoinSeq })
	return out
}

func (a *aggregate) broadcastParticipantsLocked() {
	if len(a.participantSubs) == 0 {
		return
	}
	for ch := range a.participantSubs {
		publish(ch, a.participantsLocked())
	}
}

// publish never blocks: a full subscriber loses its oldest pending snapshot.
func publish[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// withContext ties cancel to ctx so an abandoned subscription is still released.
func withContext(ctx context.Context, cancel func()) func() {
	stop := context.AfterFunc(ctx, cancel)
	return func() {
		stop()
		cancel()
	}
}

func cloneSession(s domain.Session) domain.Session {
	if s.Leaderboard != nil {
		s.Leaderboard = append([]domain.LeaderboardEntry(nil), s.Leaderboard...)
	}
	return s
}

func cloneParticipant(p domain.Participant) domain.Participant {
	answers := make(map[int]domain.AnswerRecord, len(p.Answers))
	for k, v := range p.Answers {
		answers[k] = v
	}
	p.Answers = answers
	return p
}
