package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func newLobby(t *testing.T, store *SessionStore, pin string) domain.Session {
	t.Helper()
	session, err := store.CreateSession(context.Background(), domain.Session{
		Pin:                  pin,
		Status:               domain.StatusLobby,
		QuizRef:              "quiz-1",
		TotalQuestions:       2,
		CurrentQuestionIndex: -1,
		TimeLimitSeconds:     20,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func addPlayer(t *testing.T, store *SessionStore, sessionID, id, name string) domain.Participant {
	t.Helper()
	p, err := store.AddParticipant(context.Background(), sessionID, domain.Participant{
		ID:                id,
		Name:              name,
		LastAnsweredIndex: -1,
	}, nil)
	if err != nil {
		t.Fatalf("add participant %s: %v", id, err)
	}
	return p
}

func TestSessionStoreCreateAndFindByPin(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()

	a := newLobby(t, store, "123456")
	b := newLobby(t, store, "123456")
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected distinct generated ids, got %q and %q", a.ID, b.ID)
	}

	found, err := store.FindSessionsByPin(ctx, "123456")
	if err != nil {
		t.Fatalf("find by pin: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 sessions sharing the pin, got %d", len(found))
	}

	if _, err := store.UpdateSession(ctx, a.ID, func(s *domain.Session) (bool, error) {
		s.Status = domain.StatusEnded
		return true, nil
	}); err != nil {
		t.Fatalf("end session: %v", err)
	}
	found, _ = store.FindSessionsByPin(ctx, "123456")
	if len(found) != 1 || found[0].ID != b.ID {
		t.Fatalf("ended session should release its pin, got %+v", found)
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStoreParticipantsKeepJoinOrder(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	session := newLobby(t, store, "000001")

	for _, id := range []string{"p3", "p1", "p2"} {
		addPlayer(t, store, session.ID, id, "player "+id)
	}
	list, err := store.ListParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{list[0].ID, list[1].ID, list[2].ID}
	want := []string{"p3", "p1", "p2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected join order %v, got %v", want, got)
		}
		if list[i].SessionID != session.ID || list[i].JoinSeq != int64(i+1) {
			t.Fatalf("unexpected participant bookkeeping: %+v", list[i])
		}
	}
}

func TestSessionStoreAdmitRejects(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	session := newLobby(t, store, "000002")

	_, err := store.AddParticipant(ctx, session.ID, domain.Participant{ID: "p1", Name: "Ann"}, func(domain.Session) error {
		return domain.ErrSessionNotFound
	})
	if !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected admit error, got %v", err)
	}
	list, _ := store.ListParticipants(ctx, session.ID)
	if len(list) != 0 {
		t.Fatalf("rejected participant must not be stored, got %d", len(list))
	}
}

func TestSessionStoreUnchangedMutationSkipsWrite(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewSessionStoreWithClock(func() time.Time { return clock })
	session := newLobby(t, store, "000003")

	updates, cancel, err := store.WatchSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	<-updates

	clock = clock.Add(time.Minute)
	got, err := store.UpdateSession(ctx, session.ID, func(s *domain.Session) (bool, error) {
		s.Status = domain.StatusQuestion
		return false, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != domain.StatusLobby || !got.UpdatedAt.Equal(session.UpdatedAt) {
		t.Fatalf("a declined mutation must leave the document untouched, got %+v", got)
	}
	select {
	case s := <-updates:
		t.Fatalf("no push expected for a skipped write, got %+v", s)
	default:
	}
}

func TestSessionStoreUpdateAllIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	session := newLobby(t, store, "000004")
	addPlayer(t, store, session.ID, "p1", "Ann")
	addPlayer(t, store, session.ID, "p2", "Ben")

	_, err := store.UpdateAll(ctx, session.ID, func(s *domain.Session, ps []domain.Participant) (bool, error) {
		s.Status = domain.StatusQuestion
		for i := range ps {
			ps[i].AnsweredCurrentQuestion = true
		}
		return false, errors.New("boom")
	})
	if err == nil {
		t.Fatalf("expected mutation error")
	}
	list, _ := store.ListParticipants(ctx, session.ID)
	for _, p := range list {
		if p.AnsweredCurrentQuestion {
			t.Fatalf("failed batch leaked a participant write: %+v", p)
		}
	}

	updated, err := store.UpdateAll(ctx, session.ID, func(s *domain.Session, ps []domain.Participant) (bool, error) {
		s.Status = domain.StatusQuestion
		s.CurrentQuestionIndex = 0
		for i := range ps {
			ps[i].Score = 10
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("update all: %v", err)
	}
	if updated.Status != domain.StatusQuestion {
		t.Fatalf("expected question, got %s", updated.Status)
	}
	list, _ = store.ListParticipants(ctx, session.ID)
	for _, p := range list {
		if p.Score != 10 {
			t.Fatalf("expected batch write on %s, got %+v", p.ID, p)
		}
	}
}

func TestSessionStoreUpdateParticipantSeesSession(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	session := newLobby(t, store, "000005")
	addPlayer(t, store, session.ID, "p1", "Ann")

	var seen domain.Status
	_, err := store.UpdateParticipant(ctx, session.ID, "p1", func(s domain.Session, p *domain.Participant) (bool, error) {
		seen = s.Status
		p.Score = 5
		return true, nil
	})
	if err != nil {
		t.Fatalf("update participant: %v", err)
	}
	if seen != domain.StatusLobby {
		t.Fatalf("mutation should observe the session, saw %s", seen)
	}

	if _, err := store.UpdateParticipant(ctx, session.ID, "ghost", func(domain.Session, *domain.Participant) (bool, error) {
		return true, nil
	}); !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
}

func TestSessionStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewSessionStore()
	session := newLobby(t, store, "000006")
	addPlayer(t, store, session.ID, "p1", "Ann")

	list, _ := store.ListParticipants(ctx, session.ID)
	list[0].Answers = map[int]domain.AnswerRecord{0: {Points: 999}}
	list[0].Score = 999

	again, _ := store.ListParticipants(ctx, session.ID)
	if again[0].Score != 0 || len(again[0].Answers) != 0 {
		t.Fatalf("caller mutation leaked into the store: %+v", again[0])
	}
}

func TestWatchParticipantsDropsOldestAndCancels(t *testing.T) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	store := NewSessionStore()
	session := newLobby(t, store, "000007")

	feed, cancel, err := store.WatchParticipants(ctx, session.ID)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	// Overflow the buffer without reading.
	for i := 0; i < 20; i++ {
		addPlayer(t, store, session.ID, string(rune('a'+i)), "p")
	}
	var last []domain.Participant
	for len(feed) > 0 {
		last = <-feed
	}
	if len(last) != 20 {
		t.Fatalf("slow reader should still end on the latest snapshot, got %d participants", len(last))
	}

	cancelCtx()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-feed:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("feed not closed after context cancel")
		}
	}
}
