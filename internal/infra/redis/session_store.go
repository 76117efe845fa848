package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// maxTxAttempts bounds optimistic retries before ErrContention is returned.
const maxTxAttempts = 32

const (
	eventSession      = "session"
	eventParticipants = "participants"
)

// SessionStore is a Redis implementation of app.SessionStore.
//
// Layout per session:
//
//	livequiz:session:{id}                   JSON session document
//	livequiz:session:{id}:participant:{pid} JSON participant document
//	livequiz:session:{id}:roster            ZSET pid scored by join sequence
//	livequiz:session:{id}:seq               join sequence counter
//	livequiz:pin:{pin}                      SET of session ids holding the PIN
//
// Writes are WATCH/MULTI/EXEC transactions. Answer submissions watch only the session
// and their own participant key, so players never contend with each other. Change
// notices are PUBLISHed on livequiz:events:{id} inside the same transaction.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ app.SessionStore = (*SessionStore)(nil)

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client: client,
		ttl:    ttl,
		logger: slog.Default(),
	}
}

func sessionKey(id string) string { return "livequiz:session:" + id }

func participantKey(sessionID, participantID string) string {
	return sessionKey(sessionID) + ":participant:" + participantID
}

func rosterKey(id string) string { return sessionKey(id) + ":roster" }

func seqKey(id string) string { return sessionKey(id) + ":seq" }

func pinKey(pin string) string { return "livequiz:pin:" + pin }

func eventsChannel(id string) string { return "livequiz:events:" + id }

// ServerTime reads the Redis server clock so every instance shares one time reference.
func (s *SessionStore) ServerTime(ctx context.Context) (time.Time, error) {
	return s.client.Time(ctx).Result()
}

func (s *SessionStore) CreateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	session.ID = uuid.NewString()
	data, err := json.Marshal(session)
	if err != nil {
		return domain.Session{}, fmt.Errorf("encode session: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
		pipe.SAdd(ctx, pinKey(session.Pin), session.ID)
		if s.ttl > 0 {
			pipe.Expire(ctx, pinKey(session.Pin), s.ttl)
		}
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	return loadSession(ctx, s.client, sessionID)
}

func (s *SessionStore) FindSessionsByPin(ctx context.Context, pin string) ([]domain.Session, error) {
	ids, err := s.client.SMembers(ctx, pinKey(pin)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue // expired
		}
		var session domain.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, sessionID string, mutate app.SessionMutation) (domain.Session, error) {
	var result domain.Session
	err := s.transact(ctx, func(tx *redis.Tx) error {
		current, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		next := current
		changed, err := mutate(&next)
		if err != nil {
			return err
		}
		if !changed {
			result = current
			return nil
		}
		if next.UpdatedAt, err = tx.Time(ctx).Result(); err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sessionKey(sessionID), data, s.ttl)
			if next.Status.Terminal() {
				pipe.SRem(ctx, pinKey(next.Pin), sessionID)
			}
			pipe.Publish(ctx, eventsChannel(sessionID), eventSession)
			return nil
		})
		result = next
		return err
	}, sessionKey(sessionID))
	return result, err
}

func (s *SessionStore) AddParticipant(ctx context.Context, sessionID string, participant domain.Participant, admit func(domain.Session) error) (domain.Participant, error) {
	// The sequence only orders joins; a gap left by a rejected join is harmless.
	seq, err := s.client.Incr(ctx, seqKey(sessionID)).Result()
	if err != nil {
		return domain.Participant{}, err
	}
	participant.SessionID = sessionID
	participant.JoinSeq = seq
	data, err := json.Marshal(participant)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("encode participant: %w", err)
	}

	err = s.transact(ctx, func(tx *redis.Tx) error {
		current, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if admit != nil {
			if err := admit(current); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, participantKey(sessionID, participant.ID), data, s.ttl)
			pipe.ZAdd(ctx, rosterKey(sessionID), redis.Z{Score: float64(seq), Member: participant.ID})
			if s.ttl > 0 {
				pipe.Expire(ctx, rosterKey(sessionID), s.ttl)
				pipe.Expire(ctx, seqKey(sessionID), s.ttl)
			}
			pipe.Publish(ctx, eventsChannel(sessionID), eventParticipants)
			return nil
		})
		return err
	}, sessionKey(sessionID))
	if err != nil {
		return domain.Participant{}, err
	}
	return participant, nil
}

func (s *SessionStore) UpdateParticipant(ctx context.Context, sessionID, participantID string, mutate app.ParticipantMutation) (domain.Participant, error) {
	key := participantKey(sessionID, participantID)
	var result domain.Participant
	err := s.transact(ctx, func(tx *redis.Tx) error {
		session, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		current, err := loadParticipant(ctx, tx, key)
		if err != nil {
			return err
		}
		next := current
		next.Answers = make(map[int]domain.AnswerRecord, len(current.Answers))
		for k, v := range current.Answers {
			next.Answers[k] = v
		}
		changed, err := mutate(session, &next)
		if err != nil {
			return err
		}
		if !changed {
			result = current
			return nil
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode participant: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.Publish(ctx, eventsChannel(sessionID), eventParticipants)
			return nil
		})
		result = next
		return err
	}, sessionKey(sessionID), key)
	return result, err
}

func (s *SessionStore) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	if _, err := loadSession(ctx, s.client, sessionID); err != nil {
		return nil, err
	}
	return loadRoster(ctx, s.client, sessionID)
}

func (s *SessionStore) UpdateAll(ctx context.Context, sessionID string, mutate app.BatchMutation) (domain.Session, error) {
	var result domain.Session
	err := s.transact(ctx, func(tx *redis.Tx) error {
		current, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		ids, err := tx.ZRange(ctx, rosterKey(sessionID), 0, -1).Result()
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			keys := make([]string, len(ids))
			for i, id := range ids {
				keys[i] = participantKey(sessionID, id)
			}
			if err := tx.Watch(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		participants, err := loadParticipants(ctx, tx, sessionID, ids)
		if err != nil {
			return err
		}

		next := current
		changed, err := mutate(&next, participants)
		if err != nil {
			return err
		}
		if !changed {
			result = current
			return nil
		}
		if next.UpdatedAt, err = tx.Time(ctx).Result(); err != nil {
			return err
		}
		sessionData, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		encoded := make([][]byte, len(participants))
		for i, p := range participants {
			if encoded[i], err = json.Marshal(p); err != nil {
				return fmt.Errorf("encode participant: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, p := range participants {
				pipe.Set(ctx, participantKey(sessionID, p.ID), encoded[i], s.ttl)
			}
			pipe.Set(ctx, sessionKey(sessionID), sessionData, s.ttl)
			if next.Status.Terminal() {
				pipe.SRem(ctx, pinKey(next.Pin), sessionID)
			}
			pipe.Publish(ctx, eventsChannel(sessionID), eventSession)
			pipe.Publish(ctx, eventsChannel(sessionID), eventParticipants)
			return nil
		})
		result = next
		return err
	}, sessionKey(sessionID), rosterKey(sessionID))
	return result, err
}

func (s *SessionStore) WatchSession(ctx context.Context, sessionID string) (<-chan domain.Session, func(), error) {
	return watch(ctx, s, sessionID, eventSession, func(ctx context.Context) (domain.Session, error) {
		return s.GetSession(ctx, sessionID)
	})
}

func (s *SessionStore) WatchParticipants(ctx context.Context, sessionID string) (<-chan []domain.Participant, func(), error) {
	return watch(ctx, s, sessionID, eventParticipants, func(ctx context.Context) ([]domain.Participant, error) {
		return s.ListParticipants(ctx, sessionID)
	})
}

// watch subscribes before reading the first snapshot, so no change can fall between the
// two. Each notice triggers a fresh read; readers reconcile on whole snapshots.
func watch[T any](ctx context.Context, s *SessionStore, sessionID, kind string, load func(context.Context) (T, error)) (<-chan T, func(), error) {
	pubsub := s.client.Subscribe(ctx, eventsChannel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}
	initial, err := load(ctx)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	watchCtx, cancelCtx := context.WithCancel(ctx)
	out := make(chan T, 8)
	out <- initial
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(out)
		// Covers a caller ctx that ends without cancel being called.
		defer func() { _ = pubsub.Close() }()
		notices := pubsub.Channel()
		for {
			select {
			case <-watchCtx.Done():
				return
			case msg, ok := <-notices:
				if !ok {
					return
				}
				if msg.Payload != kind {
					continue
				}
				snapshot, err := load(watchCtx)
				if err != nil {
					if watchCtx.Err() == nil {
						s.logger.Warn("reload after change notice failed", "session", sessionID, "feed", kind, "error", err)
					}
					continue
				}
				publish(out, snapshot)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			_ = pubsub.Close()
			<-done
		})
	}
	return out, cancel, nil
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

// transact runs fn under WATCH keys, retrying when a concurrent writer wins the race.
func (s *SessionStore) transact(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return domain.ErrContention
}

// reader is the read surface shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	ZRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func loadSession(ctx context.Context, c reader, sessionID string) (domain.Session, error) {
	raw, err := c.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

func loadParticipant(ctx context.Context, c reader, key string) (domain.Participant, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, err
	}
	var p domain.Participant
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	return p, nil
}

func loadRoster(ctx context.Context, c reader, sessionID string) ([]domain.Participant, error) {
	ids, err := c.ZRange(ctx, rosterKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return loadParticipants(ctx, c, sessionID, ids)
}

// loadParticipants reads ids in the given (join) order, skipping expired documents.
func loadParticipants(ctx context.Context, c reader, sessionID string, ids []string) ([]domain.Participant, error) {
	if len(ids) == 0 {
		return []domain.Participant{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(sessionID, id)
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.Participant, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
