package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// DefaultPinAttempts bounds collision retries before a best-effort PIN is handed out.
const DefaultPinAttempts = 10

const pinSpace = 1000000

// PinAllocator draws 6-digit join codes that are unique among non-terminal sessions.
// Ended sessions release their PIN for reuse.
type PinAllocator struct {
	store    SessionStore
	attempts int
	logger   *slog.Logger

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewPinAllocator(store SessionStore, attempts int, logger *slog.Logger) *PinAllocator {
	if attempts <= 0 {
		attempts = DefaultPinAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PinAllocator{
		store:    store,
		attempts: attempts,
		logger:   logger,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSource swaps the random source; tests use it for deterministic draws.
func (a *PinAllocator) WithSource(src rand.Source) *PinAllocator {
	a.mu.Lock()
	a.rnd = rand.New(src)
	a.mu.Unlock()
	return a
}

// Allocate returns a PIN free among active sessions. After exhausting its attempts it
// returns the last candidate anyway rather than fail session creation.
func (a *PinAllocator) Allocate(ctx context.Context) (string, error) {
	var candidate string
	for attempt := 1; attempt <= a.attempts; attempt++ {
		candidate = a.draw()
		taken, err := a.inUse(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		a.logger.Debug("pin collision", "pin", candidate, "attempt", attempt)
	}
	a.logger.Warn("pin allocation exhausted retries, reusing active pin", "pin", candidate, "attempts", a.attempts)
	return candidate, nil
}

func (a *PinAllocator) draw() string {
	a.mu.Lock()
	n := a.rnd.Intn(pinSpace)
	a.mu.Unlock()
	return fmt.Sprintf("%06d", n)
}

func (a *PinAllocator) inUse(ctx context.Context, pin string) (bool, error) {
	sessions, err := a.store.FindSessionsByPin(ctx, pin)
	if err != nil {
		return false, fmt.Errorf("check pin %s: %w", pin, err)
	}
	for _, s := range sessions {
		if !s.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}
