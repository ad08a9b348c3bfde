// Package throttle limits how often lesson progress heartbeats are persisted.
package throttle

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most one action per key per window.
type Limiter interface {
	// Allow reports whether the action may proceed now and, if not, how long until it may.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// Key builds the throttle key for a (user, course, lesson) heartbeat.
func Key(userID, courseID, lessonID string) string {
	return "progress:" + userID + ":" + courseID + ":" + lessonID
}

// Nop admits everything.
type Nop struct{}

// Allow always admits.
func (Nop) Allow(context.Context, string) (bool, time.Duration, error) { return true, 0, nil }

// Memory is an in-process limiter.
type Memory struct {
	mu     sync.Mutex
	window time.Duration
	until  map[string]time.Time
	now    func() time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(window time.Duration) *Memory {
	return &Memory{window: window, until: make(map[string]time.Time), now: time.Now}
}

// Allow admits key if its previous window has elapsed.
func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if u, ok := m.until[key]; ok && u.After(now) {
		return false, u.Sub(now), nil
	}
	m.until[key] = now.Add(m.window)
	return true, 0, nil
}
