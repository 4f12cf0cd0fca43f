package agent

import (
	"context"
	"fmt"
	"sync"
)

// ConflictPolicy decides what happens when a run is started or resumed for
// a conversation that already has an active run.
type ConflictPolicy string

const (
	// ConflictReject fails the second caller with ErrRunAlreadyActive.
	ConflictReject ConflictPolicy = "reject"

	// ConflictWait blocks the second caller until the first finishes or its
	// context ends.
	ConflictWait ConflictPolicy = "wait"
)

// conversationLock is a one-slot semaphore shared by every caller that
// currently wants the conversation. refs counts those callers so the entry
// can be dropped once nobody holds or waits for it.
type conversationLock struct {
	slot chan struct{}
	refs int
}

// conversationLocks enforces one active writer per conversation key.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*conversationLock
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*conversationLock)}
}

func (c *conversationLocks) ref(key string) *conversationLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &conversationLock{slot: make(chan struct{}, 1)}
		c.locks[key] = l
	}
	l.refs++
	return l
}

func (c *conversationLocks) unref(key string, l *conversationLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l.refs--
	if l.refs <= 0 {
		delete(c.locks, key)
	}
}

// acquire takes the conversation slot according to policy and returns the
// release function.
func (c *conversationLocks) acquire(ctx context.Context, key string, policy ConflictPolicy) (func(), error) {
	l := c.ref(key)
	var once sync.Once
	release := func() {
		once.Do(func() {
			<-l.slot
			c.unref(key, l)
		})
	}

	select {
	case l.slot <- struct{}{}:
		return release, nil
	default:
	}

	if policy != ConflictWait {
		c.unref(key, l)
		return nil, fmt.Errorf("%w: %s", ErrRunAlreadyActive, key)
	}

	select {
	case l.slot <- struct{}{}:
		return release, nil
	case <-ctx.Done():
		c.unref(key, l)
		return nil, fmt.Errorf("%w: waiting for conversation %s: %v", ErrCancelled, key, ctx.Err())
	}
}

// active reports whether a run currently holds key.
func (c *conversationLocks) active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	return ok && len(l.slot) > 0
}
