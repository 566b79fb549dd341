package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ledger-engine/pkg/apperror"

	"github.com/google/uuid"
)

// AccountLocker provides per-account exclusive sections. Multi-account
// acquisitions take the sections in ascending id order so that two operations
// touching the same pair in opposite directions cannot deadlock.
type AccountLocker struct {
	mu      sync.Mutex
	slots   map[uuid.UUID]*lockSlot
	timeout time.Duration
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewAccountLocker creates a locker whose acquisitions give up after timeout.
func NewAccountLocker(timeout time.Duration) *AccountLocker {
	return &AccountLocker{
		slots:   make(map[uuid.UUID]*lockSlot),
		timeout: timeout,
	}
}

// Acquire locks every distinct id and returns a release func. It fails with
// LockTimeout when the sections are not all obtained within the timeout, and
// with Cancelled when ctx ends first. On failure nothing stays locked.
func (l *AccountLocker) Acquire(ctx context.Context, ids ...uuid.UUID) (func(), error) {
	ordered := canonicalOrder(ids)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	held := make([]*lockSlot, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].ch
		}
		for i := len(held) - 1; i >= 0; i-- {
			l.unref(ordered[i])
		}
	}

	for _, id := range ordered {
		slot := l.ref(id)
		select {
		case slot.ch <- struct{}{}:
			held = append(held, slot)
		case <-timer.C:
			l.unref(id)
			release()
			return nil, apperror.ErrLockTimeout(fmt.Errorf("account %s busy for %s", id, l.timeout))
		case <-ctx.Done():
			l.unref(id)
			release()
			return nil, apperror.ErrCancelled(ctx.Err())
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (l *AccountLocker) ref(id uuid.UUID) *lockSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.slots[id]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[id] = slot
	}
	slot.refs++
	return slot
}

func (l *AccountLocker) unref(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot := l.slots[id]
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, id)
	}
}

// canonicalOrder de-duplicates ids and sorts them by their byte value.
func canonicalOrder(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
