package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountLocker_ExclusiveSection(t *testing.T) {
	locker := NewAccountLocker(time.Second)
	id := uuid.New()

	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), id)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Empty(t, locker.slots)
}

func TestAccountLocker_OppositeOrderDoesNotDeadlock(t *testing.T) {
	locker := NewAccountLocker(2 * time.Second)
	a, b := uuid.New(), uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if release, err := locker.Acquire(context.Background(), a, b); assert.NoError(t, err) {
				release()
			}
		}()
		go func() {
			defer wg.Done()
			if release, err := locker.Acquire(context.Background(), b, a); assert.NoError(t, err) {
				release()
			}
		}()
	}
	wg.Wait()
}

func TestAccountLocker_Timeout(t *testing.T) {
	locker := NewAccountLocker(20 * time.Millisecond)
	a, b := uuid.New(), uuid.New()

	release, err := locker.Acquire(context.Background(), b)
	require.NoError(t, err)
	defer release()

	_, err = locker.Acquire(context.Background(), a, b)
	assert.Equal(t, apperror.CodeLockTimeout, apperror.CodeOf(err))

	// a was released when b timed out.
	relA, err := locker.Acquire(context.Background(), a)
	require.NoError(t, err)
	relA()
}

func TestAccountLocker_Cancelled(t *testing.T) {
	locker := NewAccountLocker(time.Minute)
	id := uuid.New()
	release, err := locker.Acquire(context.Background(), id)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = locker.Acquire(ctx, id)
	assert.Equal(t, apperror.CodeCancelled, apperror.CodeOf(err))
}

func TestAccountLocker_ReleaseIsIdempotent(t *testing.T) {
	locker := NewAccountLocker(time.Second)
	id := uuid.New()
	release, err := locker.Acquire(context.Background(), id, id)
	require.NoError(t, err)
	release()
	release()

	again, err := locker.Acquire(context.Background(), id)
	require.NoError(t, err)
	again()
}

func TestCanonicalOrder(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	c := uuid.MustParse("f0000000-0000-0000-0000-000000000000")

	assert.Equal(t, []uuid.UUID{a, b, c}, canonicalOrder([]uuid.UUID{c, a, b, a}))
	assert.Empty(t, canonicalOrder(nil))
}
