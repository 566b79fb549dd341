package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ledger-engine/internal/adapter/storage/memory"
	"ledger-engine/internal/core/domain"
	"ledger-engine/internal/core/ports/mocks"
	"ledger-engine/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestFingerprint(t *testing.T) {
	a := Fingerprint("transfer", "x", "y", "10")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("transfer", "x", "y", "10"))
	assert.NotEqual(t, a, Fingerprint("transfer", "x", "y", "10.01"))
	// Separators keep field boundaries distinct.
	assert.NotEqual(t, Fingerprint("ab", "c"), Fingerprint("a", "bc"))
}

func TestIdempotencyGuard_Lookup(t *testing.T) {
	ctx := context.Background()
	fp := Fingerprint("op", "1")
	stored := &domain.IdempotencyRecord{Key: "k", Fingerprint: fp, Result: []byte(`{}`)}

	tests := []struct {
		name    string
		setup   func(m *mocks.MockIdempotencyCache)
		fp      string
		wantRec bool
		code    string
	}{
		{
			name:    "hit",
			setup:   func(m *mocks.MockIdempotencyCache) { m.EXPECT().Get(gomock.Any(), "k").Return(stored, nil) },
			fp:      fp,
			wantRec: true,
		},
		{
			name:  "miss",
			setup: func(m *mocks.MockIdempotencyCache) { m.EXPECT().Get(gomock.Any(), "k").Return(nil, nil) },
			fp:    fp,
		},
		{
			name:  "conflict",
			setup: func(m *mocks.MockIdempotencyCache) { m.EXPECT().Get(gomock.Any(), "k").Return(stored, nil) },
			fp:    Fingerprint("op", "2"),
			code:  apperror.CodeIdempotencyConflict,
		},
		{
			name:  "cache error is a miss",
			setup: func(m *mocks.MockIdempotencyCache) { m.EXPECT().Get(gomock.Any(), "k").Return(nil, errors.New("down")) },
			fp:    fp,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			cache := mocks.NewMockIdempotencyCache(ctrl)
			tt.setup(cache)
			guard := NewIdempotencyGuard(cache, time.Hour, zerolog.Nop())

			rec, err := guard.Lookup(ctx, "k", tt.fp)
			if tt.code != "" {
				assert.Equal(t, tt.code, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRec, rec != nil)
		})
	}
}

func TestIdempotencyGuard_EmptyKeyDisablesProtection(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockIdempotencyCache(ctrl) // no calls expected
	guard := NewIdempotencyGuard(cache, time.Hour, zerolog.Nop())
	store := memory.NewStore()
	ctx := context.Background()

	rec, err := guard.Lookup(ctx, "", "fp")
	require.NoError(t, err)
	assert.Nil(t, rec)

	uow, err := store.BeginAtomic(ctx)
	require.NoError(t, err)
	defer func() { _ = uow.Rollback(ctx) }()
	rec, err = guard.Record(ctx, uow, "", "op", "fp", map[string]string{})
	require.NoError(t, err)
	assert.Nil(t, rec)
	guard.Remember(ctx, rec)
}

func TestIdempotencyGuard_RecordCheckReplay(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockIdempotencyCache(ctrl)
	guard := NewIdempotencyGuard(cache, 24*time.Hour, zerolog.Nop())
	store := memory.NewStore()
	ctx := context.Background()
	fp := Fingerprint("deposit", "acct", "10")

	uow, err := store.BeginAtomic(ctx)
	require.NoError(t, err)
	rec, err := guard.Record(ctx, uow, "user:k", "deposit", fp, map[string]string{"amount": "10"})
	require.NoError(t, err)
	require.NoError(t, uow.Commit(ctx))

	cache.EXPECT().Set(gomock.Any(), rec, 24*time.Hour).Return(errors.New("redis down"))
	guard.Remember(ctx, rec) // logged only

	uow, err = store.BeginAtomic(ctx)
	require.NoError(t, err)
	defer func() { _ = uow.Rollback(ctx) }()

	prior, err := guard.Check(ctx, uow, "user:k", fp)
	require.NoError(t, err)
	require.NotNil(t, prior)
	var out map[string]string
	require.NoError(t, replay(prior, &out))
	assert.Equal(t, "10", out["amount"])

	_, err = guard.Check(ctx, uow, "user:k", Fingerprint("deposit", "acct", "11"))
	assert.Equal(t, apperror.CodeIdempotencyConflict, apperror.CodeOf(err))
}
