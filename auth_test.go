package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/onedrive-serve/internal/kvstore"
	"github.com/tonimelisma/onedrive-serve/internal/tokencache"
)

func newRedisTokens(t *testing.T) (*miniredis.Miniredis, *tokencache.Cache) {
	t.Helper()

	mr := miniredis.RunT(t)

	store, err := kvstore.NewRedis(context.Background(), "redis://"+mr.Addr(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return mr, tokencache.New(store, "", nil)
}

func TestReadTokenStatus_Valid(t *testing.T) {
	mr, tokens := newRedisTokens(t)
	mr.Set("access_token", "at")
	mr.SetTTL("access_token", time.Hour)
	mr.Set("refresh_token", "rt")

	st, err := readTokenStatus(context.Background(), tokens, "redis", time.Now())
	require.NoError(t, err)
	assert.Equal(t, tokenStateValid, st.AccessState)
	assert.Equal(t, tokenStateValid, st.RefreshState)
	require.NotNil(t, st.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), *st.ExpiresAt, 5*time.Second)
}

func TestReadTokenStatus_Expired(t *testing.T) {
	mr, tokens := newRedisTokens(t)
	mr.Set("access_token", "at")
	mr.SetTTL("access_token", time.Minute)

	st, err := readTokenStatus(context.Background(), tokens, "redis", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, tokenStateExpired, st.AccessState)
	assert.Equal(t, tokenStateMissing, st.RefreshState)
}

func TestReadTokenStatus_NoExpiry(t *testing.T) {
	mr, tokens := newRedisTokens(t)
	mr.Set("access_token", "at")

	st, err := readTokenStatus(context.Background(), tokens, "redis", time.Now())
	require.NoError(t, err)
	assert.Equal(t, tokenStateNoExpiry, st.AccessState)
	assert.Nil(t, st.ExpiresAt)
}
