package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfe-api/internal/application/contingency"
	infraredis "github.com/jhoicas/nfe-api/internal/infrastructure/redis"
	"github.com/jhoicas/nfe-api/pkg/config"
)

// newStore conecta con NFE_TEST_REDIS_URL; sin la variable el test se omite.
func newStore(t *testing.T) *infraredis.ContingencyStore {
	t.Helper()
	url := os.Getenv("NFE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("NFE_TEST_REDIS_URL no definida")
	}
	client, err := infraredis.New(context.Background(), config.RedisConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return infraredis.NewContingencyStore(client.Client)
}

func TestContingencyStore_Contador(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	issuer := "emisor-" + uuid.NewString()

	n, err := s.Failures(ctx, issuer)
	require.NoError(t, err)
	assert.Zero(t, n)

	for want := 1; want <= 3; want++ {
		n, err = s.RecordFailure(ctx, issuer)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	require.NoError(t, s.ResetFailures(ctx, issuer))
	n, err = s.Failures(ctx, issuer)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestContingencyStore_ActivarUnaVez(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	issuer := "emisor-" + uuid.NewString()
	since := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)

	st, err := s.Get(ctx, issuer)
	require.NoError(t, err)
	assert.Nil(t, st)

	ok, err := s.Activate(ctx, contingency.State{IssuerID: issuer, Reason: "SEFAZ inalcanzable", Since: since})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Activate(ctx, contingency.State{IssuerID: issuer, Reason: "otra", Manual: true, Since: since})
	require.NoError(t, err)
	assert.False(t, ok)

	st, err = s.Get(ctx, issuer)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "SEFAZ inalcanzable", st.Reason)
	assert.False(t, st.Manual)
	assert.True(t, since.Equal(st.Since))

	require.NoError(t, s.Deactivate(ctx, issuer))
	st, err = s.Get(ctx, issuer)
	require.NoError(t, err)
	assert.Nil(t, st)
}
