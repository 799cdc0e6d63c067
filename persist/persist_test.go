package persist

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store, key string) {
	t.Helper()
	ctx := context.Background()

	b, err := s.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, b)

	require.NoError(t, s.Save(ctx, key, []byte(`{"records":[]}`)))
	b, err = s.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, `{"records":[]}`, string(b))

	require.NoError(t, s.Save(ctx, key, []byte(`{}`)))
	b, _ = s.Load(ctx, key)
	assert.Equal(t, `{}`, string(b))

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))
	b, err = s.Load(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestMemoryStore(t *testing.T) {
	m := NewMemoryStore()
	exerciseStore(t, m, "combo-overlay-v3-test")

	data := []byte("abc")
	require.NoError(t, m.Save(context.Background(), "k", data))
	data[0] = 'z'
	got, _ := m.Load(context.Background(), "k")
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, []string{"k"}, m.Keys())
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	s, err := NewRedis(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s, "combo-overlay-v3-persist-test")
}
