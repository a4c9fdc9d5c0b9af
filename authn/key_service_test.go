package authn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyService_Get(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		data, err := json.Marshal(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
			publicKey(firstKeyID, firstKey),
			publicKey(secondKeyID, secondKey),
		}})
		require.NoError(t, err)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}))
	defer server.Close()

	service := NewKeyService(server.URL, WithHTTPClientKeyServiceOpt(server.Client()))

	t.Run("should fetch key if not cached", func(t *testing.T) {
		key, err := service.Get(context.Background(), firstKeyID)
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.Equal(t, firstKeyID, key.KeyID)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("should return cached key", func(t *testing.T) {
		key, err := service.Get(context.Background(), secondKeyID)
		require.NoError(t, err)
		require.NotNil(t, key)
		assert.Equal(t, secondKeyID, key.KeyID)
		assert.EqualValues(t, 1, calls.Load())
	})

	t.Run("should cache invalid key", func(t *testing.T) {
		key, err := service.Get(context.Background(), "invalid")
		require.ErrorIs(t, err, ErrInvalidSigningKey)
		require.Nil(t, key)
		assert.EqualValues(t, 2, calls.Load())

		for i := 0; i < 5; i++ {
			key, err := service.Get(context.Background(), "invalid")
			require.ErrorIs(t, err, ErrInvalidSigningKey)
			require.Nil(t, key)
			assert.EqualValues(t, 2, calls.Load())
		}
	})
}
