package minio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewClient(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Bucket, c.bucket)
	})

	t.Run("empty endpoint is rejected", func(t *testing.T) {
		c, err := NewClient(&Config{Endpoint: ""})
		require.Error(t, err)
		assert.Nil(t, c)
		assert.Contains(t, err.Error(), "endpoint is required")
	})

	t.Run("missing bucket falls back to default", func(t *testing.T) {
		c, err := NewClient(&Config{Endpoint: "localhost:9000"})
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Bucket, c.bucket)
	})
}

func TestContentAddressIsStableAndContentDependent(t *testing.T) {
	a := contentAddress([]byte("hello world"))
	b := contentAddress([]byte("hello world"))
	c := contentAddress([]byte("hello there"))

	assert.Equal(t, a, b, "identical bytes must hash to the same address")
	assert.NotEqual(t, a, c, "different bytes must hash to different addresses")
	assert.Len(t, a, 64, "sha256 hex digest is 64 characters")
}
