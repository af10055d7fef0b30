package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedPost struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	client, err = Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	_ = client.Close()
}

func TestConnect_Failures(t *testing.T) {
	_, err := Connect(context.Background(), "redis://%zz")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = Connect(context.Background(), addr)
	assert.Error(t, err)
}

func TestCache_AsideHitsRedisAfterFirstLoad(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	c := New(client)
	ctx := context.Background()
	loads := 0
	load := func(dest *cachedPost) func() error {
		return func() error {
			loads++
			*dest = cachedPost{ID: 4, Title: "Hello"}
			return nil
		}
	}

	var first, second cachedPost
	require.NoError(t, c.Aside(ctx, PostKey(4), &first, PostTTL, load(&first)))
	require.NoError(t, c.Aside(ctx, PostKey(4), &second, PostTTL, load(&second)))

	assert.Equal(t, 1, loads)
	assert.Equal(t, "Hello", second.Title)
	assert.True(t, mr.Exists("post:4"))
	assert.Equal(t, PostTTL, mr.TTL("post:4"))

	c.Invalidate(ctx, PostKey(4))
	assert.False(t, mr.Exists("post:4"))
}

func TestCache_AsideDoesNotStoreFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	var dest cachedPost
	err = New(client).Aside(context.Background(), UserKey(1), &dest, time.Minute, func() error {
		return errors.New("not found")
	})
	assert.Error(t, err)
	assert.False(t, mr.Exists("user:1"))
}

func TestCache_NilClientPassesThrough(t *testing.T) {
	var dest cachedPost
	called := false
	err := New(nil).Aside(context.Background(), PostKey(1), &dest, time.Minute, func() error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	New(nil).Invalidate(context.Background(), PostKey(1))
}
