package l2cap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smjoseph/btchat/bdaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterResolver_CachesHit(t *testing.T) {
	var lookups int32
	r := NewAdapterResolver(func() (bdaddr.Address, error) {
		atomic.AddInt32(&lookups, 1)
		return localAddr, nil
	}, time.Minute)

	for i := 0; i < 3; i++ {
		addr, err := r.Resolve(context.Background())
		require.NoError(t, err)
		assert.Equal(t, localAddr, addr)
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(&lookups))

	r.Forget()
	_, err := r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&lookups))
}

func TestAdapterResolver_FailureNotCached(t *testing.T) {
	var lookups int32
	r := NewAdapterResolver(func() (bdaddr.Address, error) {
		if atomic.AddInt32(&lookups, 1) == 1 {
			return bdaddr.Any, ErrNoAdapter
		}
		return localAddr, nil
	}, time.Minute)

	addr, err := r.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrNoAdapter)
	assert.True(t, addr.IsAny())

	addr, err = r.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, localAddr, addr)
}

func TestAdapterResolver_ConcurrentLookupsCollapse(t *testing.T) {
	var lookups int32
	release := make(chan struct{})
	r := NewAdapterResolver(func() (bdaddr.Address, error) {
		atomic.AddInt32(&lookups, 1)
		<-release
		return localAddr, nil
	}, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := r.Resolve(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, localAddr, addr)
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&lookups))
}

func TestAdapterResolver_CancelledContext(t *testing.T) {
	r := NewAdapterResolver(func() (bdaddr.Address, error) {
		return bdaddr.Any, errors.New("must not be called")
	}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
