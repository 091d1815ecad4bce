package connpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct{ closed bool }

func (f *fakeChannel) Close() error { f.closed = true; return nil }

func newFactory() Factory {
	return func(ctx context.Context, vmID string) (Channel, error) {
		return &fakeChannel{}, nil
	}
}

func TestAcquireRelease_Reuse(t *testing.T) {
	p := New(Config{MaxSize: 2}, newFactory())
	defer p.Shutdown()

	conn, err := p.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	first := conn.Channel
	p.Release(conn)

	conn2, err := p.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	assert.Same(t, first, conn2.Channel, "expected the released connection to be reused")
}

func TestRelease_RecyclesOnMaxUsage(t *testing.T) {
	p := New(Config{MaxSize: 2, MaxUsage: 1}, newFactory())
	defer p.Shutdown()

	conn, err := p.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	ch := conn.Channel.(*fakeChannel)
	p.Release(conn) // use_count becomes 1 == MaxUsage -> closed, not pooled

	assert.True(t, ch.closed)
	p.mu.Lock()
	assert.Empty(t, p.idle["vm-1"])
	p.mu.Unlock()
}

func TestAcquire_BlocksThenExhausts(t *testing.T) {
	p := New(Config{MaxSize: 1, AcquireWait: 50 * time.Millisecond}, newFactory())
	defer p.Shutdown()

	conn, err := p.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)

	_, err = p.Acquire(context.Background(), "vm-2")
	require.Error(t, err)

	p.Release(conn)
}

func TestClose_DiscardsAllForVM(t *testing.T) {
	p := New(Config{MaxSize: 3}, newFactory())
	defer p.Shutdown()

	conn, err := p.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	ch := conn.Channel.(*fakeChannel)
	p.Release(conn)

	p.Close("vm-1")
	assert.True(t, ch.closed)
}

func TestSweepOnce_ClosesIdleExpired(t *testing.T) {
	p := New(Config{MaxSize: 2, IdleTTL: time.Millisecond}, newFactory())
	defer p.Shutdown()

	conn, err := p.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	ch := conn.Channel.(*fakeChannel)
	p.Release(conn)

	time.Sleep(5 * time.Millisecond)
	p.sweepOnce(time.Now())

	assert.True(t, ch.closed)
	// the freed slot should allow a fresh acquire without blocking
	_, err = p.Acquire(context.Background(), "vm-2")
	require.NoError(t, err)
}

func TestPoisonedConnectionNotReused(t *testing.T) {
	p := New(Config{MaxSize: 2}, newFactory())
	defer p.Shutdown()

	conn, err := p.Acquire(context.Background(), "vm-1")
	require.NoError(t, err)
	conn.Poison()
	p.Release(conn)

	p.mu.Lock()
	assert.Empty(t, p.idle["vm-1"])
	p.mu.Unlock()
}
