package kernel

import (
	"testing"

	"github.com/YiuTerran/duplex/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type stubEndpoint struct {
	id     uint64
	base   *Base
	closed atomic.Bool
	sent   atomic.Int32
}

func (e *stubEndpoint) ID() uint64      { return e.id }
func (e *stubEndpoint) Address() string { return "stub" }
func (e *stubEndpoint) Send([]byte) error {
	e.sent.Inc()
	return nil
}
func (e *stubEndpoint) IsConnected() bool { return !e.closed.Load() }
func (e *stubEndpoint) Close() error {
	e.closed.Store(true)
	e.base.RemoveEndpoint(e)
	return nil
}

func TestReadAfterShutdownAlwaysFails(t *testing.T) {
	b := &Base{}
	b.Init()
	ep := &stubEndpoint{id: b.NextEndpointID(), base: b}
	b.AddEndpoint(ep)
	b.Deliver(ep, []byte("late"))

	require.NoError(t, b.Shutdown())
	// 队列里还有唤醒和数据，关闭后也不能再读出来
	for i := 0; i < 100; i++ {
		_, err := b.Read()
		require.ErrorIs(t, err, network.ErrKernelClosed)
	}

	ev, ok := b.NextEvent()
	require.True(t, ok)
	assert.Equal(t, network.EndpointAdded, ev.Type)
	ev, ok = b.NextEvent()
	require.True(t, ok)
	assert.Equal(t, network.EndpointRemoved, ev.Type)
	_, ok = b.NextEvent()
	assert.False(t, ok)
	assert.True(t, ep.closed.Load())
	assert.Equal(t, 0, b.EndpointCount())
}

func TestBroadcastFilter(t *testing.T) {
	b := &Base{}
	b.Init()
	defer func() { _ = b.Shutdown() }()
	eps := make([]*stubEndpoint, 3)
	for i := range eps {
		eps[i] = &stubEndpoint{id: b.NextEndpointID(), base: b}
		b.AddEndpoint(eps[i])
	}
	require.NoError(t, b.Broadcast(func(ep network.Endpoint) bool { return ep.ID() != 2 }, []byte{1}))
	assert.Equal(t, int32(1), eps[0].sent.Load())
	assert.Equal(t, int32(0), eps[1].sent.Load())
	assert.Equal(t, int32(1), eps[2].sent.Load())

	b.RemoveEndpoint(eps[0])
	b.RemoveEndpoint(eps[0])
	assert.Equal(t, 2, b.EndpointCount())
}
