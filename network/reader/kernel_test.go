package reader_test

import (
	"sync"
	"testing"
	"time"

	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/mem"
	"github.com/YiuTerran/duplex/network/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	lock    sync.Mutex
	added   []uint64
	removed []uint64
	msgs    map[uint64][]int
	errs    int
}

func (h *recordingHandler) EndpointAdded(_ network.Channel, ep network.Endpoint) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.added = append(h.added, ep.ID())
}

func (h *recordingHandler) EndpointRemoved(_ network.Channel, ep network.Endpoint) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.removed = append(h.removed, ep.ID())
}

func (h *recordingHandler) MessageReceived(_ network.Channel, ep network.Endpoint, msg network.Message) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.msgs[ep.ID()] = append(h.msgs[ep.ID()], msg.(*ping).Seq)
}

func (h *recordingHandler) MessageError(network.Channel, network.Endpoint, error) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.errs++
}

func (h *recordingHandler) snapshot() (added, removed int, msgs map[uint64][]int) {
	h.lock.Lock()
	defer h.lock.Unlock()
	msgs = make(map[uint64][]int, len(h.msgs))
	for k, v := range h.msgs {
		msgs[k] = append([]int(nil), v...)
	}
	return len(h.added), len(h.removed), msgs
}

func TestKernelReaderPerEndpointFraming(t *testing.T) {
	f := newFramer()
	k := mem.NewKernel("reader")
	require.NoError(t, k.Initialize())
	h := &recordingHandler{msgs: map[uint64][]int{}}
	r := reader.NewKernelReader(network.ChannelReliable, k, f, h)
	require.NoError(t, r.Start())

	c1, err := k.Dial()
	require.NoError(t, err)
	c2, err := k.Dial()
	require.NoError(t, err)

	// 两个端点交替发送半帧，互不干扰
	s1 := encode(t, f, 1, 2)
	s2 := encode(t, f, 10, 20)
	half1, half2 := len(s1)/2+1, len(s2)/2-1
	require.NoError(t, c1.Write(s1[:half1]))
	require.NoError(t, c2.Write(s2[:half2]))
	require.NoError(t, c1.Write(s1[half1:]))
	require.NoError(t, c2.Write(s2[half2:]))

	require.Eventually(t, func() bool {
		_, _, msgs := h.snapshot()
		return len(msgs[c1.Endpoint().ID()]) == 2 && len(msgs[c2.Endpoint().ID()]) == 2
	}, time.Second, 5*time.Millisecond)
	_, _, msgs := h.snapshot()
	assert.Equal(t, []int{1, 2}, msgs[c1.Endpoint().ID()])
	assert.Equal(t, []int{10, 20}, msgs[c2.Endpoint().ID()])

	require.NoError(t, c1.Close())
	require.Eventually(t, func() bool {
		_, removed, _ := h.snapshot()
		return removed == 1
	}, time.Second, 5*time.Millisecond)

	// 关闭时剩余端点的移除事件也会被处理
	require.NoError(t, r.Close())
	r.Wait()
	added, removed, _ := h.snapshot()
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, removed)
	assert.False(t, c2.IsConnected())
}

func TestKernelReaderCloseBeforeStart(t *testing.T) {
	k := mem.NewKernel("idle")
	h := &recordingHandler{msgs: map[uint64][]int{}}
	r := reader.NewKernelReader(network.ChannelReliable, k, newFramer(), h)
	require.NoError(t, r.Close())
	r.Wait()
	assert.ErrorIs(t, r.Start(), network.ErrIllegalState)
	_, err := k.Dial()
	assert.ErrorIs(t, err, network.ErrKernelClosed)
}
