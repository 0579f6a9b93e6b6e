package reader_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"github.com/YiuTerran/duplex/network/processor"
	"github.com/YiuTerran/duplex/network/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	network.Reliable
	Seq int
}

var errBroken = errors.New("broken pipe")

type fakeConnector struct {
	chunks   chan []byte
	closed   chan struct{}
	once     sync.Once
	datagram bool
	fail     error

	lock    sync.Mutex
	written [][]byte
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{chunks: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConnector) Read() ([]byte, error) {
	select {
	case b, ok := <-c.chunks:
		if !ok {
			return nil, c.fail
		}
		return b, nil
	case <-c.closed:
		return nil, network.ErrEndpointClosed
	}
}

func (c *fakeConnector) Write(data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConnector) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConnector) IsConnected() bool {
	select {
	case <-c.closed:
		return false
	default:
		return true
	}
}

func (c *fakeConnector) Datagram() bool {
	return c.datagram
}

type collector struct {
	lock   sync.Mutex
	msgs   []network.Message
	errs   []error
	fatals []error
}

func (c *collector) dispatch(msg network.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *collector) onError(err error, fatal bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if fatal {
		c.fatals = append(c.fatals, err)
	} else {
		c.errs = append(c.errs, err)
	}
}

func (c *collector) count() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.msgs)
}

func newFramer() *frame.Framer {
	p := processor.NewJsonProcessor()
	p.Register(&ping{})
	return frame.NewFramer(p)
}

func encode(t *testing.T, f *frame.Framer, seqs ...int) []byte {
	var out []byte
	for _, s := range seqs {
		b, err := f.Encode(&ping{Seq: s})
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

func TestConnectorReaderSplitChunks(t *testing.T) {
	f := newFramer()
	conn := newFakeConnector()
	col := &collector{}
	r := reader.NewConnectorReader(network.ChannelReliable, conn, f, col.dispatch, col.onError)
	require.NoError(t, r.Start())

	stream := encode(t, f, 1, 2, 3)
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		conn.chunks <- stream[i:end]
	}
	require.Eventually(t, func() bool { return col.count() == 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, r.Close())
	r.Wait()

	col.lock.Lock()
	defer col.lock.Unlock()
	for i, m := range col.msgs {
		assert.Equal(t, i+1, m.(*ping).Seq)
	}
	assert.Empty(t, col.fatals, "closing is not an error")
}

func TestConnectorReaderMalformedContinues(t *testing.T) {
	f := newFramer()
	conn := newFakeConnector()
	col := &collector{}
	r := reader.NewConnectorReader(network.ChannelReliable, conn, f, col.dispatch, col.onError)
	require.NoError(t, r.Start())

	bad, err := frame.Pack([]byte("not json"))
	require.NoError(t, err)
	conn.chunks <- append(append(encode(t, f, 1), bad...), encode(t, f, 2)...)

	require.Eventually(t, func() bool { return col.count() == 2 }, time.Second, 5*time.Millisecond)
	_ = r.Close()
	r.Wait()
	col.lock.Lock()
	defer col.lock.Unlock()
	require.Len(t, col.errs, 1)
	assert.ErrorIs(t, col.errs[0], network.ErrMalformedMessage)
}

func TestConnectorReaderIOError(t *testing.T) {
	conn := newFakeConnector()
	conn.fail = errBroken
	col := &collector{}
	r := reader.NewConnectorReader(network.ChannelUnreliable, conn, newFramer(), col.dispatch, col.onError)
	require.NoError(t, r.Start())
	close(conn.chunks)
	r.Wait()

	col.lock.Lock()
	defer col.lock.Unlock()
	require.Len(t, col.fatals, 1)
	assert.ErrorIs(t, col.fatals[0], errBroken)
	assert.Equal(t, reader.Running, r.State(), "reader only stops when closed")
}

func TestConnectorReaderLifecycle(t *testing.T) {
	conn := newFakeConnector()
	col := &collector{}
	r := reader.NewConnectorReader(network.ChannelReliable, conn, newFramer(), col.dispatch, col.onError)

	// 未启动直接关闭，Wait不会阻塞
	require.NoError(t, r.Close())
	r.Wait()
	assert.False(t, conn.IsConnected())
	assert.ErrorIs(t, r.Start(), network.ErrIllegalState)
	assert.NoError(t, r.Close(), "close is idempotent")
	assert.ErrorIs(t, r.Write([]byte{0, 0}), network.ErrIllegalState)

	conn2 := newFakeConnector()
	r2 := reader.NewConnectorReader(network.ChannelReliable, conn2, newFramer(), col.dispatch, col.onError)
	require.NoError(t, r2.Start())
	assert.ErrorIs(t, r2.Start(), network.ErrIllegalState)
	require.NoError(t, r2.Write([]byte{1}))
	require.NoError(t, r2.Close())
	r2.Wait()
	assert.Equal(t, reader.Stopped, r2.State())
	assert.Len(t, conn2.written, 1)
}

func TestConnectorReaderDatagramDropsTruncatedFrame(t *testing.T) {
	f := newFramer()
	conn := newFakeConnector()
	conn.datagram = true
	col := &collector{}
	r := reader.NewConnectorReader(network.ChannelUnreliable, conn, f, col.dispatch, col.onError)
	require.NoError(t, r.Start())

	full := encode(t, f, 7)
	conn.chunks <- full[:len(full)-1]
	conn.chunks <- encode(t, f, 8)
	require.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 5*time.Millisecond)
	_ = r.Close()
	r.Wait()
	assert.Equal(t, 8, col.msgs[0].(*ping).Seq)
}

func TestConnectorReaderRecoversDispatchPanic(t *testing.T) {
	f := newFramer()
	conn := newFakeConnector()
	col := &collector{}
	dispatch := func(msg network.Message) {
		if msg.(*ping).Seq == 1 {
			panic("boom")
		}
		col.dispatch(msg)
	}
	r := reader.NewConnectorReader(network.ChannelReliable, conn, f, dispatch, col.onError)
	require.NoError(t, r.Start())
	conn.chunks <- encode(t, f, 1, 2)
	require.Eventually(t, func() bool { return col.count() == 1 }, time.Second, 5*time.Millisecond)
	_ = r.Close()
	r.Wait()
}
