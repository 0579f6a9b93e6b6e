package frame_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"github.com/YiuTerran/duplex/network/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type chat struct {
	network.Reliable
	From string
	Text string
}

// blob 原样写入payload，用来精确控制帧的大小
type blob struct {
	network.Unreliable
	data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(msg network.Message) ([]byte, error) {
	return msg.(*blob).data, nil
}

func (rawCodec) Unmarshal(data []byte) (network.Message, error) {
	if bytes.HasPrefix(data, []byte("bad")) {
		return nil, errors.New("corrupt payload")
	}
	return &blob{data: append([]byte(nil), data...)}, nil
}

func newJsonFramer() *frame.Framer {
	p := processor.NewJsonProcessor()
	p.Register(&chat{})
	return frame.NewFramer(p)
}

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestRoundTrip(t *testing.T) {
	f := newJsonFramer()
	m := &chat{From: "alice", Text: "hello"}
	buf, err := f.Encode(m)
	require.NoError(t, err)

	msgs, err := f.NewDecoder().Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, []network.Message{m}, msgs)
}

func TestSplitReadInvariance(t *testing.T) {
	f := newJsonFramer()
	m := &chat{From: "bob", Text: "split me into pieces"}
	buf, err := f.Encode(m)
	require.NoError(t, err)

	// 每种固定大小的切分
	for size := 1; size <= len(buf); size++ {
		d := f.NewDecoder()
		var got []network.Message
		for i := 0; i < len(buf); i += size {
			end := i + size
			if end > len(buf) {
				end = len(buf)
			}
			msgs, err := d.Decode(buf[i:end])
			require.NoError(t, err)
			got = append(got, msgs...)
		}
		assert.Equal(t, []network.Message{m}, got, "chunk size %d", size)
		assert.False(t, d.Pending())
	}

	// 任意两个切点
	for i := 1; i < len(buf); i++ {
		for j := i + 1; j < len(buf); j++ {
			d := f.NewDecoder()
			var got []network.Message
			for _, part := range [][]byte{buf[:i], buf[i:j], buf[j:]} {
				msgs, err := d.Decode(part)
				require.NoError(t, err)
				got = append(got, msgs...)
			}
			require.Equal(t, []network.Message{m}, got, "cuts %d,%d", i, j)
		}
	}
}

func TestMultiMessagePacking(t *testing.T) {
	f := newJsonFramer()
	m1 := &chat{From: "a", Text: "first"}
	m2 := &chat{From: "b", Text: "second"}
	b1, err := f.Encode(m1)
	require.NoError(t, err)
	b2, err := f.Encode(m2)
	require.NoError(t, err)
	stream := append(b1, b2...)

	msgs, err := f.NewDecoder().Decode(stream)
	require.NoError(t, err)
	assert.Equal(t, []network.Message{m1, m2}, msgs)

	// 第一条的尾部和第二条的头部在同一次读取里
	d := f.NewDecoder()
	cut := len(b1) - 3
	first, err := d.Decode(stream[:cut])
	require.NoError(t, err)
	assert.Empty(t, first)
	rest, err := d.Decode(stream[cut : len(b1)+4])
	require.NoError(t, err)
	assert.Equal(t, []network.Message{m1}, rest)
	last, err := d.Decode(stream[len(b1)+4:])
	require.NoError(t, err)
	assert.Equal(t, []network.Message{m2}, last)
}

func TestThreeByteChunks(t *testing.T) {
	f := frame.NewFramer(rawCodec{})
	m1 := &blob{data: fill(10, 'x')}
	m2 := &blob{data: fill(20, 'y')}
	b1, err := f.Encode(m1)
	require.NoError(t, err)
	b2, err := f.Encode(m2)
	require.NoError(t, err)
	stream := append(b1, b2...)
	require.Len(t, stream, 2+10+2+20)

	d := f.NewDecoder()
	var got []network.Message
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		msgs, err := d.Decode(stream[i:end])
		require.NoError(t, err)
		got = append(got, msgs...)
	}
	assert.Equal(t, []network.Message{m1, m2}, got)
}

func TestPayloadLimit(t *testing.T) {
	f := frame.NewFramer(rawCodec{})

	buf, err := f.Encode(&blob{data: fill(frame.MaxPayloadSize, 'z')})
	require.NoError(t, err)
	assert.Len(t, buf, frame.MaxPayloadSize+frame.HeaderSize)
	assert.Equal(t, []byte{0xff, 0xff}, buf[:2])

	_, err = f.Encode(&blob{data: fill(frame.MaxPayloadSize+1, 'z')})
	assert.ErrorIs(t, err, network.ErrPayloadTooLarge)
}

func TestMalformedFrameKeepsFraming(t *testing.T) {
	f := frame.NewFramer(rawCodec{})
	good1, _ := f.Encode(&blob{data: []byte("one")})
	bad, _ := frame.Pack([]byte("bad frame"))
	good2, _ := f.Encode(&blob{data: []byte("two")})
	stream := append(append(good1, bad...), good2...)

	msgs, err := f.NewDecoder().Decode(stream)
	require.Error(t, err)
	assert.ErrorIs(t, err, network.ErrMalformedMessage)
	assert.Len(t, multierr.Errors(err), 1)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].(*blob).data)
	assert.Equal(t, []byte("two"), msgs[1].(*blob).data)
}

func TestResetDropsPartialFrame(t *testing.T) {
	f := frame.NewFramer(rawCodec{})
	buf, _ := f.Encode(&blob{data: []byte("truncated")})
	d := f.NewDecoder()

	msgs, err := d.Decode(buf[:5])
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.True(t, d.Pending())

	d.Reset()
	assert.False(t, d.Pending())
	msgs, err = d.Decode(buf)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
