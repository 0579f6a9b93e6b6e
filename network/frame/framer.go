// Package frame 把消息切分成自描述长度的字节块，并从连续的字节流中还原消息
//
//	--------------
//	| len | data |
//	--------------
//
// len固定为2字节大端序，因此单条消息最大65535字节。
package frame

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/YiuTerran/duplex/network"
	"go.uber.org/multierr"
)

const (
	// HeaderSize 长度前缀的字节数
	HeaderSize = 2
	// MaxPayloadSize 协议层面的硬限制，不可配置
	MaxPayloadSize = math.MaxUint16
)

// Framer 无状态，goroutine safe
type Framer struct {
	codec network.Codec
}

func NewFramer(codec network.Codec) *Framer {
	return &Framer{codec: codec}
}

// Encode 每次调用都返回新的buffer，调用方可以直接交给传输层
func (f *Framer) Encode(msg network.Message) ([]byte, error) {
	payload, err := f.codec.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return Pack(payload)
}

// Pack 给已经序列化好的数据加上长度前缀
func Pack(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", network.ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(buf, uint16(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// NewDecoder 每个字节流（每个端点的每个通道）需要独立的Decoder
func (f *Framer) NewDecoder() *Decoder {
	return &Decoder{codec: f.codec}
}

// Decoder 增量解码，非goroutine safe，只能由持有字节流的读协程使用
type Decoder struct {
	codec network.Codec

	header    [HeaderSize]byte
	headerLen int
	// current 非nil表示有一条消息正在接收
	current []byte
	filled  int
}

// Decode 消费一块数据，返回其中所有完整的消息
// 反序列化失败的帧会被跳过，错误以ErrMalformedMessage包装后合并返回，
// 此时返回的消息仍然有效
func (d *Decoder) Decode(chunk []byte) ([]network.Message, error) {
	var (
		msgs []network.Message
		errs error
	)
	for len(chunk) > 0 {
		if d.current == nil {
			n := copy(d.header[d.headerLen:], chunk)
			d.headerLen += n
			chunk = chunk[n:]
			if d.headerLen < HeaderSize {
				break
			}
			d.current = make([]byte, binary.BigEndian.Uint16(d.header[:]))
			d.filled = 0
			d.headerLen = 0
		}

		n := copy(d.current[d.filled:], chunk)
		d.filled += n
		chunk = chunk[n:]
		if d.filled < len(d.current) {
			break
		}

		payload := d.current
		d.current = nil
		d.filled = 0
		msg, err := d.codec.Unmarshal(payload)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", network.ErrMalformedMessage, err))
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, errs
}

// Pending 是否有未接收完的帧
func (d *Decoder) Pending() bool {
	return d.current != nil || d.headerLen > 0
}

// Reset 丢弃未完成的帧
func (d *Decoder) Reset() {
	d.current = nil
	d.filled = 0
	d.headerLen = 0
}
