// Package ws 基于websocket的可靠通道，适用于只能走http的场景
package ws

/**
  *  @author tryao
  *  @date 2022/03/22 11:33
**/
import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"github.com/gorilla/websocket"
	"github.com/smallnest/chanx"
)

const (
	initBufferSize = 2048
	// defaultMaxMsgLen 一个ws消息可以包含多个帧
	defaultMaxMsgLen = 16 * (frame.MaxPayloadSize + frame.HeaderSize)
)

// Conn 一个ws连接，每个ws消息装若干完整或不完整的帧
type Conn struct {
	ws        *websocket.Conn
	queue     *chanx.UnboundedChan[[]byte]
	stop      context.CancelFunc
	maxMsgLen uint32
	realAddr  net.Addr

	mu     sync.Mutex
	closed bool
}

func newWSConn(ws *websocket.Conn, maxMsgLen uint32) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:        ws,
		queue:     chanx.NewUnboundedChan[[]byte](ctx, initBufferSize),
		stop:      cancel,
		maxMsgLen: maxMsgLen,
	}
	ws.SetReadLimit(int64(maxMsgLen))
	go c.writeLoop()
	return c
}

// writeLoop 收到nil时发送close帧并结束
func (c *Conn) writeLoop() {
	defer func() {
		_ = c.ws.Close()
		c.markClosed()
		c.stop()
	}()
	for b := range c.queue.Out {
		if b == nil {
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
		if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
			return
		}
	}
}

func (c *Conn) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Close 队列里的数据发完后再断开
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.queue.In <- nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) LocalAddr() net.Addr {
	return c.ws.LocalAddr()
}

// RemoteAddr 经过代理时是X-Forwarded-For里的地址
func (c *Conn) RemoteAddr() net.Addr {
	if c.realAddr != nil {
		return c.realAddr
	}
	return c.ws.RemoteAddr()
}

// ReadMsg 只能在一个协程里调用
func (c *Conn) ReadMsg() ([]byte, error) {
	_, b, err := c.ws.ReadMessage()
	return b, err
}

// WriteMsg 入队后b不能再被修改
func (c *Conn) WriteMsg(b []byte) error {
	if uint32(len(b)) > c.maxMsgLen {
		return fmt.Errorf("%w: ws message %d > %d", network.ErrPayloadTooLarge, len(b), c.maxMsgLen)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return network.ErrEndpointClosed
	}
	if len(b) > 0 {
		c.queue.In <- b
	}
	return nil
}
