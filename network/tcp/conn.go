// Package tcp 可靠通道的tcp实现
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/smallnest/chanx"
)

const (
	defaultReadBufferSize = 4096
	defaultWriteTimeout   = 5 * time.Second
	writeQueueSize        = 100
)

// Conn 带发送队列的tcp连接，Write不阻塞调用方
type Conn struct {
	sync.Mutex
	conn         net.Conn
	writeChan    *chanx.UnboundedChan[[]byte]
	cancel       context.CancelFunc
	closeFlag    bool
	readBuffer   int
	writeTimeout time.Duration
}

func newConn(conn net.Conn, readBuffer int, writeTimeout time.Duration) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	tcpConn := &Conn{
		conn:         conn,
		writeChan:    chanx.NewUnboundedChan[[]byte](ctx, writeQueueSize),
		cancel:       cancel,
		readBuffer:   readBuffer,
		writeTimeout: writeTimeout,
	}
	go tcpConn.writeLoop()
	return tcpConn
}

// writeLoop 收到nil表示队列里的数据已经发完，可以关闭
func (c *Conn) writeLoop() {
	for b := range c.writeChan.Out {
		if b == nil {
			break
		}
		if c.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		if _, err := c.conn.Write(b); err != nil {
			log.Debug("fail to write tcp conn %v: %v", c.conn.RemoteAddr(), err)
			break
		}
	}
	_ = c.conn.Close()
	c.Lock()
	c.closeFlag = true
	c.Unlock()
	c.cancel()
}

// Close 发完队列里的数据后关闭，返回是否由本次调用关闭
func (c *Conn) Close() bool {
	c.Lock()
	defer c.Unlock()
	if c.closeFlag {
		return false
	}
	c.writeChan.In <- nil
	c.closeFlag = true
	return true
}

// Write b不能再被其他协程修改
func (c *Conn) Write(b []byte) error {
	c.Lock()
	defer c.Unlock()
	if c.closeFlag {
		return network.ErrEndpointClosed
	}
	if len(b) == 0 {
		return nil
	}
	c.writeChan.In <- b
	return nil
}

// ReadChunk 读取一次，返回的切片归调用方所有
func (c *Conn) ReadChunk() ([]byte, error) {
	buf := make([]byte, c.readBuffer)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, err
}

func (c *Conn) IsClosed() bool {
	c.Lock()
	defer c.Unlock()
	return c.closeFlag
}

func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
