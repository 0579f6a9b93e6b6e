package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
)

// Connector 客户端的tcp通道
type Connector struct {
	*Conn
	addr string
}

var _ network.Connector = (*Connector)(nil)

type dialOptions struct {
	connectInterval time.Duration
	connectRetry    int
	readBuffer      int
	writeTimeout    time.Duration
}

type DialOption func(*dialOptions)

// ConnectInterval 连接失败后重试的间隔
func ConnectInterval(dr time.Duration) DialOption {
	return func(o *dialOptions) {
		o.connectInterval = dr
	}
}

// ConnectRetry 连接失败后的重试次数，默认不重试
func ConnectRetry(n int) DialOption {
	return func(o *dialOptions) {
		o.connectRetry = n
	}
}

func ReadBufferSize(size int) DialOption {
	return func(o *dialOptions) {
		o.readBuffer = size
	}
}

func WriteTimeout(dr time.Duration) DialOption {
	return func(o *dialOptions) {
		o.writeTimeout = dr
	}
}

func Dial(addr string, options ...DialOption) (*Connector, error) {
	opts := &dialOptions{
		connectInterval: 3 * time.Second,
		readBuffer:      defaultReadBufferSize,
		writeTimeout:    defaultWriteTimeout,
	}
	for _, option := range options {
		option(opts)
	}
	if opts.readBuffer <= 0 {
		opts.readBuffer = defaultReadBufferSize
		log.Debug("invalid ReadBufferSize, reset to %v", opts.readBuffer)
	}
	for i := 0; ; i++ {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			return &Connector{Conn: newConn(conn, opts.readBuffer, opts.writeTimeout), addr: addr}, nil
		}
		if i >= opts.connectRetry {
			return nil, fmt.Errorf("connect to %v: %w", addr, err)
		}
		log.Error("connect to %v error: %v", addr, err)
		time.Sleep(opts.connectInterval)
	}
}

func (c *Connector) Read() ([]byte, error) {
	return c.ReadChunk()
}

// Close 发完已入队的数据后断开
func (c *Connector) Close() error {
	c.Conn.Close()
	return nil
}

func (c *Connector) IsConnected() bool {
	return !c.IsClosed()
}

func (c *Connector) String() string {
	return "tcp://" + c.addr
}
