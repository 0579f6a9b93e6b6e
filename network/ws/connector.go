package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/gorilla/websocket"
)

/**
  *  @author tryao
  *  @date 2022/03/22 11:32
**/

// Connector websocket的客户端通道
type Connector struct {
	*Conn
	url string
}

var _ network.Connector = (*Connector)(nil)

type dialOptions struct {
	maxMsgLen        uint32
	handshakeTimeout time.Duration
	header           http.Header
}

type DialOption func(*dialOptions)

func DialMaxMsgLen(num uint32) DialOption {
	return func(o *dialOptions) {
		o.maxMsgLen = num
	}
}

func DialHandshakeTimeout(duration time.Duration) DialOption {
	return func(o *dialOptions) {
		o.handshakeTimeout = duration
	}
}

// DialHeader 握手时附带的http头，如鉴权信息
func DialHeader(header http.Header) DialOption {
	return func(o *dialOptions) {
		o.header = header
	}
}

// Dial url形如ws://127.0.0.1:3653/
func Dial(url string, options ...DialOption) (*Connector, error) {
	opts := &dialOptions{}
	for _, option := range options {
		option(opts)
	}
	if opts.maxMsgLen <= 0 {
		opts.maxMsgLen = defaultMaxMsgLen
		log.Debug("invalid MaxMsgLen, reset to %v", opts.maxMsgLen)
	}
	if opts.handshakeTimeout <= 0 {
		opts.handshakeTimeout = 10 * time.Second
		log.Debug("invalid HandshakeTimeout, reset to %v", opts.handshakeTimeout)
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.handshakeTimeout}
	conn, _, err := dialer.Dial(url, opts.header)
	if err != nil {
		return nil, fmt.Errorf("connect to %v: %w", url, err)
	}
	return &Connector{Conn: newWSConn(conn, opts.maxMsgLen), url: url}, nil
}

func (c *Connector) Read() ([]byte, error) {
	return c.ReadMsg()
}

func (c *Connector) Write(data []byte) error {
	return c.WriteMsg(data)
}

func (c *Connector) Close() error {
	c.Conn.Close()
	return nil
}

func (c *Connector) IsConnected() bool {
	return !c.IsClosed()
}

func (c *Connector) String() string {
	return c.url
}
