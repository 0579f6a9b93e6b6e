package udp

import (
	"fmt"
	"net"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"go.uber.org/atomic"
)

// Connector 调用了DialUDP，因此视为"有连接的"，只收发与服务端之间的包
type Connector struct {
	addr   string
	maxTry int
	conn   *net.UDPConn
	closed atomic.Bool
}

var _ network.Connector = (*Connector)(nil)

// Dial maxTry为单个包发送失败时最多尝试次数，<=0时使用默认值
func Dial(addr string, maxTry int) (*Connector, error) {
	rAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("fail to resolve udp addr %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, rAddr)
	if err != nil {
		return nil, fmt.Errorf("connect to %v: %w", addr, err)
	}
	if maxTry <= 0 {
		maxTry = defaultMaxTry
	}
	return &Connector{addr: addr, maxTry: maxTry, conn: conn}, nil
}

func (c *Connector) Datagram() bool {
	return true
}

// Read 每次返回一个完整的包
func (c *Connector) Read() ([]byte, error) {
	buffer := make([]byte, MaxPacketSize)
	for {
		n, err := c.conn.Read(buffer)
		if err != nil {
			if c.closed.Load() {
				return nil, network.ErrEndpointClosed
			}
			// 对端端口不可达时会收到ICMP错误，不影响后续读取
			log.Debug("read udp %s: %v", c.addr, err)
			if isClosedErr(err) {
				return nil, err
			}
			continue
		}
		return buffer[:n], nil
	}
}

func (c *Connector) Write(data []byte) (err error) {
	if c.closed.Load() {
		return network.ErrEndpointClosed
	}
	for i := 0; i < c.maxTry; i++ {
		if _, err = c.conn.Write(data); err == nil {
			return nil
		}
		log.Error("fail to write udp chan:%+v", err)
	}
	return err
}

func (c *Connector) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Connector) IsConnected() bool {
	return !c.closed.Load()
}

func (c *Connector) String() string {
	return "udp://" + c.addr
}
