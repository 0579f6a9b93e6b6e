package server

import (
	"fmt"
	"sort"
	"sync"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/base/structs/syncmap"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"go.uber.org/atomic"
)

// Connection 一个客户端的逻辑连接，由可靠通道和可选的快速通道组成
type Connection struct {
	id       int64
	channels [2]network.Endpoint
	framer   *frame.Framer
	attrs    syncmap.Map[string, any]
	closed   atomic.Bool

	// 保证同一连接的Added一定先于Removed触发
	lifecycle sync.Mutex
	// 两个通道的消息串行分发
	dispatchLock sync.Mutex
}

func newConnection(id int64, channels [2]network.Endpoint, framer *frame.Framer) *Connection {
	return &Connection{id: id, channels: channels, framer: framer}
}

func (c *Connection) ID() int64 {
	return c.id
}

// Endpoint 单通道模式下快速通道为nil
func (c *Connection) Endpoint(channel network.Channel) network.Endpoint {
	if channel < 0 || int(channel) >= len(c.channels) {
		return nil
	}
	return c.channels[channel]
}

func (c *Connection) endpointFor(msg network.Message) network.Endpoint {
	if msg.IsReliable() || c.channels[network.ChannelUnreliable] == nil {
		return c.channels[network.ChannelReliable]
	}
	return c.channels[network.ChannelUnreliable]
}

func (c *Connection) Send(msg network.Message) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: connection %d", network.ErrEndpointClosed, c.id)
	}
	data, err := c.framer.Encode(msg)
	if err != nil {
		return err
	}
	return c.endpointFor(msg).Send(data)
}

// Close 踢掉客户端，先通过可靠通道告知原因再关闭
// 连接的移除由传输层的端点移除事件触发
func (c *Connection) Close(reason string) error {
	if c.closed.Load() {
		return nil
	}
	reliable := c.channels[network.ChannelReliable]
	data, err := c.framer.Encode(&network.Disconnect{Type: network.DisconnectKick, Reason: reason})
	if err == nil {
		err = reliable.Send(data)
	}
	if err != nil {
		log.Warn("send disconnect to %v: %v", c, err)
	}
	return reliable.Close()
}

func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

func (c *Connection) SetAttribute(name string, value any) {
	c.attrs.Store(name, value)
}

func (c *Connection) Attribute(name string) (any, bool) {
	return c.attrs.Load(name)
}

func (c *Connection) RemoveAttribute(name string) {
	c.attrs.Delete(name)
}

func (c *Connection) AttributeNames() []string {
	names := make([]string, 0, c.attrs.Size())
	c.attrs.Range(func(k string, _ any) bool {
		names = append(names, k)
		return true
	})
	sort.Strings(names)
	return names
}

func (c *Connection) String() string {
	addr := func(ep network.Endpoint) string {
		if ep == nil {
			return "-"
		}
		return ep.Address()
	}
	return fmt.Sprintf("Connection[%d, reliable=%s, fast=%s]", c.id,
		addr(c.channels[network.ChannelReliable]), addr(c.channels[network.ChannelUnreliable]))
}

// Attribute 带类型断言的取值
func Attribute[T any](c *Connection, name string) (T, bool) {
	var zero T
	v, ok := c.attrs.Load(name)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}
