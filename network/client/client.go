// Package client 客户端：同时连接可靠和快速两个通道，通过握手合并为一个逻辑连接
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"github.com/YiuTerran/duplex/network/listener"
	"github.com/YiuTerran/duplex/network/processor"
	"github.com/YiuTerran/duplex/network/reader"
	"go.uber.org/atomic"
)

const (
	connectionErrorReason    = "connection error"
	registrationFailedReason = "registration failed"
)

var (
	tempIDSeq   atomic.Int64
	processBoot = time.Now()
)

// newTempID 同一进程内不会重复，不同进程靠时间戳区分
func newTempID() int64 {
	return time.Now().UnixMilli() + time.Since(processBoot).Nanoseconds() + tempIDSeq.Inc()
}

type Client struct {
	name    string
	version int
	codec   network.Codec

	connectors [2]network.Connector
	readers    [2]*reader.ConnectorReader
	framer     *frame.Framer
	logger     log.Fields

	tempID    int64
	id        atomic.Int64
	state     atomic.Int32
	connected atomic.Bool

	connectedSig  chan struct{}
	connectedOnce sync.Once
	closedSig     chan struct{}
	// 状态切换和info的写入在同一把锁里，停止后info一定可见
	closeLock sync.Mutex
	info      atomic.Pointer[DisconnectInfo]

	stateListeners listener.List[StateListener]
	errorListeners listener.List[ErrorListener]
	messages       *listener.Registry[*Client]
	// 两个读协程的消息串行分发
	dispatchLock sync.Mutex
}

type Option func(*Client)

func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

func WithVersion(version int) Option {
	return func(c *Client) {
		c.version = version
	}
}

// WithCodec 需要和服务端使用相同的codec及注册的消息
func WithCodec(codec network.Codec) Option {
	return func(c *Client) {
		c.codec = codec
	}
}

// New fast可以为nil，此时所有消息都走可靠通道
func New(reliable, fast network.Connector, options ...Option) *Client {
	c := &Client{
		name:         network.DefaultName,
		version:      network.DefaultVersion,
		connectors:   [2]network.Connector{reliable, fast},
		connectedSig: make(chan struct{}),
		closedSig:    make(chan struct{}),
		messages:     listener.NewRegistry[*Client](),
	}
	c.id.Store(-1)
	for _, opt := range options {
		opt(c)
	}
	if c.codec == nil {
		c.codec = processor.NewJsonProcessor()
	}
	c.framer = frame.NewFramer(c.codec)
	c.logger = log.Fields{"name": c.name}.WithPrefix("client")
	for i, conn := range c.connectors {
		if conn == nil {
			continue
		}
		channel := network.Channel(i)
		c.readers[i] = reader.NewConnectorReader(channel, conn, c.framer, c.dispatch,
			func(err error, fatal bool) { c.handleError(channel, err, fatal) })
	}
	return c
}

func (c *Client) Start() error {
	if c.connectors[network.ChannelReliable] == nil {
		return fmt.Errorf("%w: reliable connector is required", network.ErrConfiguration)
	}
	if !c.state.CompareAndSwap(reader.Created, reader.Running) {
		return fmt.Errorf("%w: client is %s", network.ErrIllegalState, c.stateName())
	}
	c.tempID = newTempID()
	for _, r := range c.readers {
		if r != nil {
			_ = r.Start()
		}
	}
	c.logger.Debug("register with temp id %d", c.tempID)
	if err := c.Send(&network.ClientRegistration{
		ID: c.tempID, Reliable: true, Name: c.name, Version: c.version,
	}); err != nil {
		return c.abortStart(network.ChannelReliable, err)
	}
	if c.readers[network.ChannelUnreliable] != nil {
		if err := c.write(network.ChannelUnreliable, &network.ClientRegistration{ID: c.tempID}); err != nil {
			return c.abortStart(network.ChannelUnreliable, err)
		}
	}
	return nil
}

// abortStart 注册发送失败时停止读协程，客户端进入Stopped
func (c *Client) abortStart(channel network.Channel, err error) error {
	err = fmt.Errorf("send %v registration: %w", channel, err)
	_ = c.closeWith(&DisconnectInfo{Reason: registrationFailedReason, Err: err})
	return err
}

// Send 可靠消息或者没有快速通道时走可靠通道
func (c *Client) Send(msg network.Message) error {
	channel := network.ChannelReliable
	if !msg.IsReliable() && c.readers[network.ChannelUnreliable] != nil {
		channel = network.ChannelUnreliable
	}
	return c.write(channel, msg)
}

func (c *Client) write(channel network.Channel, msg network.Message) error {
	if c.state.Load() != reader.Running {
		return fmt.Errorf("%w: client is %s", network.ErrNotStarted, c.stateName())
	}
	data, err := c.framer.Encode(msg)
	if err != nil {
		return err
	}
	return c.readers[channel].Write(data)
}

// Close 不等待读协程退出，可以在监听回调中调用
func (c *Client) Close() error {
	return c.closeWith(nil)
}

func (c *Client) closeWith(info *DisconnectInfo) error {
	c.closeLock.Lock()
	if !c.state.CompareAndSwap(reader.Running, reader.Stopped) {
		c.closeLock.Unlock()
		return fmt.Errorf("%w: client is %s", network.ErrIllegalState, c.stateName())
	}
	c.info.Store(info)
	c.closeLock.Unlock()
	for _, r := range c.readers {
		if r != nil {
			_ = r.Close()
		}
	}
	c.connected.Store(false)
	close(c.closedSig)
	c.logger.Info("disconnected: %v", info)
	for _, l := range c.stateListeners.Snapshot() {
		c.safeCall(func() { l.ClientDisconnected(c, info) })
	}
	return nil
}

// WaitForConnected 等待握手完成
func (c *Client) WaitForConnected(ctx context.Context) error {
	select {
	case <-c.connectedSig:
		return nil
	case <-c.closedSig:
		return fmt.Errorf("%w: %v", network.ErrEndpointClosed, c.info.Load())
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait 等待读协程全部退出
func (c *Client) Wait() {
	for _, r := range c.readers {
		if r != nil {
			r.Wait()
		}
	}
}

// ID 握手完成前为-1
func (c *Client) ID() int64 {
	return c.id.Load()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) IsStarted() bool {
	return c.state.Load() == reader.Running
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Version() int {
	return c.version
}

// DisconnectInfo 关闭的原因，未关闭或者主动关闭时为nil
func (c *Client) DisconnectInfo() *DisconnectInfo {
	c.closeLock.Lock()
	defer c.closeLock.Unlock()
	return c.info.Load()
}

func (c *Client) stateName() string {
	switch c.state.Load() {
	case reader.Created:
		return "not started"
	case reader.Running:
		return "running"
	default:
		return "closed"
	}
}

func (c *Client) AddStateListener(l StateListener) {
	c.stateListeners.Add(l)
}

func (c *Client) RemoveStateListener(l StateListener) {
	c.stateListeners.Remove(l)
}

func (c *Client) AddErrorListener(l ErrorListener) {
	c.errorListeners.Add(l)
}

func (c *Client) RemoveErrorListener(l ErrorListener) {
	c.errorListeners.Remove(l)
}

// AddMessageListener msgTypes为空时监听所有应用消息
func (c *Client) AddMessageListener(l listener.MessageListener[*Client], msgTypes ...network.Message) {
	c.messages.Add(l, msgTypes...)
}

func (c *Client) RemoveMessageListener(l listener.MessageListener[*Client], msgTypes ...network.Message) {
	c.messages.Remove(l, msgTypes...)
}

func (c *Client) dispatch(msg network.Message) {
	switch m := msg.(type) {
	case *network.ClientRegistration:
		c.registered(m)
	case *network.Disconnect:
		c.logger.Info("server %s: %s", m.Type, m.Reason)
		_ = c.closeWith(&DisconnectInfo{Reason: m.Reason})
	default:
		c.dispatchLock.Lock()
		defer c.dispatchLock.Unlock()
		n, err := c.messages.Dispatch(c, msg)
		if err != nil {
			c.logger.Error("dispatch %T: %v", msg, err)
		}
		if n == 0 {
			c.logger.Debug("no listener for %T", msg)
		}
	}
}

func (c *Client) registered(ack *network.ClientRegistration) {
	if c.state.Load() != reader.Running {
		return
	}
	if !c.connected.CompareAndSwap(false, true) {
		c.logger.Warn("duplicate registration ack %d", ack.ID)
		return
	}
	c.id.Store(ack.ID)
	c.connectedOnce.Do(func() { close(c.connectedSig) })
	c.logger.Info("connected with id %d", ack.ID)
	for _, l := range c.stateListeners.Snapshot() {
		c.safeCall(func() { l.ClientConnected(c) })
	}
}

func (c *Client) handleError(channel network.Channel, err error, fatal bool) {
	if !fatal {
		c.logger.Warn("%v channel: %v", channel, err)
		return
	}
	if c.state.Load() != reader.Running {
		return
	}
	ls := c.errorListeners.Snapshot()
	if len(ls) == 0 {
		_ = c.closeWith(&DisconnectInfo{Reason: connectionErrorReason, Err: err})
		return
	}
	for _, l := range ls {
		c.safeCall(func() { l.HandleError(c, channel, err) })
	}
}

func (c *Client) safeCall(f func()) {
	defer func() {
		if p := recover(); p != nil {
			log.PanicStack("client listener", p)
		}
	}()
	f()
}
