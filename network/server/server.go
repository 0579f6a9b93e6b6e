// Package server 服务端：把每个客户端的可靠/快速两个端点组合为一个逻辑连接
package server

import (
	"fmt"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"github.com/YiuTerran/duplex/network/listener"
	"github.com/YiuTerran/duplex/network/processor"
	"github.com/YiuTerran/duplex/network/reader"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

type Server struct {
	name             string
	version          int
	codec            network.Codec
	handshakeTimeout time.Duration
	registerer       prometheus.Registerer

	kernels   [2]network.Kernel
	readers   [2]*reader.KernelReader
	framer    *frame.Framer
	registry  *ConnectionRegistry
	listeners *listener.Registry[*Connection]
	metrics   *metrics
	logger    log.Fields

	state atomic.Int32
}

type Option func(*Server)

// WithName 客户端的名字不一致时拒绝连接
func WithName(name string) Option {
	return func(s *Server) {
		s.name = name
	}
}

func WithVersion(version int) Option {
	return func(s *Server) {
		s.version = version
	}
}

// WithCodec 默认使用json，应用消息需要先注册到codec
func WithCodec(codec network.Codec) Option {
	return func(s *Server) {
		s.codec = codec
	}
}

// WithHandshakeTimeout 只建立了部分通道的注册超时后关闭
func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		s.handshakeTimeout = timeout
	}
}

func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Server) {
		s.registerer = reg
	}
}

// New fast可以为nil，此时所有消息都走可靠通道
func New(reliable, fast network.Kernel, options ...Option) (*Server, error) {
	if reliable == nil {
		return nil, fmt.Errorf("%w: reliable kernel is required", network.ErrConfiguration)
	}
	s := &Server{
		name:    network.DefaultName,
		version: network.DefaultVersion,
		kernels: [2]network.Kernel{reliable, fast},
	}
	for _, opt := range options {
		opt(s)
	}
	if s.codec == nil {
		s.codec = processor.NewJsonProcessor()
	}
	s.framer = frame.NewFramer(s.codec)
	channels := 1
	if fast != nil {
		channels = 2
	}
	s.registry = NewConnectionRegistry(channels, s.framer, s.handshakeTimeout)
	s.listeners = listener.NewRegistry[*Connection]()
	s.metrics = newMetrics(s.registerer, s.name)
	s.registry.AddListener(s.metrics)
	s.logger = log.Fields{"name": s.name, "version": s.version}.WithPrefix("server")
	h := &kernelHandler{s}
	for i, k := range s.kernels {
		if k != nil {
			s.readers[i] = reader.NewKernelReader(network.Channel(i), k, s.framer, h)
		}
	}
	return s, nil
}

func (s *Server) Start() error {
	if !s.state.CompareAndSwap(reader.Created, reader.Running) {
		return fmt.Errorf("%w: server already started", network.ErrIllegalState)
	}
	for i, k := range s.kernels {
		if k == nil {
			continue
		}
		if err := k.Initialize(); err != nil {
			s.state.Store(reader.Stopped)
			for j := 0; j < i; j++ {
				_ = s.kernels[j].Terminate()
			}
			return fmt.Errorf("initialize %v kernel: %w", network.Channel(i), err)
		}
	}
	for _, r := range s.readers {
		if r != nil {
			_ = r.Start()
		}
	}
	s.logger.Info("started with %d channels", s.registry.channelCount)
	return nil
}

// Close 会等待读协程退出，不能在监听回调里调用
// 重复调用直接返回nil，未启动时返回ErrIllegalState
func (s *Server) Close() (err error) {
	if !s.state.CompareAndSwap(reader.Running, reader.Stopped) {
		if s.state.Load() == reader.Stopped {
			return nil
		}
		return fmt.Errorf("%w: server is not running", network.ErrIllegalState)
	}
	for _, r := range s.readers {
		if r != nil {
			err = multierr.Append(err, r.Close())
		}
	}
	for _, r := range s.readers {
		if r != nil {
			r.Wait()
		}
	}
	s.logger.Info("closed")
	return err
}

func (s *Server) IsRunning() bool {
	return s.state.Load() == reader.Running
}

func (s *Server) Name() string {
	return s.name
}

func (s *Server) Version() int {
	return s.version
}

// Broadcast filter为nil时发给所有连接
func (s *Server) Broadcast(msg network.Message, filter network.Filter[*Connection]) error {
	if !s.HasConnections() {
		return nil
	}
	data, err := s.framer.Encode(msg)
	if err != nil {
		return err
	}
	channel := network.ChannelReliable
	if !msg.IsReliable() && s.kernels[network.ChannelUnreliable] != nil {
		channel = network.ChannelUnreliable
	}
	return s.kernels[channel].Broadcast(func(ep network.Endpoint) bool {
		conn := s.registry.Lookup(ep)
		if conn == nil || conn.Endpoint(channel) != ep {
			return false
		}
		return filter == nil || filter(conn)
	}, data, channel == network.ChannelReliable)
}

func (s *Server) Connections() []*Connection {
	return s.registry.Connections()
}

func (s *Server) Connection(id int64) *Connection {
	return s.registry.Connection(id)
}

func (s *Server) HasConnections() bool {
	return s.registry.Len() > 0
}

func (s *Server) AddConnectionListener(l ConnectionListener) {
	s.registry.AddListener(l)
}

func (s *Server) RemoveConnectionListener(l ConnectionListener) {
	s.registry.RemoveListener(l)
}

// AddMessageListener msgTypes为空时监听所有应用消息
func (s *Server) AddMessageListener(l listener.MessageListener[*Connection], msgTypes ...network.Message) {
	s.listeners.Add(l, msgTypes...)
}

func (s *Server) RemoveMessageListener(l listener.MessageListener[*Connection], msgTypes ...network.Message) {
	s.listeners.Remove(l, msgTypes...)
}

func (s *Server) register(channel network.Channel, ep network.Endpoint, reg *network.ClientRegistration) {
	if reg.Reliable != (channel == network.ChannelReliable) {
		s.logger.Warn("registration %d from %s claims reliable=%v on %v channel", reg.ID, ep.Address(), reg.Reliable, channel)
	}
	if channel == network.ChannelReliable && (reg.Name != s.name || reg.Version != s.version) {
		s.logger.Warn("reject %s: client %s@%d", ep.Address(), reg.Name, reg.Version)
		s.metrics.rejected()
		s.kick(ep, fmt.Sprintf("server client mismatch, need %s@%d", s.name, s.version))
		s.registry.Discard(reg.ID)
		return
	}
	if _, err := s.registry.RegisterChannel(reg.ID, channel, ep); err != nil {
		s.logger.Warn("register %v channel from %s: %v", channel, ep.Address(), err)
		s.metrics.failed()
	}
}

func (s *Server) kick(ep network.Endpoint, reason string) {
	data, err := s.framer.Encode(&network.Disconnect{Type: network.DisconnectKick, Reason: reason})
	if err == nil {
		err = ep.Send(data)
	}
	if err != nil {
		s.logger.Debug("send disconnect to %s: %v", ep.Address(), err)
	}
	_ = ep.Close()
}

func (s *Server) dispatch(channel network.Channel, ep network.Endpoint, msg network.Message) {
	conn := s.registry.Lookup(ep)
	if conn == nil {
		s.metrics.dropped.Inc()
		s.logger.Warn("drop unsolicited %T from %s on %v channel", msg, ep.Address(), channel)
		return
	}
	s.metrics.received(channel)
	conn.dispatchLock.Lock()
	defer conn.dispatchLock.Unlock()
	n, err := s.listeners.Dispatch(conn, msg)
	if err != nil {
		s.logger.Error("dispatch %T from %v: %v", msg, conn, err)
	}
	if n == 0 {
		s.logger.Debug("no listener for %T", msg)
	}
}

// kernelHandler 避免在Server上暴露回调方法
type kernelHandler struct {
	s *Server
}

func (h *kernelHandler) EndpointAdded(channel network.Channel, ep network.Endpoint) {
	h.s.logger.Debug("%v endpoint %s connected", channel, ep.Address())
}

func (h *kernelHandler) EndpointRemoved(_ network.Channel, ep network.Endpoint) {
	h.s.registry.RemoveEndpoint(ep)
}

func (h *kernelHandler) MessageReceived(channel network.Channel, ep network.Endpoint, msg network.Message) {
	if reg, ok := msg.(*network.ClientRegistration); ok {
		h.s.register(channel, ep, reg)
		return
	}
	h.s.dispatch(channel, ep, msg)
}

func (h *kernelHandler) MessageError(channel network.Channel, ep network.Endpoint, err error) {
	h.s.logger.Warn("bad frame from %s on %v channel: %v", ep.Address(), channel, err)
}
