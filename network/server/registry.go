package server

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"github.com/YiuTerran/duplex/network/listener"
	"github.com/samber/lo"
)

// ConnectionListener 回调不在注册表的锁内执行
type ConnectionListener interface {
	ConnectionAdded(conn *Connection)
	ConnectionRemoved(conn *Connection)
}

// pendingRegistration 尚未集齐所有通道的注册
type pendingRegistration struct {
	tempID   int64
	channels [2]network.Endpoint
	timer    *time.Timer
}

func (p *pendingRegistration) endpoints() []network.Endpoint {
	return lo.Filter(p.channels[:], func(ep network.Endpoint, _ int) bool { return ep != nil })
}

// ConnectionRegistry 把同一个tempId的多个端点组合成一个逻辑连接
type ConnectionRegistry struct {
	channelCount     int
	framer           *frame.Framer
	handshakeTimeout time.Duration
	listeners        listener.List[ConnectionListener]

	lock              sync.Mutex
	nextID            int64
	pending           map[int64]*pendingRegistration
	pendingByEndpoint map[network.Endpoint]int64
	byID              map[int64]*Connection
	byEndpoint        map[network.Endpoint]*Connection
}

// NewConnectionRegistry channelCount为1时只需要可靠通道
// handshakeTimeout为0时不检查超时
func NewConnectionRegistry(channelCount int, framer *frame.Framer, handshakeTimeout time.Duration) *ConnectionRegistry {
	if channelCount < 1 || channelCount > 2 {
		log.Fatal("invalid channel count %d", channelCount)
	}
	return &ConnectionRegistry{
		channelCount:      channelCount,
		framer:            framer,
		handshakeTimeout:  handshakeTimeout,
		pending:           make(map[int64]*pendingRegistration),
		pendingByEndpoint: make(map[network.Endpoint]int64),
		byID:              make(map[int64]*Connection),
		byEndpoint:        make(map[network.Endpoint]*Connection),
	}
}

func (r *ConnectionRegistry) AddListener(l ConnectionListener) {
	r.listeners.Add(l)
}

func (r *ConnectionRegistry) RemoveListener(l ConnectionListener) bool {
	return r.listeners.Remove(l)
}

// RegisterChannel 记录一个通道，集齐后返回新的连接，否则返回nil
func (r *ConnectionRegistry) RegisterChannel(tempID int64, channel network.Channel, ep network.Endpoint) (*Connection, error) {
	if channel < 0 || int(channel) >= r.channelCount {
		return nil, fmt.Errorf("%w: %v channel is not served", network.ErrConfiguration, channel)
	}
	r.lock.Lock()
	if conn, ok := r.byEndpoint[ep]; ok {
		r.lock.Unlock()
		log.Debug("endpoint %s already belongs to connection %d", ep.Address(), conn.id)
		return nil, nil
	}
	if prev, ok := r.pendingByEndpoint[ep]; ok && prev != tempID {
		r.lock.Unlock()
		_ = ep.Close()
		return nil, fmt.Errorf("%w: endpoint %s already used by %d", network.ErrChannelAlreadyRegistered, ep.Address(), prev)
	}
	p, ok := r.pending[tempID]
	if !ok {
		p = &pendingRegistration{tempID: tempID}
		r.pending[tempID] = p
		if r.handshakeTimeout > 0 {
			p.timer = time.AfterFunc(r.handshakeTimeout, func() { r.expire(p) })
		}
	}
	if old := p.channels[channel]; old != nil && old != ep {
		r.lock.Unlock()
		_ = ep.Close()
		return nil, fmt.Errorf("%w: %v channel of %d", network.ErrChannelAlreadyRegistered, channel, tempID)
	}
	p.channels[channel] = ep
	r.pendingByEndpoint[ep] = tempID
	for i := 0; i < r.channelCount; i++ {
		if p.channels[i] == nil {
			r.lock.Unlock()
			log.Debug("pending registration %d got %v channel from %s", tempID, channel, ep.Address())
			return nil, nil
		}
	}
	r.dropPending(p)
	r.nextID++
	conn := newConnection(r.nextID, p.channels, r.framer)
	r.byID[conn.id] = conn
	for _, e := range p.endpoints() {
		r.byEndpoint[e] = conn
	}
	conn.lifecycle.Lock()
	r.lock.Unlock()

	defer conn.lifecycle.Unlock()
	if err := conn.Send(&network.ClientRegistration{ID: conn.id, Reliable: true}); err != nil {
		log.Warn("send registration ack to %v: %v", conn, err)
	}
	log.Info("%v registered", conn)
	for _, l := range r.listeners.Snapshot() {
		r.safeNotify(func() { l.ConnectionAdded(conn) })
	}
	return conn, nil
}

// dropPending 需要持有锁
func (r *ConnectionRegistry) dropPending(p *pendingRegistration) {
	delete(r.pending, p.tempID)
	for _, e := range p.endpoints() {
		delete(r.pendingByEndpoint, e)
	}
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (r *ConnectionRegistry) expire(p *pendingRegistration) {
	r.lock.Lock()
	if r.pending[p.tempID] != p {
		r.lock.Unlock()
		return
	}
	r.dropPending(p)
	eps := p.endpoints()
	r.lock.Unlock()
	log.Warn("registration %d timeout with %d of %d channels", p.tempID, len(eps), r.channelCount)
	closeAll(eps)
}

// Discard 丢弃未完成的注册并关闭其端点
func (r *ConnectionRegistry) Discard(tempID int64) {
	r.lock.Lock()
	p, ok := r.pending[tempID]
	if !ok {
		r.lock.Unlock()
		return
	}
	r.dropPending(p)
	r.lock.Unlock()
	closeAll(p.endpoints())
}

// RemoveEndpoint 幂等，连接的任一端点移除都会移除整个连接并关闭其他通道
func (r *ConnectionRegistry) RemoveEndpoint(ep network.Endpoint) *Connection {
	r.lock.Lock()
	conn, ok := r.byEndpoint[ep]
	if !ok {
		var others []network.Endpoint
		if tempID, pending := r.pendingByEndpoint[ep]; pending {
			p := r.pending[tempID]
			r.dropPending(p)
			others = lo.Without(p.endpoints(), ep)
		}
		r.lock.Unlock()
		closeAll(others)
		return nil
	}
	for _, e := range conn.channels {
		if e != nil {
			delete(r.byEndpoint, e)
		}
	}
	delete(r.byID, conn.id)
	conn.closed.Store(true)
	r.lock.Unlock()

	for _, e := range conn.channels {
		if e != nil && e != ep && e.IsConnected() {
			_ = e.Close()
		}
	}
	conn.lifecycle.Lock()
	defer conn.lifecycle.Unlock()
	log.Info("%v removed", conn)
	for _, l := range r.listeners.Snapshot() {
		r.safeNotify(func() { l.ConnectionRemoved(conn) })
	}
	return conn
}

func (r *ConnectionRegistry) Lookup(ep network.Endpoint) *Connection {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.byEndpoint[ep]
}

func (r *ConnectionRegistry) Connection(id int64) *Connection {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.byID[id]
}

// Connections 按id排序的快照
func (r *ConnectionRegistry) Connections() []*Connection {
	r.lock.Lock()
	conns := lo.Values(r.byID)
	r.lock.Unlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}

func (r *ConnectionRegistry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.byID)
}

func (r *ConnectionRegistry) PendingLen() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.pending)
}

func (r *ConnectionRegistry) safeNotify(f func()) {
	defer func() {
		if p := recover(); p != nil {
			log.PanicStack("connection listener", p)
		}
	}()
	f()
}

func closeAll(eps []network.Endpoint) {
	for _, ep := range eps {
		_ = ep.Close()
	}
}
