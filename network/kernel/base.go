// Package kernel 服务端传输层的公共部分：端点表、事件队列和数据队列
// 具体的tcp/udp/ws实现只需要负责收发字节
package kernel

import (
	"context"
	"sync"

	"github.com/YiuTerran/duplex/base/structs/syncmap"
	"github.com/YiuTerran/duplex/network"
	"github.com/smallnest/chanx"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const initQueueSize = 1024

type Base struct {
	envelopes *chanx.UnboundedChan[network.Envelope]
	endpoints syncmap.Map[uint64, network.Endpoint]
	nextID    atomic.Uint64

	eventLock sync.Mutex
	events    []network.EndpointEvent

	cancel    context.CancelFunc
	closeSig  chan struct{}
	closeOnce sync.Once
}

// Init 必须在使用前调用
func (b *Base) Init() {
	ctx, cancel := context.WithCancel(context.Background())
	b.envelopes = chanx.NewUnboundedChan[network.Envelope](ctx, initQueueSize)
	b.cancel = cancel
	b.closeSig = make(chan struct{})
}

// NextEndpointID 从1开始
func (b *Base) NextEndpointID() uint64 {
	return b.nextID.Inc()
}

func (b *Base) Closed() bool {
	select {
	case <-b.closeSig:
		return true
	default:
		return false
	}
}

// Read 阻塞等待数据或事件，关闭后队列里剩余的数据被丢弃
func (b *Base) Read() (network.Envelope, error) {
	if b.Closed() {
		return network.Envelope{}, network.ErrKernelClosed
	}
	select {
	case env, ok := <-b.envelopes.Out:
		if !ok {
			return network.Envelope{}, network.ErrKernelClosed
		}
		return env, nil
	case <-b.closeSig:
		return network.Envelope{}, network.ErrKernelClosed
	}
}

// Deliver 由各端点的读协程调用
func (b *Base) Deliver(source network.Endpoint, data []byte) {
	b.push(network.Envelope{Source: source, Data: data})
}

func (b *Base) push(env network.Envelope) {
	select {
	case b.envelopes.In <- env:
	case <-b.closeSig:
	}
}

func (b *Base) addEvent(ev network.EndpointEvent) {
	b.eventLock.Lock()
	b.events = append(b.events, ev)
	b.eventLock.Unlock()
	// 空的envelope用来唤醒阻塞在Read上的读协程
	b.push(network.Envelope{})
}

func (b *Base) NextEvent() (network.EndpointEvent, bool) {
	b.eventLock.Lock()
	defer b.eventLock.Unlock()
	if len(b.events) == 0 {
		return network.EndpointEvent{}, false
	}
	ev := b.events[0]
	b.events[0] = network.EndpointEvent{}
	b.events = b.events[1:]
	return ev, true
}

func (b *Base) AddEndpoint(ep network.Endpoint) {
	b.endpoints.Store(ep.ID(), ep)
	b.addEvent(network.EndpointEvent{Type: network.EndpointAdded, Endpoint: ep})
}

// RemoveEndpoint 幂等，只有第一次会产生事件
func (b *Base) RemoveEndpoint(ep network.Endpoint) {
	if _, ok := b.endpoints.LoadAndDelete(ep.ID()); !ok {
		return
	}
	b.eventLock.Lock()
	b.events = append(b.events, network.EndpointEvent{Type: network.EndpointRemoved, Endpoint: ep})
	b.eventLock.Unlock()
	// Terminate之后不再需要唤醒，读协程退出前会再处理一次事件
	if !b.Closed() {
		b.push(network.Envelope{})
	}
}

func (b *Base) EndpointCount() int {
	return b.endpoints.Size()
}

// Broadcast 端点的Send只是入队，一个慢的端点不会阻塞其他端点
func (b *Base) Broadcast(filter network.Filter[network.Endpoint], data []byte) (err error) {
	b.endpoints.Range(func(_ uint64, ep network.Endpoint) bool {
		if filter != nil && !filter(ep) {
			return true
		}
		err = multierr.Append(err, ep.Send(data))
		return true
	})
	return err
}

// Shutdown 关闭所有端点，之后Read返回ErrKernelClosed
// 端点的移除事件在关闭信号之前入队
func (b *Base) Shutdown() (err error) {
	b.endpoints.Range(func(_ uint64, ep network.Endpoint) bool {
		err = multierr.Append(err, ep.Close())
		return true
	})
	b.closeOnce.Do(func() {
		close(b.closeSig)
		b.cancel()
	})
	return err
}
