// Package mem 进程内的传输层，一对Connector/Endpoint通过队列直连
// 主要用于测试和单机调试
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/kernel"
	"github.com/smallnest/chanx"
)

// Kernel 服务端，通过Dial产生新的连接
type Kernel struct {
	kernel.Base
	name string

	mu          sync.Mutex
	initialized bool
}

var _ network.Kernel = (*Kernel)(nil)

func NewKernel(name string) *Kernel {
	k := &Kernel{name: name}
	k.Base.Init()
	return k
}

func (k *Kernel) Initialize() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.initialized {
		return fmt.Errorf("%w: mem kernel %s already initialized", network.ErrIllegalState, k.name)
	}
	k.initialized = true
	return nil
}

func (k *Kernel) Broadcast(filter network.Filter[network.Endpoint], data []byte, _ bool) error {
	return k.Base.Broadcast(filter, data)
}

func (k *Kernel) Terminate() error {
	return k.Base.Shutdown()
}

// Dial 建立一条新连接，返回客户端一侧
func (k *Kernel) Dial() (*Connector, error) {
	if k.Closed() {
		return nil, network.ErrKernelClosed
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &pipe{
		kernel:   k,
		inbox:    chanx.NewUnboundedChan[[]byte](ctx, 16),
		cancel:   cancel,
		closeSig: make(chan struct{}),
		readSig:  make(chan struct{}),
	}
	p.ep = &endpoint{id: k.NextEndpointID(), pipe: p}
	k.AddEndpoint(p.ep)
	return &Connector{pipe: p}, nil
}

type pipe struct {
	kernel   *Kernel
	ep       *endpoint
	inbox    *chanx.UnboundedChan[[]byte]
	cancel   context.CancelFunc
	closeSig chan struct{}
	readSig  chan struct{}
	once     sync.Once
	readOnce sync.Once
}

func (p *pipe) closed() bool {
	select {
	case <-p.closeSig:
		return true
	default:
		return false
	}
}

// close 两端共用，端点的移除事件同步入队
// graceful时客户端先读完已经发出的数据再收到关闭
func (p *pipe) close(graceful bool) {
	p.once.Do(func() {
		close(p.closeSig)
		p.kernel.RemoveEndpoint(p.ep)
		if graceful {
			select {
			case p.inbox.In <- nil:
			case <-p.readSig:
			}
		}
	})
	if !graceful {
		p.stopRead()
	}
}

func (p *pipe) stopRead() {
	p.readOnce.Do(func() {
		close(p.readSig)
		p.cancel()
	})
}

func clone(data []byte) []byte {
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf
}

type endpoint struct {
	id   uint64
	pipe *pipe
}

func (e *endpoint) ID() uint64 {
	return e.id
}

func (e *endpoint) Address() string {
	return fmt.Sprintf("mem://%s/%d", e.pipe.kernel.name, e.id)
}

func (e *endpoint) Send(data []byte) error {
	select {
	case <-e.pipe.closeSig:
		return network.ErrEndpointClosed
	case e.pipe.inbox.In <- clone(data):
		return nil
	}
}

func (e *endpoint) Close() error {
	e.pipe.close(true)
	return nil
}

func (e *endpoint) IsConnected() bool {
	return !e.pipe.closed()
}

func (e *endpoint) String() string {
	return e.Address()
}

// Connector 客户端一侧
type Connector struct {
	pipe *pipe
}

var _ network.Connector = (*Connector)(nil)

func (c *Connector) Read() ([]byte, error) {
	select {
	case data, ok := <-c.pipe.inbox.Out:
		if !ok || data == nil {
			c.pipe.stopRead()
			return nil, network.ErrEndpointClosed
		}
		return data, nil
	case <-c.pipe.readSig:
		return nil, network.ErrEndpointClosed
	}
}

func (c *Connector) Write(data []byte) error {
	if c.pipe.closed() {
		return network.ErrEndpointClosed
	}
	c.pipe.kernel.Deliver(c.pipe.ep, clone(data))
	return nil
}

func (c *Connector) Close() error {
	c.pipe.close(false)
	return nil
}

func (c *Connector) IsConnected() bool {
	return !c.pipe.closed()
}

// Endpoint 服务端一侧，测试中用来模拟服务端主动断开
func (c *Connector) Endpoint() network.Endpoint {
	return c.pipe.ep
}
