package tcp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/base/structs/set"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/kernel"
)

// Kernel 服务端的tcp监听，每个连接一个读协程和一个写协程
type Kernel struct {
	kernel.Base
	addr         string
	maxConnNum   int
	readBuffer   int
	writeTimeout time.Duration

	ln        net.Listener
	cons      *set.Set[net.Conn]
	mutexCons sync.Mutex
	wgLn      sync.WaitGroup
	wgCons    sync.WaitGroup
}

var _ network.Kernel = (*Kernel)(nil)

type Option func(*Kernel)

// MaxConnNum 超出后新连接直接关闭，0表示不限制
func MaxConnNum(num int) Option {
	return func(k *Kernel) {
		k.maxConnNum = num
	}
}

func KernelReadBufferSize(size int) Option {
	return func(k *Kernel) {
		k.readBuffer = size
	}
}

func KernelWriteTimeout(dr time.Duration) Option {
	return func(k *Kernel) {
		k.writeTimeout = dr
	}
}

func NewKernel(addr string, options ...Option) *Kernel {
	k := &Kernel{
		addr:         addr,
		readBuffer:   defaultReadBufferSize,
		writeTimeout: defaultWriteTimeout,
	}
	for _, option := range options {
		option(k)
	}
	k.Base.Init()
	return k
}

func (k *Kernel) Initialize() error {
	if k.ln != nil {
		return fmt.Errorf("%w: tcp kernel already listening on %v", network.ErrIllegalState, k.ln.Addr())
	}
	ln, err := net.Listen("tcp", k.addr)
	if err != nil {
		return fmt.Errorf("fail to start tcp kernel: %w", err)
	}
	k.ln = ln
	k.cons = set.NewSet[net.Conn]()
	k.wgLn.Add(1)
	go k.run()
	log.Info("tcp kernel listening on %v", ln.Addr())
	return nil
}

// Addr 监听的实际地址，端口为0时由系统分配
func (k *Kernel) Addr() net.Addr {
	if k.ln == nil {
		return nil
	}
	return k.ln.Addr()
}

func (k *Kernel) run() {
	defer k.wgLn.Done()

	var tempDelay time.Duration
	for {
		conn, err := k.ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				log.Info("accept error: %v; retrying in %v", err, tempDelay)
				time.Sleep(tempDelay)
				continue
			}
			return
		}
		tempDelay = 0

		k.mutexCons.Lock()
		if k.maxConnNum > 0 && k.cons.Size() >= k.maxConnNum {
			k.mutexCons.Unlock()
			_ = conn.Close()
			log.Warn("too many tcp connections")
			continue
		}
		k.cons.AddItem(conn)
		k.mutexCons.Unlock()

		k.wgCons.Add(1)
		ep := &endpoint{
			Conn:   newConn(conn, k.readBuffer, k.writeTimeout),
			id:     k.NextEndpointID(),
			kernel: k,
		}
		k.AddEndpoint(ep)
		go func() {
			defer k.wgCons.Done()
			for {
				data, err := ep.ReadChunk()
				if err != nil {
					break
				}
				k.Deliver(ep, data)
			}
			_ = ep.Close()
			k.mutexCons.Lock()
			k.cons.RemoveItem(conn)
			k.mutexCons.Unlock()
		}()
	}
}

func (k *Kernel) Broadcast(filter network.Filter[network.Endpoint], data []byte, _ bool) error {
	return k.Base.Broadcast(filter, data)
}

// Terminate 停止监听，关闭所有连接并等待读协程退出
func (k *Kernel) Terminate() error {
	if k.ln != nil {
		_ = k.ln.Close()
		k.wgLn.Wait()
	}
	err := k.Shutdown()
	k.wgCons.Wait()
	return err
}

type endpoint struct {
	*Conn
	id     uint64
	kernel *Kernel
}

func (e *endpoint) ID() uint64 {
	return e.id
}

func (e *endpoint) Address() string {
	return "tcp://" + e.RemoteAddr().String()
}

func (e *endpoint) Send(data []byte) error {
	return e.Write(data)
}

// Close 同步移除端点，保证移除事件在Terminate的关闭信号之前入队
func (e *endpoint) Close() error {
	e.Conn.Close()
	e.kernel.RemoveEndpoint(e)
	return nil
}

func (e *endpoint) IsConnected() bool {
	return !e.IsClosed()
}

func (e *endpoint) String() string {
	return e.Address()
}
