package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/base/structs/syncmap"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/kernel"
	"github.com/smallnest/chanx"
	"go.uber.org/atomic"
)

type packet struct {
	addr net.Addr
	data []byte
}

// Kernel 按对端地址区分端点，所有端点共用一个socket
type Kernel struct {
	kernel.Base
	addr string
	// 发送失败后尝试次数
	failTry     int
	idleTimeout time.Duration

	conn      net.PacketConn
	byAddr    syncmap.Map[string, *endpoint]
	writeChan *chanx.UnboundedChan[*packet]
	cancel    context.CancelFunc
	closeSig  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ network.Kernel = (*Kernel)(nil)

type Option func(*Kernel)

func FailTry(n int) Option {
	return func(k *Kernel) {
		k.failTry = n
	}
}

// IdleTimeout 超过该时间没有收到包的端点会被移除，0表示不检查
func IdleTimeout(dr time.Duration) Option {
	return func(k *Kernel) {
		k.idleTimeout = dr
	}
}

func NewKernel(addr string, options ...Option) *Kernel {
	k := &Kernel{addr: addr}
	for _, option := range options {
		option(k)
	}
	if k.failTry < 0 {
		k.failTry = 0
	}
	k.Base.Init()
	return k
}

func (k *Kernel) Datagram() bool {
	return true
}

func (k *Kernel) Initialize() error {
	if k.conn != nil {
		return fmt.Errorf("%w: udp kernel already bound to %v", network.ErrIllegalState, k.conn.LocalAddr())
	}
	conn, err := net.ListenPacket("udp", k.addr)
	if err != nil {
		return fmt.Errorf("fail to bind udp port: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	k.conn = conn
	k.cancel = cancel
	k.closeSig = make(chan struct{})
	k.writeChan = chanx.NewUnboundedChan[*packet](ctx, SafePackageSize)
	k.wg.Add(2)
	go k.listen()
	go k.doWrite()
	if k.idleTimeout > 0 {
		k.wg.Add(1)
		go k.reap()
	}
	log.Info("udp kernel listening on %v", conn.LocalAddr())
	return nil
}

func (k *Kernel) Addr() net.Addr {
	if k.conn == nil {
		return nil
	}
	return k.conn.LocalAddr()
}

func (k *Kernel) listen() {
	defer k.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack("udp listen", r)
		}
	}()
	for {
		buffer := make([]byte, MaxPacketSize)
		n, addr, err := k.conn.ReadFrom(buffer)
		if err != nil {
			if isClosedErr(err) {
				return
			}
			log.Error("fail to read udp msg:%v", err)
			continue
		}
		ep := k.endpointOf(addr)
		ep.lastSeen.Store(time.Now().UnixNano())
		k.Deliver(ep, buffer[:n])
	}
}

func (k *Kernel) endpointOf(addr net.Addr) *endpoint {
	key := addr.String()
	if ep, ok := k.byAddr.Load(key); ok {
		return ep
	}
	ep := &endpoint{id: k.NextEndpointID(), addr: addr, kernel: k}
	k.byAddr.Store(key, ep)
	k.AddEndpoint(ep)
	return ep
}

func (k *Kernel) doWrite() {
	defer k.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.PanicStack("udp write", r)
		}
	}()
	for p := range k.writeChan.Out {
		if p == nil {
			break
		}
		count := k.failTry
		for count >= 0 {
			_, err := k.conn.WriteTo(p.data, p.addr)
			if err == nil {
				break
			}
			if isClosedErr(err) {
				return
			}
			log.Error("fail to write udp chan:%+v", err)
			count--
		}
	}
}

func (k *Kernel) reap() {
	defer k.wg.Done()
	ticker := time.NewTicker(k.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-k.closeSig:
			return
		case now := <-ticker.C:
			deadline := now.Add(-k.idleTimeout).UnixNano()
			k.byAddr.Range(func(_ string, ep *endpoint) bool {
				if ep.lastSeen.Load() < deadline {
					log.Debug("udp endpoint %s idle timeout", ep.Address())
					_ = ep.Close()
				}
				return true
			})
		}
	}
}

func (k *Kernel) send(addr net.Addr, data []byte) error {
	select {
	case <-k.closeSig:
		return network.ErrKernelClosed
	case k.writeChan.In <- &packet{addr: addr, data: data}:
		return nil
	}
}

// Broadcast udp不保证送达，不能用于可靠广播
func (k *Kernel) Broadcast(filter network.Filter[network.Endpoint], data []byte, reliable bool) error {
	if reliable {
		return network.ErrUnreliableNotSupported
	}
	return k.Base.Broadcast(filter, data)
}

func (k *Kernel) Terminate() error {
	err := k.Shutdown()
	if k.conn == nil {
		return err
	}
	k.closeOnce.Do(func() {
		close(k.closeSig)
		_ = k.conn.Close()
		k.cancel()
	})
	k.wg.Wait()
	return err
}

type endpoint struct {
	id       uint64
	addr     net.Addr
	kernel   *Kernel
	lastSeen atomic.Int64
	closed   atomic.Bool
}

func (e *endpoint) ID() uint64 {
	return e.id
}

func (e *endpoint) Address() string {
	return "udp://" + e.addr.String()
}

func (e *endpoint) Send(data []byte) error {
	if e.closed.Load() {
		return network.ErrEndpointClosed
	}
	return e.kernel.send(e.addr, data)
}

// Close 之后同一地址再发来的包会产生新的端点
func (e *endpoint) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.kernel.byAddr.CompareAndDelete(e.addr.String(), e)
	e.kernel.RemoveEndpoint(e)
	return nil
}

func (e *endpoint) IsConnected() bool {
	return !e.closed.Load()
}

func (e *endpoint) String() string {
	return e.Address()
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
