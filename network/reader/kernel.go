package reader

import (
	"errors"
	"fmt"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"go.uber.org/atomic"
)

// KernelHandler 所有回调都在KernelReader的协程里同步执行
type KernelHandler interface {
	EndpointAdded(channel network.Channel, ep network.Endpoint)
	EndpointRemoved(channel network.Channel, ep network.Endpoint)
	MessageReceived(channel network.Channel, ep network.Endpoint, msg network.Message)
	MessageError(channel network.Channel, ep network.Endpoint, err error)
}

// KernelReader 服务端每个Kernel一个读协程
type KernelReader struct {
	channel  network.Channel
	kernel   network.Kernel
	framer   *frame.Framer
	handler  KernelHandler
	datagram bool
	logger   log.Fields

	// 只在读协程中访问
	decoders map[uint64]*frame.Decoder

	state atomic.Int32
	done  chan struct{}
}

func NewKernelReader(channel network.Channel, kernel network.Kernel, framer *frame.Framer,
	handler KernelHandler) *KernelReader {
	r := &KernelReader{
		channel:  channel,
		kernel:   kernel,
		framer:   framer,
		handler:  handler,
		logger:   log.Fields{"channel": channel}.WithPrefix("kernel"),
		decoders: make(map[uint64]*frame.Decoder),
		done:     make(chan struct{}),
	}
	if d, ok := kernel.(network.Datagram); ok {
		r.datagram = d.Datagram()
	}
	return r
}

func (r *KernelReader) Start() error {
	if !r.state.CompareAndSwap(Created, Running) {
		return fmt.Errorf("%w: %v kernel reader is %s", network.ErrIllegalState, r.channel, stateName(r.state.Load()))
	}
	go r.run()
	return nil
}

// Close 终止Kernel，读协程处理完剩余事件后退出
func (r *KernelReader) Close() error {
	prev := r.state.Swap(Stopped)
	if prev == Stopped {
		return nil
	}
	err := r.kernel.Terminate()
	if prev == Created {
		close(r.done)
	}
	return err
}

func (r *KernelReader) Wait() {
	<-r.done
}

func (r *KernelReader) run() {
	defer close(r.done)
	for {
		env, err := r.kernel.Read()
		r.flushEvents()
		if err != nil {
			if !errors.Is(err, network.ErrKernelClosed) {
				r.logger.Error("read kernel: %v", err)
			}
			return
		}
		if env.IsEvent() {
			continue
		}
		r.handle(env)
	}
}

func (r *KernelReader) flushEvents() {
	for {
		ev, ok := r.kernel.NextEvent()
		if !ok {
			return
		}
		switch ev.Type {
		case network.EndpointAdded:
			r.logger.Debug("endpoint %d added from %s", ev.Endpoint.ID(), ev.Endpoint.Address())
			r.safeCall(func() { r.handler.EndpointAdded(r.channel, ev.Endpoint) })
		case network.EndpointRemoved:
			r.logger.Debug("endpoint %d removed", ev.Endpoint.ID())
			delete(r.decoders, ev.Endpoint.ID())
			r.safeCall(func() { r.handler.EndpointRemoved(r.channel, ev.Endpoint) })
		}
	}
}

func (r *KernelReader) handle(env network.Envelope) {
	ep := env.Source
	// 已经移除的端点残留的数据直接丢掉
	if !ep.IsConnected() {
		return
	}
	dec, ok := r.decoders[ep.ID()]
	if !ok {
		dec = r.framer.NewDecoder()
		r.decoders[ep.ID()] = dec
	}
	msgs, err := dec.Decode(env.Data)
	if r.datagram && dec.Pending() {
		r.logger.Warn("drop truncated frame from %s", ep.Address())
		dec.Reset()
	}
	if err != nil {
		r.safeCall(func() { r.handler.MessageError(r.channel, ep, err) })
	}
	for _, msg := range msgs {
		msg := msg
		r.safeCall(func() { r.handler.MessageReceived(r.channel, ep, msg) })
	}
}

func (r *KernelReader) safeCall(f func()) {
	defer func() {
		if p := recover(); p != nil {
			log.PanicStack(fmt.Sprintf("%v kernel handler", r.channel), p)
		}
	}()
	f()
}
