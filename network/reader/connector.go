package reader

import (
	"fmt"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/frame"
	"go.uber.org/atomic"
)

// Dispatcher 在读协程里同步调用，需要支持多个读协程并发调用
type Dispatcher func(msg network.Message)

// ErrorHandler 反序列化错误和I/O错误都会交给它，前者不会中断读取
type ErrorHandler func(err error, fatal bool)

// ConnectorReader 持有一个Connector，循环读取直到Close
type ConnectorReader struct {
	channel   network.Channel
	connector network.Connector
	decoder   *frame.Decoder
	datagram  bool
	dispatch  Dispatcher
	onError   ErrorHandler
	logger    log.Fields

	state atomic.Int32
	done  chan struct{}
}

func NewConnectorReader(channel network.Channel, connector network.Connector, framer *frame.Framer,
	dispatch Dispatcher, onError ErrorHandler) *ConnectorReader {
	r := &ConnectorReader{
		channel:   channel,
		connector: connector,
		decoder:   framer.NewDecoder(),
		dispatch:  dispatch,
		onError:   onError,
		logger:    log.Fields{"channel": channel}.WithPrefix("connector"),
		done:      make(chan struct{}),
	}
	if d, ok := connector.(network.Datagram); ok {
		r.datagram = d.Datagram()
	}
	return r
}

func (r *ConnectorReader) State() int32 {
	return r.state.Load()
}

func (r *ConnectorReader) Start() error {
	if !r.state.CompareAndSwap(Created, Running) {
		return fmt.Errorf("%w: %v reader is %s", network.ErrIllegalState, r.channel, stateName(r.state.Load()))
	}
	go r.run()
	return nil
}

// Write 交给Connector，Connector自身保证并发安全
func (r *ConnectorReader) Write(data []byte) error {
	if r.state.Load() == Stopped {
		return fmt.Errorf("%w: %v reader is stopped", network.ErrIllegalState, r.channel)
	}
	return r.connector.Write(data)
}

// Close 幂等，关闭Connector使阻塞的Read返回
func (r *ConnectorReader) Close() error {
	prev := r.state.Swap(Stopped)
	if prev == Stopped {
		return nil
	}
	err := r.connector.Close()
	if prev == Created {
		close(r.done)
	}
	return err
}

// Wait 等待读协程退出，不能在分发函数里调用
func (r *ConnectorReader) Wait() {
	<-r.done
}

func (r *ConnectorReader) run() {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			log.PanicStack(fmt.Sprintf("%v reader panic", r.channel), p)
		}
	}()
	for r.state.Load() == Running {
		data, err := r.connector.Read()
		// Close之后读到的数据一律丢弃
		if r.state.Load() != Running {
			return
		}
		if err != nil {
			r.logger.Debug("read error: %v", err)
			r.report(err, true)
			return
		}
		r.handle(data)
	}
}

func (r *ConnectorReader) handle(data []byte) {
	msgs, err := r.decoder.Decode(data)
	if r.datagram && r.decoder.Pending() {
		r.logger.Warn("drop truncated frame in %d bytes datagram", len(data))
		r.decoder.Reset()
	}
	if err != nil {
		r.report(err, false)
	}
	for _, msg := range msgs {
		if r.state.Load() != Running {
			return
		}
		r.safeDispatch(msg)
	}
}

func (r *ConnectorReader) safeDispatch(msg network.Message) {
	defer func() {
		if p := recover(); p != nil {
			log.PanicStack(fmt.Sprintf("dispatch %T on %v", msg, r.channel), p)
		}
	}()
	r.dispatch(msg)
}

func (r *ConnectorReader) report(err error, fatal bool) {
	if r.onError == nil {
		r.logger.Error("fatal=%v: %v", fatal, err)
		return
	}
	r.onError(err, fatal)
}
