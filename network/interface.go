package network

import "fmt"

// Channel 逻辑连接里的通道序号
type Channel int

const (
	// ChannelReliable 可靠有序通道，如tcp
	ChannelReliable Channel = 0
	// ChannelUnreliable 低延迟通道，如udp，可以不配置
	ChannelUnreliable Channel = 1
)

func (c Channel) String() string {
	switch c {
	case ChannelReliable:
		return "reliable"
	case ChannelUnreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Message 应用层消息，类型本身即为分发的依据
type Message interface {
	// IsReliable 为true时走可靠通道
	IsReliable() bool
}

// Reliable 嵌入到消息结构体中，表示走可靠通道
type Reliable struct{}

func (Reliable) IsReliable() bool { return true }

// Unreliable 嵌入到消息结构体中，表示优先走快速通道
type Unreliable struct{}

func (Unreliable) IsReliable() bool { return false }

// Codec 消息的序列化，must goroutine safe
type Codec interface {
	Marshal(msg Message) ([]byte, error)
	Unmarshal(data []byte) (Message, error)
}

// Connector 客户端一侧的单个传输通道
type Connector interface {
	// Read 阻塞读取原始字节，Close之后必须返回错误
	Read() ([]byte, error)
	// Write goroutine safe
	Write(data []byte) error
	Close() error
	IsConnected() bool
}

// Datagram 由基于报文的Connector/Kernel实现
// 每次Read的边界也是帧的边界，不完整的帧会被丢弃
type Datagram interface {
	Datagram() bool
}

// Endpoint 服务端的一端连接，只做身份比较和收发
type Endpoint interface {
	ID() uint64
	Address() string
	// Send 不阻塞调用方，数据由传输层排队发送
	Send(data []byte) error
	Close() error
	IsConnected() bool
}

// Envelope 从Kernel读到的一块原始数据
// 零值表示没有数据但有待处理的事件
type Envelope struct {
	Source Endpoint
	Data   []byte
}

func (e Envelope) IsEvent() bool {
	return e.Source == nil
}

type EndpointEventType int

const (
	EndpointAdded EndpointEventType = iota + 1
	EndpointRemoved
)

func (t EndpointEventType) String() string {
	switch t {
	case EndpointAdded:
		return "added"
	case EndpointRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

type EndpointEvent struct {
	Type     EndpointEventType
	Endpoint Endpoint
}

// Filter 返回false的对象会被跳过
type Filter[T any] func(T) bool

// Kernel 服务端的一个传输监听
type Kernel interface {
	Initialize() error
	// Read 阻塞直到有数据或事件，Terminate之后返回ErrKernelClosed
	Read() (Envelope, error)
	// NextEvent 非阻塞
	NextEvent() (EndpointEvent, bool)
	Broadcast(filter Filter[Endpoint], data []byte, reliable bool) error
	Terminate() error
}
