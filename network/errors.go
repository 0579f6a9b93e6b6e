package network

import "errors"

var (
	// ErrPayloadTooLarge 序列化后超过2字节长度能表示的范围
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMalformedMessage 无法反序列化的帧，不影响后续的帧
	ErrMalformedMessage = errors.New("malformed message")

	// ErrConfiguration 缺少可靠通道等配置错误
	ErrConfiguration = errors.New("configuration error")

	// ErrIllegalState 重复启动、未启动就关闭等调用顺序错误
	ErrIllegalState = errors.New("illegal state")

	// ErrNotStarted 未启动就发送
	ErrNotStarted = errors.New("not started")

	// ErrChannelAlreadyRegistered 同一个tempId的同一个通道被另一个端点注册
	ErrChannelAlreadyRegistered = errors.New("channel already registered")

	ErrKernelClosed           = errors.New("kernel closed")
	ErrEndpointClosed         = errors.New("endpoint closed")
	ErrUnreliableNotSupported = errors.New("unreliable broadcast not supported")
)
