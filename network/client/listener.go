package client

import "github.com/YiuTerran/duplex/network"

// DisconnectInfo 主动调用Close时为nil
type DisconnectInfo struct {
	Reason string
	Err    error
}

func (d *DisconnectInfo) String() string {
	if d == nil {
		return "closed"
	}
	if d.Err != nil {
		return d.Reason + ": " + d.Err.Error()
	}
	return d.Reason
}

type StateListener interface {
	// ClientConnected 收到服务端的注册回应后触发，只触发一次
	ClientConnected(c *Client)
	ClientDisconnected(c *Client, info *DisconnectInfo)
}

// ErrorListener 通道的读写错误，没有任何ErrorListener时客户端会自行关闭
type ErrorListener interface {
	HandleError(c *Client, channel network.Channel, err error)
}

type ErrorListenerFunc func(c *Client, channel network.Channel, err error)

func (f ErrorListenerFunc) HandleError(c *Client, channel network.Channel, err error) {
	f(c, channel, err)
}
