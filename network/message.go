package network

// ClientRegistration 握手消息，不会分发给应用层的listener
// 客户端发送时ID是随机的tempId，服务端回应时ID是永久的连接ID
type ClientRegistration struct {
	ID       int64  `json:"id" cbor:"1,keyasint"`
	Reliable bool   `json:"reliable" cbor:"2,keyasint"`
	Name     string `json:"name,omitempty" cbor:"3,keyasint,omitempty"`
	Version  int    `json:"version,omitempty" cbor:"4,keyasint,omitempty"`
}

func (*ClientRegistration) IsReliable() bool { return true }

const (
	DisconnectKick  = "kick"
	DisconnectError = "error"
)

// Disconnect 服务端主动断开时告知原因
type Disconnect struct {
	Reliable
	Type   string `json:"type" cbor:"1,keyasint"`
	Reason string `json:"reason" cbor:"2,keyasint"`
}

// 握手时校验的默认名称和版本，客户端和服务端需要一致
const (
	DefaultName    = "duplex"
	DefaultVersion = 1
)
