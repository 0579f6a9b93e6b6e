package main

import (
	"github.com/YiuTerran/duplex/network"
	"github.com/YiuTerran/duplex/network/processor"
)

// Chat 聊天消息，服务端原样广播给所有人
type Chat struct {
	network.Reliable
	From string `json:"from" cbor:"1,keyasint"`
	Text string `json:"text" cbor:"2,keyasint"`
}

// Pulse 走快速通道的心跳，服务端原样返回用来估算延迟
type Pulse struct {
	network.Unreliable
	Seq    int64 `json:"seq" cbor:"1,keyasint"`
	SentAt int64 `json:"sent_at" cbor:"2,keyasint"`
}

type registrar interface {
	network.Codec
	Register(msg network.Message) string
}

func newCodec(kind string) (network.Codec, error) {
	var p registrar
	if kind == "cbor" {
		cp, err := processor.NewCborProcessor()
		if err != nil {
			return nil, err
		}
		p = cp
	} else {
		p = processor.NewJsonProcessor()
	}
	p.Register(&Chat{})
	p.Register(&Pulse{})
	return p, nil
}
