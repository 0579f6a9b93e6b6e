package processor

import (
	"github.com/YiuTerran/duplex/network"
	"github.com/fxamacker/cbor/v2"
)

// -------------------------
// | type name | cbor body |
// -------------------------
type cborEnvelope struct {
	Type string          `cbor:"1,keyasint"`
	Body cbor.RawMessage `cbor:"2,keyasint"`
}

// CborProcessor 比json紧凑，适合走udp的高频消息
type CborProcessor struct {
	*typeRegistry
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCborProcessor() (*CborProcessor, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &CborProcessor{typeRegistry: newTypeRegistry(), enc: em, dec: dm}, nil
}

func (p *CborProcessor) Register(msg network.Message) string {
	return p.register(msg)
}

func (p *CborProcessor) Marshal(msg network.Message) ([]byte, error) {
	msgID, err := p.nameOf(msg)
	if err != nil {
		return nil, err
	}
	body, err := p.enc.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return p.enc.Marshal(cborEnvelope{Type: msgID, Body: body})
}

func (p *CborProcessor) Unmarshal(data []byte) (network.Message, error) {
	var env cborEnvelope
	if err := p.dec.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	msg, err := p.newOf(env.Type)
	if err != nil {
		return nil, err
	}
	return msg, p.dec.Unmarshal(env.Body, msg)
}
