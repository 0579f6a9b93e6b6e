package processor

/**
  *  @author tryao
  *  @date 2022/03/21 14:40
**/
import (
	"encoding/json"
	"errors"

	"github.com/YiuTerran/duplex/network"
)

// JsonProcessor 每条消息编码为 {"类型名": 消息体}
type JsonProcessor struct {
	*typeRegistry
}

func NewJsonProcessor() *JsonProcessor {
	return &JsonProcessor{typeRegistry: newTypeRegistry()}
}

// Register 注册消息，返回消息在线路上的名字
func (p *JsonProcessor) Register(msg network.Message) string {
	return p.register(msg)
}

func (p *JsonProcessor) Unmarshal(data []byte) (network.Message, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) != 1 {
		return nil, errors.New("invalid json data")
	}

	for msgID, body := range m {
		msg, err := p.newOf(msgID)
		if err != nil {
			return nil, err
		}
		return msg, json.Unmarshal(body, msg)
	}
	panic("bug")
}

func (p *JsonProcessor) Marshal(msg network.Message) ([]byte, error) {
	msgID, err := p.nameOf(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{msgID: msg})
}
