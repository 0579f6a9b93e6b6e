package processor

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/YiuTerran/duplex/base/log"
	"github.com/YiuTerran/duplex/network"
)

// 消息类型名与Go类型的双向映射，类型名就是消息在线路上的标识
type typeRegistry struct {
	lock   sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

func newTypeRegistry() *typeRegistry {
	r := &typeRegistry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	r.register(&network.ClientRegistration{})
	r.register(&network.Disconnect{})
	return r
}

// 重复注册同一个类型是允许的，同名的不同类型会直接退出
func (r *typeRegistry) register(msg network.Message) string {
	msgType := reflect.TypeOf(msg)
	if msgType == nil || msgType.Kind() != reflect.Ptr {
		log.Fatal("message pointer required")
	}
	msgID := msgType.Elem().Name()
	if msgID == "" {
		log.Fatal("unnamed message")
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	if t, ok := r.byName[msgID]; ok {
		if t != msgType {
			log.Fatal("message %v is already registered by %v", msgID, t)
		}
		return msgID
	}
	r.byName[msgID] = msgType
	r.byType[msgType] = msgID
	return msgID
}

func (r *typeRegistry) nameOf(msg network.Message) (string, error) {
	msgType := reflect.TypeOf(msg)
	if msgType == nil || msgType.Kind() != reflect.Ptr {
		return "", fmt.Errorf("message pointer required, got %v", msgType)
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	msgID, ok := r.byType[msgType]
	if !ok {
		return "", fmt.Errorf("message %v not registered", msgType)
	}
	return msgID, nil
}

func (r *typeRegistry) newOf(msgID string) (network.Message, error) {
	r.lock.RLock()
	msgType, ok := r.byName[msgID]
	r.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("message %v not registered", msgID)
	}
	return reflect.New(msgType.Elem()).Interface().(network.Message), nil
}
