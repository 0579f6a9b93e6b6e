// Package listener 消息监听者的注册与分发
package listener

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/YiuTerran/duplex/network"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

// MessageListener S是消息来源，客户端是*client.Client，服务端是*server.Connection
type MessageListener[S any] interface {
	MessageReceived(source S, msg network.Message)
}

type MessageListenerFunc[S any] func(source S, msg network.Message)

func (f MessageListenerFunc[S]) MessageReceived(source S, msg network.Message) {
	f(source, msg)
}

type routes[S any] struct {
	all   []MessageListener[S]
	typed map[reflect.Type][]MessageListener[S]
}

// Registry 按消息类型分发，读多写少，写时复制
type Registry[S any] struct {
	lock    sync.Mutex
	current atomic.Pointer[routes[S]]
}

func NewRegistry[S any]() *Registry[S] {
	r := &Registry[S]{}
	r.current.Store(&routes[S]{typed: map[reflect.Type][]MessageListener[S]{}})
	return r
}

func (r *Registry[S]) clone() *routes[S] {
	old := r.current.Load()
	next := &routes[S]{
		all:   append([]MessageListener[S](nil), old.all...),
		typed: make(map[reflect.Type][]MessageListener[S], len(old.typed)),
	}
	for t, ls := range old.typed {
		next.typed[t] = append([]MessageListener[S](nil), ls...)
	}
	return next
}

// Add 不传msgTypes时监听所有消息，msgTypes为消息的样例，如 &Chat{}
func (r *Registry[S]) Add(l MessageListener[S], msgTypes ...network.Message) {
	r.lock.Lock()
	defer r.lock.Unlock()
	next := r.clone()
	if len(msgTypes) == 0 {
		next.all = append(next.all, l)
	}
	for _, m := range msgTypes {
		t := reflect.TypeOf(m)
		next.typed[t] = append(next.typed[t], l)
	}
	r.current.Store(next)
}

// Remove 参数需与Add时一致
func (r *Registry[S]) Remove(l MessageListener[S], msgTypes ...network.Message) {
	k, ok := identity(l)
	if !ok {
		return
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	next := r.clone()
	if len(msgTypes) == 0 {
		next.all = without(next.all, k)
	}
	for _, m := range msgTypes {
		t := reflect.TypeOf(m)
		if ls := without(next.typed[t], k); len(ls) > 0 {
			next.typed[t] = ls
		} else {
			delete(next.typed, t)
		}
	}
	r.current.Store(next)
}

func without[S any](ls []MessageListener[S], k key) []MessageListener[S] {
	for i, l := range ls {
		if lk, _ := identity(l); lk == k {
			return append(ls[:i:i], ls[i+1:]...)
		}
	}
	return ls
}

// Dispatch 先分发给指定类型的监听者，再分发给监听所有消息的
// 单个监听者panic不影响其他监听者，返回合并后的错误
func (r *Registry[S]) Dispatch(source S, msg network.Message) (delivered int, err error) {
	rt := r.current.Load()
	for _, l := range rt.typed[reflect.TypeOf(msg)] {
		err = multierr.Append(err, safeCall(l, source, msg))
		delivered++
	}
	for _, l := range rt.all {
		err = multierr.Append(err, safeCall(l, source, msg))
		delivered++
	}
	return
}

func (r *Registry[S]) Empty() bool {
	rt := r.current.Load()
	return len(rt.all) == 0 && len(rt.typed) == 0
}

func safeCall[S any](l MessageListener[S], source S, msg network.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener %T panic on %T: %v", l, msg, p)
		}
	}()
	l.MessageReceived(source, msg)
	return nil
}
