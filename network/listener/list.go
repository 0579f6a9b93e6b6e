package listener

import (
	"reflect"
	"sync"

	"go.uber.org/atomic"
)

type key struct {
	t reflect.Type
	p uintptr
	v any
}

// identity 函数类型不可比较，改用函数指针作为身份
// 同一个函数字面量生成的不同闭包无法区分，需要移除时请使用指针类型的监听者
func identity(l any) (key, bool) {
	v := reflect.ValueOf(l)
	if !v.IsValid() {
		return key{}, false
	}
	switch v.Kind() {
	case reflect.Func, reflect.Ptr, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		return key{t: v.Type(), p: v.Pointer()}, true
	}
	if v.Type().Comparable() {
		return key{t: v.Type(), v: l}, true
	}
	return key{}, false
}

// List 写时复制的监听者列表，遍历时无锁
type List[T any] struct {
	lock  sync.Mutex
	items atomic.Pointer[[]T]
}

func (l *List[T]) Add(item T) {
	l.lock.Lock()
	defer l.lock.Unlock()
	old := l.Snapshot()
	next := make([]T, 0, len(old)+1)
	next = append(next, old...)
	next = append(next, item)
	l.items.Store(&next)
}

// Remove 移除第一个相同的监听者，返回是否找到
func (l *List[T]) Remove(item T) bool {
	k, ok := identity(item)
	if !ok {
		return false
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	old := l.Snapshot()
	for i, it := range old {
		if ik, _ := identity(it); ik == k {
			next := make([]T, 0, len(old)-1)
			next = append(next, old[:i]...)
			next = append(next, old[i+1:]...)
			l.items.Store(&next)
			return true
		}
	}
	return false
}

// Snapshot 返回的切片不可修改
func (l *List[T]) Snapshot() []T {
	p := l.items.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (l *List[T]) Len() int {
	return len(l.Snapshot())
}
