package syncmap

/**  泛型包装的sync.map
  *  @author tryao
  *  @date 2022/08/03 17:12
**/

import (
	"sync"
)

// Map 适合读多写少或者各协程操作不同key的场景，零值可用，不能复制
type Map[K comparable, V any] struct {
	inner sync.Map
}

func (m *Map[K, V]) Delete(key K) {
	m.inner.Delete(key)
}

// CompareAndDelete 只有当前值为old时才删除
// V必须是可比较的类型，否则会panic
func (m *Map[K, V]) CompareAndDelete(key K, old V) bool {
	return m.inner.CompareAndDelete(key, old)
}

func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	val, ok := m.inner.Load(key)
	if !ok {
		return value, false
	}
	return val.(V), true
}

func (m *Map[K, V]) LoadAndDelete(key K) (value V, loaded bool) {
	val, loaded := m.inner.LoadAndDelete(key)
	if !loaded {
		return value, false
	}
	return val.(V), true
}

func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	val, loaded := m.inner.LoadOrStore(key, value)
	return val.(V), loaded
}

// Range 不是快照，遍历过程中f可以修改map
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.inner.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

func (m *Map[K, V]) Store(key K, value V) {
	m.inner.Store(key, value)
}

// Size 需要遍历，O(N)
func (m *Map[K, V]) Size() int {
	size := 0
	m.inner.Range(func(_, _ any) bool {
		size++
		return true
	})
	return size
}
