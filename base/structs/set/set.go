package set

/**
  *  @author tryao
  *  @date 2022/03/18 14:15
**/

// Set 基于map的集合，非线程安全
type Set[T comparable] struct {
	values map[T]struct{}
}

func NewSet[T comparable](items ...T) *Set[T] {
	s := &Set[T]{values: make(map[T]struct{}, len(items))}
	return s.AddItem(items...)
}

func (set *Set[T]) AddItem(items ...T) *Set[T] {
	for _, item := range items {
		set.values[item] = struct{}{}
	}
	return set
}

func (set *Set[T]) RemoveItem(items ...T) *Set[T] {
	for _, item := range items {
		delete(set.values, item)
	}
	return set
}

func (set *Set[T]) Contains(item T) bool {
	_, ok := set.values[item]
	return ok
}

func (set *Set[T]) Size() int {
	return len(set.values)
}

// ForEach 回调中不能修改set
func (set *Set[T]) ForEach(f func(T)) {
	for t := range set.values {
		f(t)
	}
}
