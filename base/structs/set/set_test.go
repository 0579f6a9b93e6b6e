package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := NewSet(1, 2, 2)
	assert.Equal(t, 2, s.Size())
	assert.True(t, s.AddItem(3).Contains(3))
	s.RemoveItem(1, 4)
	assert.False(t, s.Contains(1))

	sum := 0
	s.ForEach(func(i int) { sum += i })
	assert.Equal(t, 5, sum)
}
