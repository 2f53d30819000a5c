package tasking_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vk/tasking"
)

func TestStorageEqualComparesUnderlyingDeclaration(t *testing.T) {
	a := tasking.NewStorage[int]("a")
	b := tasking.NewStorage[int]("a")
	same := a

	assert.True(t, a.Equal(same))
	assert.False(t, a.Equal(b), "two separately declared Storage[T] handles never compare equal even with the same name")
}

func TestStorageLiveGoesToZeroOnceGroupsFinish(t *testing.T) {
	s := tasking.NewStorage[int]("scoped")
	root := tasking.Group(
		s,
		tasking.Group(s),
		tasking.NewSyncSimple(func() {}),
	)
	c, err := tasking.New(root)
	assert.NoError(t, err)
	result := c.RunBlocking(context.Background())
	assert.Equal(t, tasking.DoneSuccess, result)
	assert.Equal(t, 0, c.StorageLive())
}
