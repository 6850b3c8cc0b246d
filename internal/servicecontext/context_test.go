package servicecontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithEventAndGetEvent(t *testing.T) {
	t.Run("set and retrieve event", func(t *testing.T) {
		ctx := WithEvent(context.Background(), "evt-1", 3)

		info, ok := GetEvent(ctx)
		assert.True(t, ok)
		assert.Equal(t, "evt-1", info.ID)
		assert.Equal(t, uint64(3), info.Seq)
	})

	t.Run("get event when not set", func(t *testing.T) {
		info, ok := GetEvent(context.Background())
		assert.False(t, ok)
		assert.Equal(t, EventInfo{}, info)
	})

	t.Run("newer event shadows older", func(t *testing.T) {
		ctx := WithEvent(context.Background(), "evt-1", 1)
		ctx = WithEvent(ctx, "evt-2", 2)

		id, ok := GetEventID(ctx)
		assert.True(t, ok)
		assert.Equal(t, "evt-2", id)
	})

	t.Run("empty id is reported as missing", func(t *testing.T) {
		ctx := WithEvent(context.Background(), "", 1)

		_, ok := GetEventID(ctx)
		assert.False(t, ok)
	})
}
