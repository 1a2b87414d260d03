package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockNATSClientPublish(t *testing.T) {
	ctx := context.Background()
	c := NewMockNATSClient()

	data := []byte(`{"update":"mesh"}`)
	require.NoError(t, c.Publish(ctx, "platt.scenes.a", data))
	data[0] = 'x'

	assert.Equal(t, []byte(`{"update":"mesh"}`), WaitForMessage(t, c, "platt.scenes.a", time.Second))
	assert.Equal(t, 1, c.Subjects())
	AssertNoMessages(t, c, "platt.scenes.b")

	c.FailPublish(fmt.Errorf("slow consumer"))
	assert.EqualError(t, c.Publish(ctx, "platt.scenes.a", data), "slow consumer")
	c.FailPublish(nil)

	require.NoError(t, c.Close(ctx))
	assert.Error(t, c.Publish(ctx, "platt.scenes.a", data))
	assert.Equal(t, 1, c.GetMessageCount("platt.scenes.a"))
}

func TestDisconnectedMockNATSClient(t *testing.T) {
	ctx := context.Background()
	c := NewDisconnectedMockNATSClient(2)

	assert.Error(t, c.Publish(ctx, "s", nil))
	assert.Error(t, c.Connect(ctx))
	assert.Error(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, 3, c.Connects())
	assert.NoError(t, c.Publish(ctx, "s", nil))
}
