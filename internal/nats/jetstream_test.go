package natsjs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPublisher_Unreachable(t *testing.T) {
	p, err := NewPublisher("nats://127.0.0.1:1")
	assert.Error(t, err)
	assert.Nil(t, p)
}

func TestPublisher_CloseWithoutConnection(t *testing.T) {
	assert.NotPanics(t, func() { (&Publisher{}).Close() })
}

func TestPublishContext(t *testing.T) {
	ctx, cancel := publishContext(context.WithoutCancel(context.Background()))
	defer cancel()
	deadline, ok := ctx.Deadline()
	assert.True(t, ok, "publishing without a deadline gets one")
	assert.WithinDuration(t, time.Now().Add(publishTimeout), deadline, time.Second)

	parent, parentCancel := context.WithTimeout(context.Background(), time.Minute)
	defer parentCancel()
	want, _ := parent.Deadline()

	ctx, cancel = publishContext(parent)
	defer cancel()
	got, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.Equal(t, want, got, "an existing deadline is kept")
}
