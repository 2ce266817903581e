package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Martian-dev/mailsync/internal/models"
)

// blockingSyncer runs until released or cancelled
type blockingSyncer struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingSyncer() *blockingSyncer {
	return &blockingSyncer{started: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingSyncer) RunOnce(ctx context.Context) (*models.SyncRun, error) {
	close(b.started)
	select {
	case <-b.release:
		return &models.SyncRun{ID: "done", Status: models.RunSucceeded}, nil
	case <-ctx.Done():
		return &models.SyncRun{ID: "cancelled", Status: models.RunFailed}, ctx.Err()
	}
}

func TestMailboxKey(t *testing.T) {
	assert.Equal(t, "google:me", MailboxKey(ProviderGoogle, "me"))
}

func TestManager_SingleWriterPerMailbox(t *testing.T) {
	m := NewManager(context.Background())
	key := MailboxKey(ProviderGoogle, "me")

	first := newBlockingSyncer()
	require.NoError(t, m.Start(key, first))
	<-first.started

	assert.True(t, m.IsRunning(key))
	assert.ErrorIs(t, m.Start(key, newBlockingSyncer()), ErrAlreadyRunning)
	assert.Equal(t, []string{key}, m.Running())

	other := newBlockingSyncer()
	require.NoError(t, m.Start(MailboxKey(ProviderMicrosoft, "me"), other))
	<-other.started
	close(other.release)

	close(first.release)
	m.Wait()

	assert.False(t, m.IsRunning(key))
	run, ok := m.LastRun(key)
	require.True(t, ok)
	assert.Equal(t, "done", run.ID)
}

func TestManager_Stop(t *testing.T) {
	m := NewManager(context.Background())
	key := MailboxKey(ProviderGoogle, "me")

	assert.Error(t, m.Stop(key))

	s := newBlockingSyncer()
	require.NoError(t, m.Start(key, s))
	<-s.started

	require.NoError(t, m.Stop(key))
	m.Wait()

	run, ok := m.LastRun(key)
	require.True(t, ok)
	assert.Equal(t, "cancelled", run.ID)

	// A new pass may start once the previous one is gone.
	next := newBlockingSyncer()
	require.NoError(t, m.Start(key, next))
	<-next.started
	close(next.release)
	m.Wait()
}

func TestManager_StopAll(t *testing.T) {
	m := NewManager(context.Background())

	a, b := newBlockingSyncer(), newBlockingSyncer()
	require.NoError(t, m.Start("a", a))
	require.NoError(t, m.Start("b", b))
	<-a.started
	<-b.started

	done := make(chan struct{})
	go func() {
		m.StopAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopAll did not return")
	}
	assert.Empty(t, m.Running())
}
