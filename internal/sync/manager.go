package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/models"
)

// ErrAlreadyRunning is returned when a pass for the same mailbox is in flight
var ErrAlreadyRunning = errors.New("sync already running")

// Syncer runs one sync pass
type Syncer interface {
	RunOnce(ctx context.Context) (*models.SyncRun, error)
}

// MailboxKey identifies one mailbox
func MailboxKey(provider ProviderName, user string) string {
	return fmt.Sprintf("%s:%s", provider, user)
}

// Manager runs sync passes in the background, at most one per mailbox, so
// a mailbox's store only ever has a single writer.
type Manager struct {
	ctx          context.Context
	runners      map[string]*runHandle
	last         map[string]*models.SyncRun
	runnersMutex sync.RWMutex
	wg           sync.WaitGroup
}

type runHandle struct {
	cancel context.CancelFunc
}

// NewManager creates a manager whose passes are bound to ctx
func NewManager(ctx context.Context) *Manager {
	return &Manager{
		ctx:     ctx,
		runners: make(map[string]*runHandle),
		last:    make(map[string]*models.SyncRun),
	}
}

// Start launches a pass for key unless one is already running
func (m *Manager) Start(key string, syncer Syncer) error {
	m.runnersMutex.Lock()
	defer m.runnersMutex.Unlock()

	if _, exists := m.runners[key]; exists {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	handle := &runHandle{cancel: cancel}
	m.runners[key] = handle
	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer cancel()

		logger := log.WithField("mailbox", key)
		logger.Info("sync start")
		run, err := syncer.RunOnce(runCtx)
		if err != nil {
			logger.WithError(err).Error("sync failed")
		}

		m.runnersMutex.Lock()
		if m.runners[key] == handle {
			delete(m.runners, key)
		}
		if run != nil {
			m.last[key] = run
		}
		m.runnersMutex.Unlock()
		logger.Info("sync stop")
	}()

	return nil
}

// Stop cancels the pass running for key. The key stays registered until the
// pass has returned, so a new pass cannot overlap the cancelled one.
func (m *Manager) Stop(key string) error {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	handle, exists := m.runners[key]
	if !exists {
		return fmt.Errorf("no sync running for %s", key)
	}

	handle.cancel()
	return nil
}

// IsRunning checks if a pass is running for key
func (m *Manager) IsRunning(key string) bool {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	_, exists := m.runners[key]
	return exists
}

// LastRun returns the most recent finished pass for key, if any
func (m *Manager) LastRun(key string) (*models.SyncRun, bool) {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	run, ok := m.last[key]
	return run, ok
}

// StopAll cancels every running pass and waits for them to return
func (m *Manager) StopAll() {
	m.runnersMutex.RLock()
	for key, handle := range m.runners {
		log.WithField("mailbox", key).Info("stopping sync")
		handle.cancel()
	}
	m.runnersMutex.RUnlock()

	m.wg.Wait()
}

// Wait blocks until every started pass has returned
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Running returns the keys of the passes currently running
func (m *Manager) Running() []string {
	m.runnersMutex.RLock()
	defer m.runnersMutex.RUnlock()

	var keys []string
	for key := range m.runners {
		keys = append(keys, key)
	}
	return keys
}
