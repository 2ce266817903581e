package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/models"
	"github.com/Martian-dev/mailsync/internal/store"
)

// SubjectBatchCommitted is the outbox subject of batch notifications
const SubjectBatchCommitted = "mailsync.batch.committed"

// RunStore is the storage a Runner needs
type RunStore interface {
	BatchWriter
	MaxDateReceived(ctx context.Context) (int64, bool, error)
	StartRun(ctx context.Context, run *models.SyncRun) error
	FinishRun(ctx context.Context, run *models.SyncRun) error
	OutboxStore
}

// Options are the tunables of a sync pass
type Options struct {
	BatchSize       int
	PageSize        int
	PaginationPause time.Duration
}

// DefaultOptions returns the production tunables
func DefaultOptions() Options {
	return Options{
		BatchSize:       DefaultBatchSize,
		PageSize:        DefaultPageSize,
		PaginationPause: DefaultPaginationPause,
	}
}

// Runner performs one incremental sync pass of one mailbox
type Runner struct {
	Store        RunStore
	Provider     Provider
	ProviderName ProviderName
	User         string
	Options      Options

	// Publisher is optional; without it no notifications are queued
	Publisher Publisher
}

// BatchCommittedEvent is published once per committed batch
type BatchCommittedEvent struct {
	RunID      string   `json:"run_id"`
	Provider   string   `json:"provider"`
	User       string   `json:"user"`
	Batch      int      `json:"batch"`
	Size       int      `json:"size"`
	Committed  int      `json:"committed"`
	Watermark  int64    `json:"watermark"`
	MessageIDs []string `json:"message_ids"`
}

// RunOnce lists everything newer than the stored watermark, enriches each
// item and persists it. The returned run is filled in even on failure.
func (r *Runner) RunOnce(ctx context.Context) (*models.SyncRun, error) {
	start := time.Now()
	run := &models.SyncRun{
		ID:        uuid.NewString(),
		Provider:  string(r.ProviderName),
		User:      r.User,
		Status:    models.RunRunning,
		StartedAt: start,
	}

	logger := log.WithFields(log.Fields{
		"run":      run.ID,
		"provider": run.Provider,
		"user":     run.User,
	})

	wm, ok, err := r.Store.MaxDateReceived(ctx)
	if err != nil {
		return run, fmt.Errorf("load watermark: %w", err)
	}
	var since *int64
	if ok {
		since = &wm
		run.WatermarkBefore = &wm
		logger.Infof("resuming after %s", time.UnixMilli(wm).UTC().Format(time.RFC3339))
	} else {
		logger.Info("no watermark, listing the full mailbox")
	}

	if err := r.Store.StartRun(ctx, run); err != nil {
		return run, err
	}

	runErr := r.sync(ctx, run, since)

	run.Status = models.RunSucceeded
	if runErr != nil {
		run.Status = models.RunFailed
		run.LastError = runErr.Error()
	}

	// Bookkeeping must survive a cancelled pass.
	bg := context.WithoutCancel(ctx)
	if wm, ok, err := r.Store.MaxDateReceived(bg); err != nil {
		logger.Errorf("failed to read watermark after run: %v", err)
	} else if ok {
		run.WatermarkAfter = &wm
	}
	finished := time.Now()
	run.FinishedAt = &finished
	if err := r.Store.FinishRun(bg, run); err != nil {
		logger.Errorf("failed to record run result: %v", err)
	}

	if r.Publisher != nil {
		if err := DrainOutbox(bg, r.Store, r.Publisher); err != nil {
			logger.Errorf("failed to drain outbox: %v", err)
		}
	}

	logger.WithFields(log.Fields{
		"status":    run.Status,
		"listed":    run.Listed,
		"committed": run.Committed,
		"batches":   run.Batches,
		"elapsed":   time.Since(start).Round(time.Millisecond).String(),
	}).Infof("sync pass finished: %s new messages", humanize.Comma(int64(run.Committed)))

	return run, runErr
}

func (r *Runner) sync(ctx context.Context, run *models.SyncRun, since *int64) error {
	paginator := &Paginator{
		Source:   r.Provider,
		PageSize: r.Options.PageSize,
		Pause:    r.Options.PaginationPause,
	}

	ids, err := paginator.ListNewItems(ctx, since)
	if err != nil {
		return err
	}
	run.Listed = len(ids)

	persister := &Persister{
		Writer:    r.Store,
		BatchSize: r.Options.BatchSize,
		Total:     len(ids),
	}
	if r.Publisher != nil {
		persister.BeforeCommit = r.enqueueBatchEvent(run)
	}

	res, err := persister.Persist(ctx, r.records(ctx, ids))
	run.Committed = res.Committed
	run.Batches = res.Batches
	return err
}

// records enriches ids lazily, stopping at the first failure
func (r *Runner) records(ctx context.Context, ids []string) iter.Seq2[models.Email, error] {
	return func(yield func(models.Email, error) bool) {
		for _, id := range ids {
			rec, err := Enrich(ctx, r.Provider, id)
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

func (r *Runner) enqueueBatchEvent(run *models.SyncRun) func(context.Context, store.Batch, BatchInfo) error {
	return func(ctx context.Context, b store.Batch, info BatchInfo) error {
		payload, err := json.Marshal(BatchCommittedEvent{
			RunID:      run.ID,
			Provider:   run.Provider,
			User:       run.User,
			Batch:      info.Number,
			Size:       info.Size,
			Committed:  info.Committed,
			Watermark:  info.Watermark,
			MessageIDs: info.MessageIDs,
		})
		if err != nil {
			return err
		}
		msgID := fmt.Sprintf("%s|%s|%d", SubjectBatchCommitted, run.ID, info.Number)
		return b.EnqueueOutbox(ctx, SubjectBatchCommitted, payload, msgID)
	}
}

// IsCancelled reports whether err stems from a cancelled or expired context
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
