package sync

import (
	"context"
	"fmt"
	"iter"

	log "github.com/sirupsen/logrus"

	"github.com/Martian-dev/mailsync/internal/models"
	"github.com/Martian-dev/mailsync/internal/store"
)

// DefaultBatchSize is the number of records written per commit
const DefaultBatchSize = 500

// BatchWriter opens write transactions
type BatchWriter interface {
	BeginBatch(ctx context.Context) (store.Batch, error)
}

// BatchInfo describes a batch about to be committed
type BatchInfo struct {
	Number     int
	Size       int
	Committed  int // including this batch
	MessageIDs []string
	Watermark  int64 // newest date_received in this batch
}

// PersistResult summarizes a Persist call
type PersistResult struct {
	Committed  int
	Batches    int
	BatchSizes []int
}

// Persister upserts records and commits them in fixed-size batches. A crash
// loses at most one uncommitted batch; the next pass re-lists it because the
// watermark is recomputed from committed rows.
type Persister struct {
	Writer    BatchWriter
	BatchSize int
	Total     int // expected record count, for progress only

	// BeforeCommit runs inside each non-empty batch's transaction
	BeforeCommit func(ctx context.Context, b store.Batch, info BatchInfo) error
}

// Persist drains records into storage. Records still pending when records
// yields an error, or when a write fails, are rolled back.
func (p *Persister) Persist(ctx context.Context, records iter.Seq2[models.Email, error]) (PersistResult, error) {
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var res PersistResult
	progress := NewProgress("persisting", p.Total)

	batch, err := p.Writer.BeginBatch(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if batch != nil {
			_ = batch.Rollback()
		}
	}()

	var (
		ids       []string
		watermark int64
	)

	commit := func() error {
		if len(ids) > 0 && p.BeforeCommit != nil {
			info := BatchInfo{
				Number:     res.Batches + 1,
				Size:       len(ids),
				Committed:  res.Committed + len(ids),
				MessageIDs: ids,
				Watermark:  watermark,
			}
			if err := p.BeforeCommit(ctx, batch, info); err != nil {
				return fmt.Errorf("before commit of batch %d: %w", info.Number, err)
			}
		}

		if err := batch.Commit(); err != nil {
			return err
		}
		batch = nil

		if len(ids) > 0 {
			res.Batches++
			res.Committed += len(ids)
			res.BatchSizes = append(res.BatchSizes, len(ids))
			log.WithFields(log.Fields{
				"batch": res.Batches,
				"size":  len(ids),
			}).Debug("batch committed")
			progress.Report(res.Committed)
		}
		ids = nil
		watermark = 0
		return nil
	}

	for rec, err := range records {
		if err != nil {
			return res, err
		}

		if err := batch.UpsertEmail(ctx, rec); err != nil {
			return res, err
		}
		ids = append(ids, rec.MessageID)
		watermark = max(watermark, rec.DateReceived)

		if len(ids) < size {
			continue
		}
		if err := commit(); err != nil {
			return res, err
		}
		if batch, err = p.Writer.BeginBatch(ctx); err != nil {
			return res, err
		}
	}

	// Final flush of any partial batch.
	if err := commit(); err != nil {
		return res, err
	}

	return res, nil
}
