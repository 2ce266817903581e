package sync

import (
	"context"
	"fmt"
	"slices"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultPageSize is the largest page the listing endpoints accept
	DefaultPageSize = 500

	// DefaultPaginationPause is the fixed delay between page fetches. It is a
	// politeness setting, not a backoff.
	DefaultPaginationPause = 500 * time.Millisecond
)

// Paginator drives a ListingSource until it is exhausted
type Paginator struct {
	Source   ListingSource
	PageSize int
	Pause    time.Duration
}

// ListNewItems returns the identifiers of every item received after since
// (epoch milliseconds), oldest first. A nil since lists the whole mailbox.
// Remote failures are returned as-is; nothing is retried here.
func (p *Paginator) ListNewItems(ctx context.Context, since *int64) ([]string, error) {
	q := ListQuery{PageSize: p.PageSize}
	if q.PageSize <= 0 {
		q.PageSize = DefaultPageSize
	}
	if since != nil {
		after := *since / 1000
		q.After = &after
	}

	total, err := p.Source.MailboxSize(ctx)
	if err != nil {
		log.Warnf("mailbox size unavailable, listing without estimates: %v", err)
		total = 0
	}
	progress := NewProgress("listing", total)

	var ids []string
	for page := 1; ; page++ {
		res, err := p.Source.ListPage(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("list page %d: %w", page, err)
		}

		ids = append(ids, res.IDs...)
		progress.Report(len(ids))

		if res.NextPageToken == "" {
			break
		}
		q.PageToken = res.NextPageToken

		if err := p.pause(ctx); err != nil {
			return nil, err
		}
	}

	// Listings come back newest first.
	slices.Reverse(ids)
	return ids, nil
}

func (p *Paginator) pause(ctx context.Context) error {
	if p.Pause <= 0 {
		return nil
	}

	t := time.NewTimer(p.Pause)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
