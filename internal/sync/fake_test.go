package sync

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	gosync "sync"

	"github.com/Martian-dev/mailsync/internal/store"
)

// fakeMailbox is an in-memory Provider. Items are kept oldest first and
// listed newest first, the way the real APIs return them.
type fakeMailbox struct {
	mu          gosync.Mutex
	items       []ItemDetail
	queries     []ListQuery
	detailCalls int
	failDetail  map[string]error
	failList    error
	sizeErr     error
}

func newFakeMailbox(n int, base int64) *fakeMailbox {
	m := &fakeMailbox{failDetail: map[string]error{}}
	m.add(n, base)
	return m
}

func (m *fakeMailbox) add(n int, base int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := len(m.items)
	for i := 1; i <= n; i++ {
		k := start + i
		m.items = append(m.items, ItemDetail{
			ID:           fmt.Sprintf("id-%05d", k),
			InternalDate: base + int64(k)*1000,
			SizeEstimate: int64(2000 + k),
			Headers: []Header{
				{Name: "From", Value: fmt.Sprintf("Sender %d <sender%d@example.com>", k, k)},
				{Name: "Subject", Value: fmt.Sprintf("Message number %d", k)},
			},
			Parts: k % 2,
		})
	}
}

func (m *fakeMailbox) ListPage(ctx context.Context, q ListQuery) (*ListPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, q)
	if m.failList != nil {
		return nil, m.failList
	}

	var matched []string
	for _, it := range m.items {
		if q.After == nil || it.InternalDate/1000 >= *q.After {
			matched = append(matched, it.ID)
		}
	}
	slices.Reverse(matched)

	offset := 0
	if q.PageToken != "" {
		offset, _ = strconv.Atoi(q.PageToken)
	}
	end := min(offset+q.PageSize, len(matched))

	page := &ListPage{IDs: matched[offset:end]}
	if end < len(matched) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (m *fakeMailbox) MailboxSize(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sizeErr != nil {
		return 0, m.sizeErr
	}
	return len(m.items), nil
}

func (m *fakeMailbox) GetDetail(ctx context.Context, id string) (*ItemDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detailCalls++
	if err := m.failDetail[id]; err != nil {
		return nil, err
	}
	for _, it := range m.items {
		if it.ID == id {
			d := it
			return &d, nil
		}
	}
	return nil, fmt.Errorf("message %s not found", id)
}

// countingWriter wraps a store and counts commit operations
type countingWriter struct {
	inner   BatchWriter
	commits int
}

func (w *countingWriter) BeginBatch(ctx context.Context) (store.Batch, error) {
	b, err := w.inner.BeginBatch(ctx)
	if err != nil {
		return nil, err
	}
	return &countingBatch{Batch: b, w: w}, nil
}

type countingBatch struct {
	store.Batch
	w *countingWriter
}

func (b *countingBatch) Commit() error {
	b.w.commits++
	return b.Batch.Commit()
}

// fakePublisher records published messages
type fakePublisher struct {
	mu       gosync.Mutex
	subjects []string
	msgIDs   []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, payload []byte, msgID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.msgIDs = append(p.msgIDs, msgID)
	p.payloads = append(p.payloads, payload)
	return nil
}
