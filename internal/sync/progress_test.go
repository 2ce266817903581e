package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEstimateRemaining(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		elapsed   time.Duration
		want      time.Duration
	}{
		{name: "halfway", processed: 50, total: 100, elapsed: 10 * time.Second, want: 10 * time.Second},
		{name: "one of four", processed: 1, total: 4, elapsed: 2 * time.Second, want: 6 * time.Second},
		{name: "nothing processed", processed: 0, total: 100, elapsed: time.Second, want: 0},
		{name: "done", processed: 100, total: 100, elapsed: time.Second, want: 0},
		{name: "unknown total", processed: 10, total: 0, elapsed: time.Second, want: 0},
		{name: "overshoot", processed: 120, total: 100, elapsed: time.Second, want: 0},
		{name: "no time elapsed", processed: 10, total: 100, elapsed: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateRemaining(tt.processed, tt.total, tt.elapsed))
		})
	}
}

func TestProgress_Observe(t *testing.T) {
	start := time.Unix(0, 0)
	p := NewProgress("persisting", 1001)
	p.start = start
	p.now = func() time.Time { return start.Add(5 * time.Second) }

	s := p.Observe(500)
	assert.Equal(t, "persisting", s.Stage)
	assert.Equal(t, 5*time.Second, s.Elapsed)
	assert.Equal(t, 5010*time.Millisecond, s.Remaining)

	assert.Equal(t, time.Duration(0), p.Report(0).Remaining)
}
