package sync

import (
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// EstimateRemaining extrapolates the time left from the average time per
// processed item. It never fails: when there is nothing to extrapolate from
// it returns zero.
func EstimateRemaining(processed, total int, elapsed time.Duration) time.Duration {
	if processed <= 0 || total <= processed || elapsed <= 0 {
		return 0
	}
	perItem := float64(elapsed) / float64(processed)
	return time.Duration(float64(total-processed) * perItem)
}

// Snapshot is one progress observation
type Snapshot struct {
	Stage     string
	Processed int
	Total     int
	Elapsed   time.Duration
	Remaining time.Duration
}

// Progress tracks throughput of one stage of a sync pass
type Progress struct {
	stage string
	total int
	start time.Time
	now   func() time.Time
}

// NewProgress starts tracking a stage against a known total. A zero total
// yields zero estimates.
func NewProgress(stage string, total int) *Progress {
	return &Progress{
		stage: stage,
		total: total,
		start: time.Now(),
		now:   time.Now,
	}
}

// Observe computes a snapshot without logging it
func (p *Progress) Observe(processed int) Snapshot {
	elapsed := p.now().Sub(p.start)
	return Snapshot{
		Stage:     p.stage,
		Processed: processed,
		Total:     p.total,
		Elapsed:   elapsed,
		Remaining: EstimateRemaining(processed, p.total, elapsed),
	}
}

// Report computes a snapshot and logs it
func (p *Progress) Report(processed int) Snapshot {
	s := p.Observe(processed)
	log.WithFields(log.Fields{
		"stage":     s.Stage,
		"processed": s.Processed,
		"total":     s.Total,
		"elapsed":   s.Elapsed.Round(time.Millisecond).String(),
		"remaining": s.Remaining.Round(time.Second).String(),
	}).Infof("%s: %s of %s", s.Stage, humanize.Comma(int64(s.Processed)), humanize.Comma(int64(s.Total)))
	return s
}
