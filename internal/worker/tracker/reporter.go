// Package tracker fans rendition progress out to logs and to a Redis hash
// that operators can poll while a job runs.
package tracker

import (
	"sync"

	"transcoder/internal/ladder"
	"transcoder/internal/media/encoder"
	"transcoder/internal/pkg/logger"
)

// LogReporter logs rendition progress, sampled per rung.
type LogReporter struct {
	log        *logger.Logger
	bucketSize float64

	mu       sync.Mutex
	samplers map[string]*ProgressSampler
}

func NewLogReporter(log *logger.Logger, bucketSize float64) *LogReporter {
	if log == nil {
		log = logger.Discard()
	}
	return &LogReporter{log: log, bucketSize: bucketSize, samplers: make(map[string]*ProgressSampler)}
}

func (r *LogReporter) Progress(rung ladder.Rung, percent float64) {
	r.mu.Lock()
	s, ok := r.samplers[rung.Label]
	if !ok {
		s = NewProgressSampler(r.bucketSize)
		r.samplers[rung.Label] = s
	}
	emit := s.ShouldLog(percent)
	r.mu.Unlock()

	if emit {
		r.log.WithRung(rung.Label).Info("rendition progress", "percent", int(percent))
	}
}

func (r *LogReporter) Completed(rung ladder.Rung) {
	r.log.WithRung(rung.Label).Info("rendition completed")
}

type multiReporter []encoder.Reporter

// Multi forwards every signal to each non-nil reporter in order.
func Multi(reporters ...encoder.Reporter) encoder.Reporter {
	m := make(multiReporter, 0, len(reporters))
	for _, r := range reporters {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multiReporter) Progress(rung ladder.Rung, percent float64) {
	for _, r := range m {
		r.Progress(rung, percent)
	}
}

func (m multiReporter) Completed(rung ladder.Rung) {
	for _, r := range m {
		r.Completed(rung)
	}
}
