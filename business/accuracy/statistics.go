package accuracy

import (
	"math"
	"sort"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// AlgorithmStats summarizes the scored samples of one algorithm
type AlgorithmStats struct {
	Algorithm string `json:"algorithm"`
	Matched   int64  `json:"matched"`
	Expired   int64  `json:"expired"`
	// MeanAbsoluteErrorSeconds is the mean of |actual - predicted| over matched samples
	MeanAbsoluteErrorSeconds float64 `json:"mean_absolute_error_seconds"`
	// MeanErrorSeconds is the mean of actual - predicted, positive when vehicles run later than predicted
	MeanErrorSeconds float64 `json:"mean_error_seconds"`
}

// Stats summarizes a Tracker since it was built
type Stats struct {
	Sampled                  int64            `json:"sampled"`
	Matched                  int64            `json:"matched"`
	Expired                  int64            `json:"expired"`
	Pending                  int              `json:"pending"`
	MeanAbsoluteErrorSeconds float64          `json:"mean_absolute_error_seconds"`
	ByAlgorithm              []AlgorithmStats `json:"by_algorithm"`
}

type algorithmTotals struct {
	matched       int64
	expired       int64
	absoluteError time.Duration
	signedError   time.Duration
}

func (a *algorithmTotals) add(record *gtfs.PredictionAccuracy) {
	if !record.Matched() {
		a.expired++
		return
	}
	a.matched++
	difference := time.Duration(*record.AccuracyMillis) * time.Millisecond
	a.signedError += difference
	if difference < 0 {
		difference = -difference
	}
	a.absoluteError += difference
}

func (a *algorithmTotals) meanAbsoluteSeconds() float64 {
	if a.matched == 0 {
		return 0
	}
	return a.absoluteError.Seconds() / float64(a.matched)
}

func (a *algorithmTotals) meanSignedSeconds() float64 {
	if a.matched == 0 {
		return 0
	}
	return a.signedError.Seconds() / float64(a.matched)
}

// statistics accumulates scored samples, guarded by Tracker.mu
type statistics struct {
	sampled     int64
	all         algorithmTotals
	byAlgorithm map[string]*algorithmTotals
}

func makeStatistics() *statistics {
	return &statistics{byAlgorithm: make(map[string]*algorithmTotals)}
}

func (s *statistics) add(record *gtfs.PredictionAccuracy) {
	s.all.add(record)
	totals, present := s.byAlgorithm[record.Algorithm]
	if !present {
		totals = &algorithmTotals{}
		s.byAlgorithm[record.Algorithm] = totals
	}
	totals.add(record)
}

func round(value float64) float64 {
	return math.Round(value*1000) / 1000
}

// Stats returns a summary of the samples scored so far
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := 0
	for _, samples := range t.samples {
		pending += len(samples)
	}
	byAlgorithm := make([]AlgorithmStats, 0, len(t.stats.byAlgorithm))
	for algorithm, totals := range t.stats.byAlgorithm {
		byAlgorithm = append(byAlgorithm, AlgorithmStats{
			Algorithm:                algorithm,
			Matched:                  totals.matched,
			Expired:                  totals.expired,
			MeanAbsoluteErrorSeconds: round(totals.meanAbsoluteSeconds()),
			MeanErrorSeconds:         round(totals.meanSignedSeconds()),
		})
	}
	sort.Slice(byAlgorithm, func(i, j int) bool {
		return byAlgorithm[i].Algorithm < byAlgorithm[j].Algorithm
	})
	return Stats{
		Sampled:                  t.stats.sampled,
		Matched:                  t.stats.all.matched,
		Expired:                  t.stats.all.expired,
		Pending:                  pending,
		MeanAbsoluteErrorSeconds: round(t.stats.all.meanAbsoluteSeconds()),
		ByAlgorithm:              byAlgorithm,
	}
}
