package domain

import "sort"

// StatusMetric is the average time from intake to the last transition for
// all retained jobs in one status.
type StatusMetric struct {
	Status        JobStatus `json:"status"`
	AvgTimeMillis float64   `json:"avgTimeMillis"`
	Count         int       `json:"count"`
}

// MetricsAccumulator folds jobs into per-status metrics.
type MetricsAccumulator struct {
	totals map[JobStatus]float64
	counts map[JobStatus]int
}

func NewMetricsAccumulator() *MetricsAccumulator {
	return &MetricsAccumulator{
		totals: make(map[JobStatus]float64),
		counts: make(map[JobStatus]int),
	}
}

func (a *MetricsAccumulator) Add(job Job) {
	elapsed := job.Updated.Sub(job.Created)
	if elapsed < 0 {
		elapsed = 0
	}
	a.totals[job.Status] += float64(elapsed.Milliseconds())
	a.counts[job.Status]++
}

// Metrics returns one entry per observed status, ordered by status name.
func (a *MetricsAccumulator) Metrics() []StatusMetric {
	out := make([]StatusMetric, 0, len(a.counts))
	for status, count := range a.counts {
		out = append(out, StatusMetric{
			Status:        status,
			AvgTimeMillis: a.totals[status] / float64(count),
			Count:         count,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}
