package coordinator

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/tidwall/sjson"

	"matrix-convolution/shared"
)

// Report records who received which task during a run.
type Report struct {
	RunID    string
	Strategy string
	Tasks    int
	Started  time.Time
	Finished time.Time

	// Assignments maps task index to the rank that received it; -1 means
	// not assigned.
	Assignments []int
	Workers     map[int]*shared.WorkerStatus
}

func newReport(total, workers int) *Report {
	r := &Report{
		Tasks:       total,
		Assignments: make([]int, total),
		Workers:     make(map[int]*shared.WorkerStatus, workers),
	}
	for i := range r.Assignments {
		r.Assignments[i] = -1
	}
	return r
}

func (r *Report) worker(rank int) *shared.WorkerStatus {
	w, ok := r.Workers[rank]
	if !ok {
		w = &shared.WorkerStatus{Rank: rank}
		r.Workers[rank] = w
	}
	return w
}

func (r *Report) ready(rank int) {
	w := r.worker(rank)
	w.ReadyCount++
	w.LastSeen = time.Now().Unix()
}

func (r *Report) assigned(rank, task int) {
	r.Assignments[task] = rank
	r.worker(rank).TaskCount++
}

func (r *Report) stopped(rank int) {
	r.worker(rank).Stopped = true
}

// JSON renders the report.
func (r *Report) JSON() ([]byte, error) {
	doc := []byte(`{}`)
	set := func(path string, v any) error {
		var err error
		doc, err = sjson.SetBytes(doc, path, v)
		if err != nil {
			return fmt.Errorf("report: set %s: %w", path, err)
		}
		return nil
	}

	if err := set("run_id", r.RunID); err != nil {
		return nil, err
	}
	if err := set("strategy", r.Strategy); err != nil {
		return nil, err
	}
	if err := set("tasks", r.Tasks); err != nil {
		return nil, err
	}
	if err := set("elapsed_ms", r.Finished.Sub(r.Started).Milliseconds()); err != nil {
		return nil, err
	}
	if err := set("assignments", r.Assignments); err != nil {
		return nil, err
	}

	ranks := make([]int, 0, len(r.Workers))
	for rank := range r.Workers {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)
	if err := set("workers", []any{}); err != nil {
		return nil, err
	}
	for _, rank := range ranks {
		if err := set("workers.-1", r.Workers[rank]); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// WriteFile writes the JSON report to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.JSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
