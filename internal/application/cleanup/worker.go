// Package cleanup runs the periodic sweeps that evict expired verifications,
// idle sessions and stale heartbeats.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one periodic sweep. Run returns the number of entries removed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int, error)
}

type observer interface {
	ObserveSweep(task string, removed int)
}

type Worker struct {
	tasks    []Task
	observer observer
}

func NewWorker(obs observer, tasks ...Task) *Worker {
	return &Worker{tasks: tasks, observer: obs}
}

// Run starts one ticker per task and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range w.tasks {
		if t.Interval <= 0 {
			slog.Warn("cleanup task disabled", "task", t.Name)
			continue
		}
		t := t
		g.Go(func() error {
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					w.runOnce(ctx, t)
				}
			}
		})
	}
	slog.Info("cleanup worker started", "tasks", len(w.tasks))
	return g.Wait()
}

func (w *Worker) runOnce(ctx context.Context, t Task) {
	removed, err := t.Run(ctx)
	if err != nil {
		slog.Error("cleanup task failed", "task", t.Name, "err", err)
		return
	}
	if removed > 0 {
		slog.Info("cleanup task removed entries", "task", t.Name, "removed", removed)
	}
	if w.observer != nil {
		w.observer.ObserveSweep(t.Name, removed)
	}
}
