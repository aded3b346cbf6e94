package janitor

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one periodic sweep. Sweep returns how many entries it removed.
type Task struct {
	Name     string
	Interval time.Duration
	Sweep    func() int
}

// Run drives every task on its own ticker until ctx is done. Tasks with a
// non-positive interval are skipped.
func Run(ctx context.Context, logger *slog.Logger, tasks ...Task) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, t := range tasks {
		if t.Interval <= 0 || t.Sweep == nil {
			logger.Warn("cleanup disabled", slog.String("task", t.Name))
			continue
		}
		g.Go(func() error {
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := t.Sweep(); n > 0 {
						logger.Info("cleanup",
							slog.String("task", t.Name),
							slog.Int("removed", n),
						)
					}
				}
			}
		})
	}

	return g.Wait()
}
