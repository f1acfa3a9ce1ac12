package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kalambet/nyaysaathi/internal/resilience"
)

// ErrNotRunning is returned by EnsureReady when the backend cannot be reached.
var ErrNotRunning = errors.New("inference engine is not running")

// pullRetry covers registry hiccups while downloading a model.
var pullRetry = resilience.RetryOptions{MaxAttempts: 3, Backoff: 2 * time.Second, Retryable: IsTransient}

// EnsureReady checks that e is reachable and that every named model is
// available, pulling the missing ones. Empty and repeated names are skipped.
// Progress goes to w, one line per whole percent.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return ErrNotRunning
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if e.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		progress := progressPrinter(w)
		err := resilience.Do(ctx, func(ctx context.Context) error {
			return e.PullModel(ctx, model, progress)
		}, pullRetry)
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

func progressPrinter(w io.Writer) func(PullProgress) {
	last := -1
	var lastStatus string
	return func(p PullProgress) {
		if p.Total <= 0 {
			if p.Status != lastStatus {
				fmt.Fprintf(w, "  %s\n", p.Status)
				lastStatus = p.Status
			}
			return
		}
		pct := int(p.Completed * 100 / p.Total)
		if pct == last && p.Status == lastStatus {
			return
		}
		last, lastStatus = pct, p.Status
		fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
	}
}
