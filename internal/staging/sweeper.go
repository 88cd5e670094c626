package staging

import (
	"context"
	"log/slog"
	"time"

	"pdfile/internal/logging"
)

// ActiveUsers reports the users whose staging directories must survive a sweep.
type ActiveUsers func() []string

// Sweeper periodically removes staging directories abandoned by users who
// never finished an operation.
type Sweeper struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
	active   ActiveUsers
	logger   *slog.Logger
}

// NewSweeper builds a sweeper for root.
func NewSweeper(root string, maxAge, interval time.Duration, active ActiveUsers, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Sweeper{
		root:     root,
		maxAge:   maxAge,
		interval: interval,
		active:   active,
		logger:   logging.NewComponentLogger(logger, "staging-sweeper"),
	}
}

// Sweep runs one cleanup pass.
func (s *Sweeper) Sweep(ctx context.Context) CleanResult {
	var users []string
	if s.active != nil {
		users = s.active()
	}
	result := CleanStale(ctx, s.root, s.maxAge, ActiveSet(users), s.logger)
	if len(result.Removed) > 0 || len(result.Errors) > 0 {
		s.logger.Info("staging sweep complete",
			logging.Int("removed", len(result.Removed)),
			logging.Int("skipped", len(result.Skipped)),
			logging.Int("errors", len(result.Errors)),
			logging.String(logging.FieldEventType, "staging_sweep"),
		)
	}
	return result
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
