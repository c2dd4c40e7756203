// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkeys.
//
// go-passkeys is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package webauthn

import (
	"context"
	"log/slog"
	"time"

	"github.com/jeremyhahn/go-passkeys/pkg/metrics"
)

// Sweeper periodically purges expired challenges. Challenges abandoned
// mid-ceremony are otherwise never removed, since only a complete step
// consumes them.
type Sweeper struct {
	store    ChallengeStore
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a Sweeper. A non-positive interval defaults to one minute.
func NewSweeper(store ChallengeStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// SweepOnce removes every expired challenge and returns the count.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	removed, err := s.store.Sweep(ctx, s.now())
	if removed > 0 {
		metrics.RecordChallengesSwept(removed)
		s.logger.DebugContext(ctx, "Expired challenges removed", "count", removed)
	}
	return removed, err
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.WarnContext(ctx, "Challenge sweep failed", "error", err)
			}
		}
	}
}
