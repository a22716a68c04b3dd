// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package workers

import (
	"context"
	"time"

	"github.com/MKhiriev/go-offline-sync/internal/clock"
	"github.com/MKhiriev/go-offline-sync/internal/logger"
)

const defaultSweepInterval = 10 * time.Minute

// ExpirySweeper periodically purges expired records from the durable store.
type ExpirySweeper struct {
	store    ExpiryStore
	interval time.Duration
	clock    clock.Clock
	logger   *logger.Logger
}

// NewExpirySweeper creates a sweeper. A non-positive interval falls back to
// ten minutes.
func NewExpirySweeper(st ExpiryStore, interval time.Duration, clk clock.Clock, log *logger.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.Nop()
	}

	return &ExpirySweeper{
		store:    st,
		interval: interval,
		clock:    clk,
		logger:   log.WithComponent("expiry_sweeper"),
	}
}

// Run sweeps once right away and then every interval until ctx is done.
func (s *ExpirySweeper) Run(ctx context.Context) {
	for {
		s.Sweep(ctx)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.interval):
		}
	}
}

// Sweep purges expired records once and returns how many were removed.
func (s *ExpirySweeper) Sweep(ctx context.Context) int64 {
	removed, err := s.store.ClearExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Err(err).Str("func", "ExpirySweeper.Sweep").Msg("failed to clear expired records")
		}
		return 0
	}

	if removed > 0 {
		s.logger.Debug().Str("func", "ExpirySweeper.Sweep").Int64("removed", removed).Msg("expired records cleared")
	}
	return removed
}
