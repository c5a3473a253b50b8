// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tasks holds the canvas service's background loops.
package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
)

// DefaultSweepInterval is how often the lock sweeper runs.
const DefaultSweepInterval = 60 * time.Second

// LockSweeper periodically deletes expired element locks. It is pure
// hygiene: expiry is judged against the clock on every lock check, so a
// missed sweep never leaks exclusivity, only rows.
type LockSweeper struct {
	eng      *engine.Engine
	interval time.Duration
	log      *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewLockSweeper builds a sweeper. interval <= 0 uses the default.
func NewLockSweeper(eng *engine.Engine, interval time.Duration) *LockSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &LockSweeper{
		eng:      eng,
		interval: interval,
		log:      slog.Default(),
	}
}

// Start launches the sweep loop. Call Stop to shut it down.
func (s *LockSweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.log.Info("lock sweeper started", "interval", s.interval.String())
		for {
			select {
			case <-ctx.Done():
				s.log.Info("lock sweeper stopped")
				return
			case <-ticker.C:
				if _, err := s.eng.SweepExpiredLocks(ctx); err != nil {
					s.log.Error("lock sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (s *LockSweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
