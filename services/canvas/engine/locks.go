// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/observability"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

// LockElement takes (or refreshes) the exclusive edit lease on an element.
//
// Acquisition is a single atomic store operation: insert, or supersede a row
// whose expiry has passed. Lock traffic never touches the change log or the
// document version, and never goes through the cache.
func (e *Engine) LockElement(ctx context.Context, user *datatypes.User, projectID, elementID string, durationMs int) (*datatypes.ElementLock, error) {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := e.getOrCreateCanvas(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.GetElement(ctx, rec.Document.ID, elementID); err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil, notFoundf("element %s not found", elementID)
		}
		return nil, fmt.Errorf("check element: %w", err)
	}

	if durationMs <= 0 {
		durationMs = DefaultLockDurationMs
	}
	now := e.now()
	lock := &datatypes.ElementLock{
		ID:        newID(),
		ElementID: elementID,
		UserID:    user.ID,
		UserName:  user.DisplayName(),
		LockedAt:  now,
		ExpiresAt: now.Add(time.Duration(durationMs) * time.Millisecond),
	}

	acquired, err := e.store.AcquireLock(ctx, lock)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !acquired {
		current, err := e.store.GetLock(ctx, elementID)
		if err != nil && !errors.Is(err, store.ErrNoRows) {
			return nil, fmt.Errorf("read lock: %w", err)
		}
		// The holder refreshing its own live lease replaces the row.
		if current != nil && current.UserID == user.ID {
			if err := e.store.DeleteLock(ctx, elementID); err != nil {
				return nil, fmt.Errorf("refresh lock: %w", err)
			}
			acquired, err = e.store.AcquireLock(ctx, lock)
			if err != nil {
				return nil, fmt.Errorf("refresh lock: %w", err)
			}
		}
		if !acquired {
			observability.Default.RecordLockAttempt("conflict")
			if current != nil {
				return nil, conflictf("element is locked by %s until %s",
					current.UserName, current.ExpiresAt.Format(time.RFC3339))
			}
			return nil, conflictf("element is locked by another user")
		}
	}

	observability.Default.RecordLockAttempt("acquired")
	e.publishElementLocked(projectID, lock)
	return lock, nil
}

// UnlockElement releases a lease. Only the holder may release; an expired or
// absent lock unlocks as a no-op success, since the caller's goal state
// already holds.
func (e *Engine) UnlockElement(ctx context.Context, user *datatypes.User, projectID, elementID string) error {
	if err := e.authorize(ctx, user, projectID); err != nil {
		return err
	}

	lock, err := e.store.GetLock(ctx, elementID)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("read lock: %w", err)
	}
	if lock.ActiveFor(user.ID, e.now()) {
		return conflictf("element is locked by %s", lock.UserName)
	}

	if err := e.store.DeleteLock(ctx, elementID); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	observability.Default.RecordLockAttempt("released")
	e.publishElementUnlocked(projectID, elementID, user.ID)
	return nil
}

// SweepExpiredLocks deletes every lapsed lock row. Run periodically (see
// tasks.LockSweeper) and exposed to the admin surface; correctness never
// depends on it because expiry is judged against the clock on every check.
func (e *Engine) SweepExpiredLocks(ctx context.Context) (int64, error) {
	swept, err := e.store.SweepExpiredLocks(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("sweep locks: %w", err)
	}
	if swept > 0 {
		e.log.Info("swept expired locks", "count", swept)
	}
	observability.Default.RecordSweep(swept)
	return swept, nil
}
