// Copyright (C) 2025 Webra (dev@webra.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WebraApp/WebraCanvas/services/canvas/datatypes"
	"github.com/WebraApp/WebraCanvas/services/canvas/engine"
	"github.com/WebraApp/WebraCanvas/services/canvas/store"
)

func TestLockSweeper_RemovesExpiredLocks(t *testing.T) {
	mem := store.NewMemory()
	now := time.Now()
	ok, err := mem.AcquireLock(context.Background(), &datatypes.ElementLock{
		ID: "l1", ElementID: "e1", UserID: "u1",
		LockedAt: now.Add(-time.Minute), ExpiresAt: now.Add(-time.Second),
	})
	require.NoError(t, err)
	require.True(t, ok)

	s := NewLockSweeper(engine.New(mem, nil, nil), 10*time.Millisecond)
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		_, err := mem.GetLock(context.Background(), "e1")
		return err != nil
	}, time.Second, 10*time.Millisecond, "expired lock should be swept")
}

func TestLockSweeper_StopBeforeStartIsSafe(t *testing.T) {
	s := NewLockSweeper(engine.New(store.NewMemory(), nil, nil), 0)
	assert.Equal(t, DefaultSweepInterval, s.interval)
	s.Stop()
}

func TestLockSweeper_StartStop(t *testing.T) {
	s := NewLockSweeper(engine.New(store.NewMemory(), nil, nil), time.Millisecond)
	s.Start()
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
