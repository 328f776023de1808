// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"sync"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"
)

// roomLanes runs submitted work in arrival order per room while different
// rooms proceed concurrently. A lane goroutine exists only while its room has
// pending work.
type roomLanes struct {
	mu      sync.Mutex
	pending map[id.RoomID][]func()
	group   errgroup.Group
}

func newRoomLanes() *roomLanes {
	return &roomLanes{
		pending: make(map[id.RoomID][]func()),
	}
}

// Submit queues fn on the lane of roomID. It never blocks on fn.
func (rl *roomLanes) Submit(roomID id.RoomID, fn func()) {
	rl.mu.Lock()
	queue, running := rl.pending[roomID]
	rl.pending[roomID] = append(queue, fn)
	rl.mu.Unlock()

	if !running {
		rl.group.Go(func() error {
			rl.drain(roomID)
			return nil
		})
	}
}

func (rl *roomLanes) drain(roomID id.RoomID) {
	for {
		rl.mu.Lock()
		queue := rl.pending[roomID]
		if len(queue) == 0 {
			delete(rl.pending, roomID)
			rl.mu.Unlock()
			return
		}
		fn := queue[0]
		queue[0] = nil
		rl.pending[roomID] = queue[1:]
		rl.mu.Unlock()

		fn()
	}
}

// Active returns the number of rooms that currently have a running lane.
func (rl *roomLanes) Active() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.pending)
}

// Wait blocks until every lane has drained.
func (rl *roomLanes) Wait() {
	_ = rl.group.Wait()
}
