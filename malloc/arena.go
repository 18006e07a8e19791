/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// size returns the current arena size, 0 before the first allocation.
func (a *Allocator) size() int {
	if a.base == nil {
		return 0
	}
	return 1 << a.maxClass
}

// bootstrap creates the arena on the first allocation. The arena is sized to
// the larger of the configured initial size and a block of class target.
// On failure the allocator stays uninitialized and the next call starts over.
func (a *Allocator) bootstrap(target int) error {
	k := a.initClass
	if target > k {
		k = target
	}
	base, err := a.src.Sbrk(1 << k)
	if err != nil {
		a.log.WithFields(logrus.Fields{"arena_size": 1 << k, "error": err}).Debug("buddy: arena bootstrap failed")
		return fmt.Errorf("%w: create arena of %d bytes: %v", ErrOutOfMemory, 1<<k, err)
	}
	a.base = base
	a.maxClass = k
	a.writeHeader(0, k, freeMagic, 0)
	a.push(0, k)
	a.grows++

	a.log.WithFields(logrus.Fields{"arena_size": 1 << k, "max_class": k}).Debug("buddy: arena created")
	return nil
}

// grow doubles the arena by appending 1<<maxClass bytes at its top.
//
// If the whole arena is one free block, that block is reclassified to cover
// the doubled arena. Otherwise the new upper half becomes a free block of the
// old top class, the buddy of the (partly used) old arena.
// Either way maxClass goes up by exactly one. On failure nothing changes.
func (a *Allocator) grow() error {
	k := a.maxClass
	if k+1 > maxClassLimit {
		return fmt.Errorf("%w: arena already at class %d", ErrOutOfMemory, k)
	}
	delta := 1 << k
	prev, err := a.src.Sbrk(delta)
	if err != nil {
		a.log.WithFields(logrus.Fields{"arena_size": delta, "max_class": k, "error": err}).Debug("buddy: arena growth failed")
		return fmt.Errorf("%w: grow arena to %d bytes: %v", ErrOutOfMemory, delta<<1, err)
	}
	if uintptr(prev) != uintptr(a.base)+uintptr(delta) {
		a.log.WithFields(logrus.Fields{"arena_size": delta, "max_class": k}).Warn("buddy: heap growth not contiguous, memory abandoned")
		return fmt.Errorf("%w: got %p, want %p", ErrNotContiguous, prev, a.ptr(delta))
	}

	branch := "append"
	if off, ok := a.pop(k); ok {
		// the whole arena is free; off is 0
		a.maxClass = k + 1
		a.writeHeader(off, k+1, freeMagic, 0)
		a.push(off, k+1)
		branch = "reclassify"
	} else {
		a.maxClass = k + 1
		a.writeHeader(delta, k, freeMagic, 0)
		a.push(delta, k)
	}
	a.grows++

	a.log.WithFields(logrus.Fields{
		"arena_size": 1 << a.maxClass,
		"max_class":  a.maxClass,
		"branch":     branch,
	}).Debug("buddy: arena doubled")
	return nil
}
