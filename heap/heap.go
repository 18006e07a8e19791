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

// Package heap provides break-style heap-growth primitives.
//
// Every type here behaves like sbrk(2) restricted to growth: Sbrk(n) extends
// the break by n bytes and returns the previous break. Successive successful
// calls always return memory contiguous with the previous ones, which is the
// property the buddy allocator in package malloc depends on.
//
// None of the types are safe for concurrent use. A heap is meant to be owned
// by exactly one allocator, which serializes calls under its own lock.
package heap

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"
)

var (
	// ErrExhausted is returned when a growth request does not fit in the reservation.
	ErrExhausted = errors.New("heap: reservation exhausted")

	// ErrInvalidDelta is returned for a growth request of zero or negative bytes.
	ErrInvalidDelta = errors.New("heap: delta must be positive")
)

// Slice is a heap whose whole reservation is a single Go byte slice.
// The buffer is allocated once up front without zeroing it, and the break
// only moves forward inside it.
type Slice struct {
	buf []byte
	brk int
}

// NewSlice reserves capacity bytes. The memory is not initialized.
func NewSlice(capacity int) *Slice {
	if capacity < 0 {
		capacity = 0
	}
	return &Slice{buf: dirtmake.Bytes(capacity, capacity)}
}

// Sbrk extends the break by delta bytes and returns the previous break.
func (h *Slice) Sbrk(delta int) (unsafe.Pointer, error) {
	if delta <= 0 {
		return nil, ErrInvalidDelta
	}
	if delta > len(h.buf)-h.brk {
		return nil, fmt.Errorf("%w: break=%d delta=%d cap=%d", ErrExhausted, h.brk, delta, len(h.buf))
	}
	prev := unsafe.Pointer(&h.buf[h.brk])
	h.brk += delta
	return prev, nil
}

// Brk returns the number of bytes handed out so far.
func (h *Slice) Brk() int { return h.brk }

// Cap returns the size of the reservation.
func (h *Slice) Cap() int { return len(h.buf) }
