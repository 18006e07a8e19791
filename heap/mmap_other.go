//go:build !linux

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

package heap

import (
	"fmt"
	"unsafe"
)

// Mmap falls back to a Slice reservation where anonymous PROT_NONE mappings
// are not used.
type Mmap struct {
	s *Slice
}

// NewMmap reserves reserve bytes.
func NewMmap(reserve int) (*Mmap, error) {
	if reserve <= 0 {
		return nil, fmt.Errorf("heap: invalid reservation %d", reserve)
	}
	return &Mmap{s: NewSlice(reserve)}, nil
}

// Sbrk extends the break by delta bytes and returns the previous break.
func (h *Mmap) Sbrk(delta int) (unsafe.Pointer, error) {
	if h.s == nil {
		return nil, fmt.Errorf("heap: mapping closed")
	}
	return h.s.Sbrk(delta)
}

// Brk returns the number of bytes committed so far.
func (h *Mmap) Brk() int {
	if h.s == nil {
		return 0
	}
	return h.s.Brk()
}

// Cap returns the size of the reservation.
func (h *Mmap) Cap() int {
	if h.s == nil {
		return 0
	}
	return h.s.Cap()
}

// Close drops the reservation.
func (h *Mmap) Close() error {
	h.s = nil
	return nil
}
