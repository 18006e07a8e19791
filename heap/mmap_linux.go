//go:build linux

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
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mmap is a heap backed by an anonymous mapping that is reserved PROT_NONE
// up front and committed to PROT_READ|PROT_WRITE as the break advances.
// Reserved but uncommitted pages cost address space only.
type Mmap struct {
	region   []byte
	brk      int
	pageSize int
}

// NewMmap reserves reserve bytes of address space. Nothing is committed yet.
func NewMmap(reserve int) (*Mmap, error) {
	if reserve <= 0 {
		return nil, fmt.Errorf("heap: invalid reservation %d", reserve)
	}
	region, err := unix.Mmap(-1, 0, reserve, unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve %d bytes: %w", reserve, err)
	}
	return &Mmap{region: region, pageSize: os.Getpagesize()}, nil
}

// Sbrk commits delta more bytes and returns the previous break.
// mprotect works on whole pages, so the committed range is widened to page
// boundaries; pages already committed are simply committed again.
func (h *Mmap) Sbrk(delta int) (unsafe.Pointer, error) {
	if h.region == nil {
		return nil, errors.New("heap: mapping closed")
	}
	if delta <= 0 {
		return nil, ErrInvalidDelta
	}
	if delta > len(h.region)-h.brk {
		return nil, fmt.Errorf("%w: break=%d delta=%d cap=%d", ErrExhausted, h.brk, delta, len(h.region))
	}
	lo := h.brk &^ (h.pageSize - 1)
	hi := (h.brk + delta + h.pageSize - 1) &^ (h.pageSize - 1)
	if hi > len(h.region) {
		hi = len(h.region)
	}
	if err := unix.Mprotect(h.region[lo:hi], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return nil, fmt.Errorf("heap: commit %d bytes at %d: %w", delta, h.brk, err)
	}
	prev := unsafe.Pointer(&h.region[h.brk])
	h.brk += delta
	return prev, nil
}

// Brk returns the number of bytes committed so far.
func (h *Mmap) Brk() int { return h.brk }

// Cap returns the size of the reservation.
func (h *Mmap) Cap() int { return len(h.region) }

// Close unmaps the reservation. Every pointer obtained from Sbrk becomes invalid.
func (h *Mmap) Close() error {
	if h.region == nil {
		return nil
	}
	err := unix.Munmap(h.region)
	if errors.Is(err, unix.EINVAL) {
		err = nil
	}
	h.region = nil
	h.brk = 0
	return err
}
