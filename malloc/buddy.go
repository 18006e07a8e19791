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

// Package malloc implements a binary buddy allocator over a single arena
// that grows by doubling from a break-style heap.
//
// Every block is 2^k bytes including a 16-byte header, and its offset from
// the arena base is a multiple of its size. The buddy of a block is therefore
// found with a single XOR (see BuddyOffset). Allocation splits larger free
// blocks down to size and freeing eagerly merges buddies back up.
package malloc

import (
	"errors"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
)

// Source grows the memory an Allocator manages.
//
// Sbrk extends the break by delta (> 0) bytes and returns the previous break.
// Successful calls must return memory contiguous with all earlier calls.
// A Source must only be used by one Allocator.
type Source interface {
	Sbrk(delta int) (unsafe.Pointer, error)
}

// Allocator is a binary buddy allocator.
//
// The arena is created by the first allocation and only ever grows. All
// methods are safe for concurrent use; each one runs under a single lock.
type Allocator struct {
	mu sync.Mutex

	src Source
	log logrus.FieldLogger

	// base is the start of the arena, nil until the first allocation.
	base unsafe.Pointer
	// maxClass is log2 of the arena size.
	maxClass int

	minClass  int
	initClass int

	// freeLists holds the head offset of the free list for each class.
	freeLists [numClasses]int

	// counters reported by Stats
	grows, allocs, frees, splits, merges int

	inUseBlocks, inUseBytes, requestedBytes int
}

// New creates an allocator that grows its arena from src.
// A nil opts uses DefaultOptions. No memory is requested until the first allocation.
func New(src Source, opts *Options) (*Allocator, error) {
	if src == nil {
		return nil, errors.New("buddy: nil heap source")
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	initClass := classOfSize(opts.InitialSize)
	if initClass < opts.MinClass {
		initClass = opts.MinClass
	}
	a := &Allocator{
		src:       src,
		log:       log,
		minClass:  opts.MinClass,
		initClass: initClass,
	}
	for i := range a.freeLists {
		a.freeLists[i] = nilOffset
	}
	return a, nil
}

// Alloc allocates a block of at least size bytes.
// The returned slice has len == size and cap == the usable size of the block.
// The memory is not zeroed. Alloc returns nil, nil for size <= 0, and an
// error wrapping ErrOutOfMemory if the arena cannot grow.
func (a *Allocator) Alloc(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc(size)
}

func (a *Allocator) alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	target, ok := classFor(size, a.minClass)
	if !ok {
		return nil, ErrOutOfMemory
	}
	if a.base == nil {
		if err := a.bootstrap(target); err != nil {
			return nil, err
		}
	}

	// find the smallest non-empty class >= target, doubling the arena until one exists
	k := target
	for {
		for k <= a.maxClass && a.freeLists[k] == nilOffset {
			k++
		}
		if k <= a.maxClass {
			break
		}
		if err := a.grow(); err != nil {
			return nil, err
		}
		// growth only ever adds a free block at the new top class or just below it
		k = a.maxClass - 1
		if k < target {
			k = target
		}
	}

	off, _ := a.pop(k)

	// Split until we reach the target class.
	// The lower half keeps the offset, the upper half goes on the free list one class down.
	for k > target {
		k--
		right := off + 1<<k
		a.writeHeader(right, k, freeMagic, 0)
		a.push(right, k)
		a.splits++
	}

	a.writeHeader(off, target, usedMagic, size)
	a.allocs++
	a.inUseBlocks++
	a.inUseBytes += 1 << target
	a.requestedBytes += size
	return a.payload(off, target)[:size], nil
}

// Free returns a block to the allocator and merges it with its buddies.
// Panics if the block doesn't belong to this allocator or is already free.
//
// IMPORTANT: The block must start where the slice returned by Alloc started.
// Reslicing the tail (block[:n]) is fine, reslicing the head (block[n:]) is not.
func (a *Allocator) Free(block []byte) {
	if cap(block) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(a.blockOffset(block))
}

// FreeAt frees the block whose payload starts at dataOffset bytes from the arena base.
// Panics if the offset is invalid or the block is not in use.
func (a *Allocator) FreeAt(dataOffset int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	off := dataOffset - headerSize
	if !a.validOffset(off) {
		panic("buddy: offset out of range")
	}
	a.release(off)
}

// blockOffset recovers the header offset of a slice returned by alloc.
func (a *Allocator) blockOffset(block []byte) int {
	if a.base == nil {
		panic("buddy: block not in arena")
	}
	data := uintptr(unsafe.Pointer(unsafe.SliceData(block)))
	start := uintptr(a.base) + headerSize
	if data < start || data-start >= uintptr(a.size()) {
		panic("buddy: block not in arena")
	}
	off := int(data - start)
	if !a.validOffset(off) {
		panic("buddy: misaligned block")
	}
	return off
}

func (a *Allocator) validOffset(off int) bool {
	return off >= 0 && off < a.size() && off&(1<<a.minClass-1) == 0
}

// release frees the in-use block at off, merging it with free buddies of the
// same class until a buddy is busy or the block covers the whole arena.
func (a *Allocator) release(off int) {
	if a.magic(off) != usedMagic {
		panic("buddy: double free or invalid block")
	}
	k := a.class(off)
	if k < a.minClass || k > a.maxClass || off&(1<<k-1) != 0 {
		panic(invariantf("free", off, k, "corrupted header"))
	}
	a.frees++
	a.inUseBlocks--
	a.inUseBytes -= 1 << k
	a.requestedBytes -= a.requested(off)

	for k < a.maxClass {
		buddy := BuddyOffset(off, k)
		if !a.isFree(buddy) {
			break
		}
		bk := a.class(buddy)
		if bk > k {
			panic(invariantf("free", buddy, bk, "free buddy larger than block of class %d", k))
		}
		if bk < k {
			// the buddy half is split and only its first piece is free
			break
		}
		a.remove(buddy, k)
		if buddy < off {
			off = buddy
		}
		k++
		a.merges++
	}

	a.writeHeader(off, k, freeMagic, 0)
	a.push(off, k)
}

// Realloc resizes block to size bytes by moving it to a fresh block.
//
// The first min(size, cap(block)) bytes are copied and the old block is freed.
// A nil block behaves like Alloc; size <= 0 frees block and returns nil, nil.
// If the new block cannot be allocated, Realloc returns block unchanged together
// with the error; block stays valid and owned by the caller.
func (a *Allocator) Realloc(block []byte, size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cap(block) == 0 {
		return a.alloc(size)
	}
	off := a.blockOffset(block)
	if a.magic(off) != usedMagic {
		panic("buddy: realloc of free or invalid block")
	}
	if size <= 0 {
		a.release(off)
		return nil, nil
	}

	nb, err := a.alloc(size)
	if err != nil {
		return block, err
	}
	copy(nb, a.payload(off, a.class(off)))
	a.release(off)
	return nb, nil
}

// Calloc allocates count*elemSize zeroed bytes.
func (a *Allocator) Calloc(count, elemSize int) ([]byte, error) {
	if count < 0 || elemSize < 0 {
		return nil, ErrSizeOverflow
	}
	hi, size := bits.Mul64(uint64(count), uint64(elemSize))
	if hi != 0 || size > uint64(1<<maxClassLimit) {
		return nil, ErrSizeOverflow
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.alloc(int(size))
	if b == nil {
		return nil, err
	}
	full := b[:cap(b)]
	for i := range full {
		full[i] = 0
	}
	return b, nil
}

// Available returns the total usable bytes of all free blocks.
func (a *Allocator) Available() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0
	for k := a.minClass; k <= a.maxClass && a.base != nil; k++ {
		total += a.listLen(k) * usable(k)
	}
	return total
}

// Reset frees every block at once by turning the whole arena back into one
// free block. The arena keeps its size. Every outstanding block becomes invalid.
func (a *Allocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.base == nil {
		return
	}
	for i := range a.freeLists {
		a.freeLists[i] = nilOffset
	}
	a.writeHeader(0, a.maxClass, freeMagic, 0)
	a.push(0, a.maxClass)
	a.inUseBlocks, a.inUseBytes, a.requestedBytes = 0, 0, 0
}

// IsValidOffset checks if the given data offset could be a valid allocation start.
// It validates bounds and alignment without checking the allocation state.
// Use this for pre-validation before FreeAt to avoid panics from untrusted input.
func (a *Allocator) IsValidOffset(dataOffset int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validOffset(dataOffset - headerSize)
}

// Offset returns the data offset of block, the value FreeAt expects.
// Panics if block was not allocated from this allocator.
func (a *Allocator) Offset(block []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blockOffset(block) + headerSize
}
