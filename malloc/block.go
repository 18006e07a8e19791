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
	"math/bits"
	"unsafe"
)

// Block layout, relative to the block offset:
//
//	[0:4]   magic (usedMagic or freeMagic)
//	[4]     size class
//	[8:16]  requested size while in use, 0 while free
//	[16:24] next free block offset (free blocks only)
//	[24:32] prev free block offset (free blocks only)
//
// The links overlay the payload, they are meaningless once the block is handed out.
const (
	// headerSize is the size of the header in front of every payload.
	// 16 keeps payloads aligned the way the C allocators do on 64-bit.
	headerSize = 16

	linkNext = headerSize
	linkPrev = headerSize + 8

	usedMagic uint32 = 0xBADF00D
	freeMagic uint32 = 0xF4EEB10C

	// nilOffset terminates free lists.
	nilOffset = -1

	// minClassLimit is the smallest class able to hold a header and two links.
	minClassLimit = 5

	// maxClassLimit is the largest class whose size still fits in an int.
	maxClassLimit = bits.UintSize - 2

	// numClasses is the size of the free-list directory.
	numClasses = bits.UintSize

	// DefaultMinClass is the default smallest size class (32 bytes).
	DefaultMinClass = minClassLimit
)

// BuddyOffset returns the offset of the buddy of the block at off with class k.
// Offsets are relative to the arena base, so the buddy of the buddy is off again.
func BuddyOffset(off, k int) int {
	return off ^ (1 << k)
}

// classFor returns the smallest class holding size payload bytes and a header,
// clamped to minClass. ok is false if no representable class is large enough.
func classFor(size, minClass int) (k int, ok bool) {
	if size > 1<<maxClassLimit-headerSize {
		return 0, false
	}
	k = bits.Len(uint(size + headerSize - 1))
	if k < minClass {
		k = minClass
	}
	return k, true
}

// classOfSize returns ceil(log2(n)) for n > 0.
func classOfSize(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// usable returns the payload capacity of a block of class k.
func usable(k int) int {
	return 1<<k - headerSize
}

// checkOffset panics unless span bytes starting at off lie inside the arena.
func (a *Allocator) checkOffset(op string, off, span int) {
	if off < 0 || off > a.size()-span {
		panic(invariantf(op, off, -1, "offset outside arena of %d bytes", a.size()))
	}
}

func (a *Allocator) ptr(off int) unsafe.Pointer {
	return unsafe.Add(a.base, off)
}

func (a *Allocator) magic(off int) uint32 {
	a.checkOffset("header", off, headerSize)
	return *(*uint32)(a.ptr(off))
}

func (a *Allocator) class(off int) int {
	a.checkOffset("header", off, headerSize)
	return int(*(*uint8)(a.ptr(off + 4)))
}

func (a *Allocator) isFree(off int) bool {
	return a.magic(off) == freeMagic
}

func (a *Allocator) requested(off int) int {
	a.checkOffset("header", off, headerSize)
	return int(*(*uint64)(a.ptr(off + 8)))
}

// writeHeader stamps a block start. The links of a free block are left to the directory.
func (a *Allocator) writeHeader(off, k int, magic uint32, requested int) {
	a.checkOffset("header", off, headerSize)
	p := a.ptr(off)
	*(*uint32)(p) = magic
	*(*uint8)(unsafe.Add(p, 4)) = uint8(k)
	*(*uint64)(unsafe.Add(p, 8)) = uint64(requested)
}

func (a *Allocator) next(off int) int {
	a.checkOffset("link", off, 1<<minClassLimit)
	return int(*(*int64)(a.ptr(off + linkNext)))
}

func (a *Allocator) prev(off int) int {
	a.checkOffset("link", off, 1<<minClassLimit)
	return int(*(*int64)(a.ptr(off + linkPrev)))
}

func (a *Allocator) setNext(off, next int) {
	a.checkOffset("link", off, 1<<minClassLimit)
	*(*int64)(a.ptr(off + linkNext)) = int64(next)
}

func (a *Allocator) setPrev(off, prev int) {
	a.checkOffset("link", off, 1<<minClassLimit)
	*(*int64)(a.ptr(off + linkPrev)) = int64(prev)
}

// payload returns the whole usable region of the block at off.
func (a *Allocator) payload(off, k int) []byte {
	return unsafe.Slice((*byte)(a.ptr(off+headerSize)), usable(k))
}
