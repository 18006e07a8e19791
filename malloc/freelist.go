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

// The free-list directory: one intrusive doubly linked list per size class.
// Heads live in Allocator.freeLists, the links live inside the free blocks.
// Lists are used as stacks, the most recently freed block is reused first.

// push puts the free block at off on the front of the list for class k.
// The header must already say free with class k.
func (a *Allocator) push(off, k int) {
	head := a.freeLists[k]
	a.setPrev(off, nilOffset)
	a.setNext(off, head)
	if head != nilOffset {
		a.setPrev(head, off)
	}
	a.freeLists[k] = off
}

// pop detaches and returns the front of the list for class k.
func (a *Allocator) pop(k int) (int, bool) {
	off := a.freeLists[k]
	if off == nilOffset {
		return nilOffset, false
	}
	next := a.next(off)
	if next != nilOffset {
		a.setPrev(next, nilOffset)
	}
	a.freeLists[k] = next
	return off, true
}

// remove detaches the known free block at off from the list for class k.
func (a *Allocator) remove(off, k int) {
	if !a.isFree(off) || a.class(off) != k {
		panic(invariantf("remove", off, k, "not a free block of this class"))
	}
	prev, next := a.prev(off), a.next(off)
	if prev == nilOffset {
		if a.freeLists[k] != off {
			panic(invariantf("remove", off, k, "block has no predecessor but is not the list head"))
		}
		a.freeLists[k] = next
	} else {
		a.setNext(prev, next)
	}
	if next != nilOffset {
		a.setPrev(next, prev)
	}
}

// listLen counts the blocks on the list for class k.
func (a *Allocator) listLen(k int) int {
	n := 0
	for off := a.freeLists[k]; off != nilOffset; off = a.next(off) {
		n++
	}
	return n
}
