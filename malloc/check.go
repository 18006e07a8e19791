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
	"github.com/hashicorp/go-multierror"
)

// Check audits the whole arena and returns every broken invariant it finds.
//
// It walks the arena block by block (every block is a power of two within
// [MinClass, MaxClass], aligned to its own size, and the blocks tile the arena
// exactly), then walks every free list (each entry is a free block of the
// list's class with a correct back link, reachable only once, and the lists
// hold exactly the free blocks of the walk), and finally verifies that no two
// free buddies of the same class were left unmerged.
//
// Check takes time linear in the arena size and is meant for tests and tooling.
func (a *Allocator) Check() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result *multierror.Error
	if a.base == nil {
		for k, head := range a.freeLists {
			if head != nilOffset {
				result = multierror.Append(result, invariantf("check", head, k, "free list populated before arena exists"))
			}
		}
		return result.ErrorOrNil()
	}

	units := a.size() >> a.minClass
	freeStarts := newCoverage(units)
	var walkFree [numClasses]int
	used := 0

	// 1. the blocks tile the arena
	for off := 0; off < a.size(); {
		m := a.magic(off)
		if m != usedMagic && m != freeMagic {
			result = multierror.Append(result, invariantf("check", off, -1, "no block header (magic %#x)", m))
			break
		}
		k := a.class(off)
		if k < a.minClass || k > a.maxClass {
			result = multierror.Append(result, invariantf("check", off, k, "class outside [%d, %d]", a.minClass, a.maxClass))
			break
		}
		if off&(1<<k-1) != 0 {
			result = multierror.Append(result, invariantf("check", off, k, "block not aligned to its size"))
			break
		}
		if m == freeMagic {
			freeStarts.set(off>>a.minClass, 1)
			walkFree[k]++
			if k < a.maxClass {
				if b := BuddyOffset(off, k); b > off && a.isFree(b) && a.class(b) == k {
					result = multierror.Append(result, invariantf("check", off, k, "free buddy at %d not merged", b))
				}
			}
		} else {
			used++
		}
		off += 1 << k
	}
	if used != a.inUseBlocks {
		result = multierror.Append(result, invariantf("check", 0, -1, "%d blocks in use, counter says %d", used, a.inUseBlocks))
	}

	// 2. the free lists hold exactly the free blocks
	listed := newCoverage(units)
	for k, head := range a.freeLists {
		if (k < a.minClass || k > a.maxClass) && head != nilOffset {
			result = multierror.Append(result, invariantf("check", head, k, "free list for class outside the arena"))
			continue
		}
		n, prev := 0, nilOffset
		for off := head; off != nilOffset; off = a.next(off) {
			if !a.validOffset(off) || !freeStarts.isSet(off>>a.minClass) {
				result = multierror.Append(result, invariantf("check", off, k, "listed entry is not a free block"))
				break
			}
			if a.class(off) != k {
				result = multierror.Append(result, invariantf("check", off, k, "listed under class %d but has class %d", k, a.class(off)))
				break
			}
			if a.prev(off) != prev {
				result = multierror.Append(result, invariantf("check", off, k, "back link %d, want %d", a.prev(off), prev))
			}
			idx, count := off>>a.minClass, 1<<(k-a.minClass)
			if listed.anySet(idx, count) {
				result = multierror.Append(result, invariantf("check", off, k, "block reachable more than once"))
				break
			}
			listed.set(idx, count)
			n++
			prev = off
		}
		if n != walkFree[k] {
			result = multierror.Append(result, invariantf("check", head, k, "list holds %d blocks, arena has %d free", n, walkFree[k]))
		}
	}
	return result.ErrorOrNil()
}
