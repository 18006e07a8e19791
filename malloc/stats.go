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

// Stats is a snapshot of the allocator state.
type Stats struct {
	ArenaSize int // 0 until the first allocation
	MinClass  int
	MaxClass  int // log2(ArenaSize), 0 until the first allocation

	Grows  int // successful heap growth calls, including the one creating the arena
	Allocs int
	Frees  int
	Splits int
	Merges int

	InUseBlocks    int
	InUseBytes     int // block bytes, headers included
	RequestedBytes int // bytes asked for by callers of the live blocks

	FreeBytes  int         // usable bytes of all free blocks
	FreeBlocks map[int]int // number of free blocks per class, empty classes omitted
}

// Stats returns a snapshot of the allocator state.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		ArenaSize:      a.size(),
		MinClass:       a.minClass,
		Grows:          a.grows,
		Allocs:         a.allocs,
		Frees:          a.frees,
		Splits:         a.splits,
		Merges:         a.merges,
		InUseBlocks:    a.inUseBlocks,
		InUseBytes:     a.inUseBytes,
		RequestedBytes: a.requestedBytes,
		FreeBlocks:     make(map[int]int),
	}
	if a.base == nil {
		return s
	}
	s.MaxClass = a.maxClass
	for k := a.minClass; k <= a.maxClass; k++ {
		if n := a.listLen(k); n > 0 {
			s.FreeBlocks[k] = n
			s.FreeBytes += n * usable(k)
		}
	}
	return s
}
