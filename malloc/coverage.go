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

// coverage is a bitmap with one bit per minimum-size block of the arena.
// Check uses it to see which parts of the arena a walk has already visited.
type coverage struct {
	bitmap []byte
	units  int
}

func newCoverage(units int) *coverage {
	return &coverage{bitmap: make([]byte, (units+7)>>3), units: units}
}

// isSet returns true if unit idx is marked.
func (c *coverage) isSet(idx int) bool {
	return c.bitmap[idx>>3]&(1<<(idx&7)) != 0
}

// anySet returns true if any of count units starting at idx is marked.
func (c *coverage) anySet(idx, count int) bool {
	end := idx + count
	for i := idx; i < end; {
		if i&7 == 0 && end-i >= 8 {
			if c.bitmap[i>>3] != 0 {
				return true
			}
			i += 8
			continue
		}
		if c.isSet(i) {
			return true
		}
		i++
	}
	return false
}

// set marks count units starting at idx.
func (c *coverage) set(idx, count int) {
	if count == 0 {
		return
	}
	end := idx + count
	startByte := idx >> 3
	endByte := (end - 1) >> 3

	if startByte == endByte {
		// All bits in same byte
		c.bitmap[startByte] |= byte((1<<count)-1) << (idx & 7)
		return
	}

	// First byte: bits from idx&7 to 7
	c.bitmap[startByte] |= byte(0xFF) << (idx & 7)

	// Middle bytes
	for i := startByte + 1; i < endByte; i++ {
		c.bitmap[i] = 0xFF
	}

	// Last byte: bits 0 to (end-1)&7
	c.bitmap[endByte] |= byte((1 << ((end-1)&7 + 1)) - 1)
}
