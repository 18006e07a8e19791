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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoverage(t *testing.T) {
	c := newCoverage(100)
	assert.Len(t, c.bitmap, 13)
	assert.False(t, c.anySet(0, 100))

	c.set(3, 2) // within one byte
	assert.True(t, c.isSet(3))
	assert.True(t, c.isSet(4))
	assert.False(t, c.isSet(2))
	assert.False(t, c.isSet(5))

	c.set(14, 20) // spans bytes 1..4
	for i := 14; i < 34; i++ {
		assert.True(t, c.isSet(i), "unit %d", i)
	}
	assert.False(t, c.isSet(13))
	assert.False(t, c.isSet(34))

	c.set(50, 0)
	assert.False(t, c.isSet(50))

	assert.True(t, c.anySet(0, 4))
	assert.False(t, c.anySet(5, 9))
	assert.True(t, c.anySet(5, 10))
	assert.True(t, c.anySet(16, 8))
	assert.False(t, c.anySet(34, 66))

	c.set(99, 1)
	assert.True(t, c.anySet(34, 66))
}

func TestCoverageFullBytes(t *testing.T) {
	c := newCoverage(64)
	c.set(8, 16)
	assert.Equal(t, []byte{0, 0xFF, 0xFF, 0, 0, 0, 0, 0}, c.bitmap)
	c.set(0, 64)
	for _, b := range c.bitmap {
		assert.Equal(t, byte(0xFF), b)
	}
}
