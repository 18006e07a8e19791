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
	"github.com/stretchr/testify/require"
)

// newCarved returns an allocator whose 4096-byte arena is cut into four free
// class-10 blocks, listed as 3072, 2048, 1024, 0.
func newCarved(t *testing.T) *Allocator {
	t.Helper()
	a, _ := newTestAllocator(t, 1<<16)
	require.NoError(t, a.bootstrap(a.initClass))
	_, ok := a.pop(12)
	require.True(t, ok)
	for off := 0; off < 4096; off += 1024 {
		a.writeHeader(off, 10, freeMagic, 0)
		a.push(off, 10)
	}
	return a
}

// listOffsets walks the list for class k, checking the back links on the way.
func listOffsets(t *testing.T, a *Allocator, k int) []int {
	t.Helper()
	var offs []int
	prev := nilOffset
	for off := a.freeLists[k]; off != nilOffset; off = a.next(off) {
		require.Equal(t, prev, a.prev(off), "back link of %d", off)
		offs = append(offs, off)
		prev = off
	}
	return offs
}

func TestFreeListPushPop(t *testing.T) {
	a := newCarved(t)
	assert.Equal(t, []int{3072, 2048, 1024, 0}, listOffsets(t, a, 10))
	assert.Equal(t, 4, a.listLen(10))
	assert.Equal(t, 0, a.listLen(12))

	for _, want := range []int{3072, 2048, 1024, 0} {
		off, ok := a.pop(10)
		require.True(t, ok)
		assert.Equal(t, want, off)
	}
	off, ok := a.pop(10)
	assert.False(t, ok)
	assert.Equal(t, nilOffset, off)
	assert.Equal(t, nilOffset, a.freeLists[10])
}

func TestFreeListRemove(t *testing.T) {
	tests := []struct {
		name   string
		remove []int
		want   []int
	}{
		{"head", []int{3072}, []int{2048, 1024, 0}},
		{"interior", []int{1024}, []int{3072, 2048, 0}},
		{"tail", []int{0}, []int{3072, 2048, 1024}},
		{"sole", []int{3072, 2048, 1024, 0}, nil},
		{"mixed", []int{2048, 0}, []int{3072, 1024}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newCarved(t)
			for _, off := range tt.remove {
				a.remove(off, 10)
			}
			assert.Equal(t, tt.want, listOffsets(t, a, 10))
		})
	}
}

func TestFreeListRemoveInvalid(t *testing.T) {
	a := newCarved(t)
	assert.Panics(t, func() { a.remove(1024, 11) }, "wrong class")

	a.writeHeader(2048, 10, usedMagic, 100)
	assert.Panics(t, func() { a.remove(2048, 10) }, "block in use")

	a.writeHeader(2048, 10, freeMagic, 0)
	a.setPrev(2048, nilOffset) // claims to be the head, 3072 is
	var err *InvariantError
	func() {
		defer func() { err, _ = recover().(*InvariantError) }()
		a.remove(2048, 10)
	}()
	require.NotNil(t, err)
	assert.Equal(t, "remove", err.Op)
	assert.Equal(t, 2048, err.Offset)
}
