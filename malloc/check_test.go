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
	"errors"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFragmented returns an allocator holding four class-10 blocks of which
// 0 and 2048 have been freed. Neither free block has a free buddy.
func newFragmented(t *testing.T) *Allocator {
	t.Helper()
	a, _ := newTestAllocator(t, 1<<16)
	var blocks [][]byte
	for i := 0; i < 4; i++ {
		b, err := a.Alloc(1024 - headerSize)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	a.Free(blocks[0])
	a.Free(blocks[2])
	require.NoError(t, a.Check())
	require.Equal(t, []int{2048, 0}, listOffsets(t, a, 10))
	return a
}

func TestCheckEmpty(t *testing.T) {
	a, _ := newTestAllocator(t, 1<<16)
	assert.NoError(t, a.Check())

	a.freeLists[7] = 0
	assert.Error(t, a.Check())
}

func TestCheckCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(a *Allocator)
		want    string
	}{
		{
			name:    "garbage_header",
			corrupt: func(a *Allocator) { *(*uint32)(a.ptr(1024)) = 0 },
			want:    "no block header",
		},
		{
			name:    "class_out_of_range",
			corrupt: func(a *Allocator) { a.writeHeader(1024, 13, usedMagic, 1) },
			want:    "class outside",
		},
		{
			name:    "bad_back_link",
			corrupt: func(a *Allocator) { a.setPrev(0, nilOffset) },
			want:    "back link -1, want 2048",
		},
		{
			name:    "missing_from_list",
			corrupt: func(a *Allocator) { a.remove(0, 10) },
			want:    "list holds 1 blocks, arena has 2 free",
		},
		{
			name: "unmerged_buddies",
			corrupt: func(a *Allocator) {
				a.writeHeader(1024, 10, freeMagic, 0)
				a.push(1024, 10)
				a.inUseBlocks--
			},
			want: "not merged",
		},
		{
			name:    "wrong_list",
			corrupt: func(a *Allocator) { a.remove(2048, 10); a.push(2048, 9) },
			want:    "listed under class 9 but has class 10",
		},
		{
			name:    "in_use_counter",
			corrupt: func(a *Allocator) { a.inUseBlocks = 5 },
			want:    "counter says 5",
		},
		{
			name:    "cycle",
			corrupt: func(a *Allocator) { a.setNext(0, 2048) },
			want:    "reachable more than once",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFragmented(t)
			tt.corrupt(a)
			err := a.Check()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)

			var ie *InvariantError
			assert.True(t, errors.As(err, &ie))
			assert.Equal(t, "check", ie.Op)
		})
	}
}

func TestCheckReportsEveryProblem(t *testing.T) {
	a := newFragmented(t)
	a.inUseBlocks = 7
	a.setPrev(0, nilOffset)

	err := a.Check()
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.Len(t, merr.Errors, 2)
}
