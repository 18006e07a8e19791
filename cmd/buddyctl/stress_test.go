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
package main

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/buddyalloc/heap"
	"github.com/cloudwego/buddyalloc/malloc"
)

func newStressAllocator(t *testing.T, capacity int) *malloc.Allocator {
	t.Helper()
	l := logrus.New()
	l.SetOutput(io.Discard)
	a, err := malloc.New(heap.NewSlice(capacity), &malloc.Options{MinClass: 5, InitialSize: 4096, Logger: l})
	require.NoError(t, err)
	return a
}

func TestStress(t *testing.T) {
	a := newStressAllocator(t, 64<<20)
	res, err := stress(a, stressConfig{Workers: 4, Ops: 2000, MaxSize: 4096, Seed: 7, MaxLive: 64})
	require.NoError(t, err)
	assert.Positive(t, res.Allocs)
	assert.Equal(t, res.Allocs, res.Frees)
	assert.Zero(t, res.OOMs)

	s := a.Stats()
	assert.Equal(t, 0, s.InUseBlocks)
	assert.Equal(t, map[int]int{s.MaxClass: 1}, s.FreeBlocks)
}

func TestStressOutOfMemory(t *testing.T) {
	a := newStressAllocator(t, 8192)
	res, err := stress(a, stressConfig{Workers: 4, Ops: 500, MaxSize: 4096, Seed: 1, MaxLive: 64})
	require.NoError(t, err)
	assert.Positive(t, res.OOMs)
	assert.Equal(t, 0, a.Stats().InUseBlocks)
}

func TestStressCommand(t *testing.T) {
	assert.NoError(t, runApp(t, 16<<20, "stress", "--workers", "2", "--ops", "300", "--max-size", "2000"))
	assert.Error(t, runApp(t, 16<<20, "stress", "--workers", "0"))
}
