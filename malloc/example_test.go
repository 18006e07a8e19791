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
package malloc_test

import (
	"fmt"

	"github.com/cloudwego/buddyalloc/heap"
	"github.com/cloudwego/buddyalloc/malloc"
)

func Example() {
	a, err := malloc.New(heap.NewSlice(1<<20), &malloc.Options{MinClass: 5, InitialSize: 4096})
	if err != nil {
		panic(err)
	}

	b1, _ := a.Alloc(100)
	b2, _ := a.Alloc(1000)
	z, _ := a.Calloc(4, 8)
	fmt.Printf("b1: len=%d cap=%d\n", len(b1), cap(b1))
	fmt.Printf("b2: len=%d cap=%d\n", len(b2), cap(b2))
	fmt.Printf("zeroed: len=%d cap=%d\n", len(z), cap(z))

	a.Free(b1)
	a.Free(b2)
	a.Free(z)
	s := a.Stats()
	fmt.Println("in use:", s.InUseBlocks, "arena:", s.ArenaSize, "free:", s.FreeBlocks)
	// Output:
	// b1: len=100 cap=112
	// b2: len=1000 cap=1008
	// zeroed: len=32 cap=48
	// in use: 0 arena: 4096 free: map[12:1]
}
