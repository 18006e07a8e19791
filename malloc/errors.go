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
	"fmt"
)

var (
	// ErrOutOfMemory is returned when the heap source refuses to grow the arena.
	ErrOutOfMemory = errors.New("buddy: out of memory")

	// ErrNotContiguous is returned when the heap source hands back memory that
	// does not start at the current top of the arena.
	ErrNotContiguous = errors.New("buddy: heap growth not contiguous with arena")

	// ErrSizeOverflow is returned by Calloc when count*elemSize overflows.
	ErrSizeOverflow = errors.New("buddy: allocation size overflows")
)

// InvariantError reports a broken structural invariant of the arena.
// It can only be caused by misuse (e.g. writing through a freed slice) or a bug.
type InvariantError struct {
	Op     string
	Offset int
	Class  int
	Msg    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("buddy: %s: block at %d (class %d): %s", e.Op, e.Offset, e.Class, e.Msg)
}

func invariantf(op string, off, k int, format string, args ...interface{}) *InvariantError {
	return &InvariantError{Op: op, Offset: off, Class: k, Msg: fmt.Sprintf(format, args...)}
}
