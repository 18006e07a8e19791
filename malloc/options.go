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
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// Options ...
type Options struct {
	// MinClass is the smallest size class. Blocks are never smaller than
	// 1<<MinClass bytes, header included. It must be at least 5 so that a
	// free block can hold its header and its list links.
	MinClass int

	// InitialSize is the minimum size of the arena created by the first
	// allocation. It is rounded up to a power of two. The arena is made
	// larger if the first request needs it.
	InitialSize int

	// Logger receives debug events about arena growth and failures.
	Logger logrus.FieldLogger
}

// DefaultOptions returns the default values of Options.
func DefaultOptions() *Options {
	return &Options{
		MinClass:    DefaultMinClass,
		InitialSize: os.Getpagesize(),
		Logger:      logrus.StandardLogger(),
	}
}

func (o *Options) validate() error {
	if o.MinClass < minClassLimit || o.MinClass > maxClassLimit {
		return fmt.Errorf("MinClass must be in [%d, %d], got %d", minClassLimit, maxClassLimit, o.MinClass)
	}
	if o.InitialSize <= 0 {
		return fmt.Errorf("InitialSize must be > 0, got %d", o.InitialSize)
	}
	if o.InitialSize > 1<<maxClassLimit {
		return fmt.Errorf("InitialSize must be <= %d, got %d", 1<<maxClassLimit, o.InitialSize)
	}
	return nil
}
