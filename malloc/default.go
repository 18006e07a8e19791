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
	"os"
	"sync"
	"unsafe"

	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/cloudwego/buddyalloc/heap"
)

const envPrefix = "BUDDY"

// EnvConfig configures the process-wide allocator returned by Default.
// Each field is read from BUDDY_<NAME>, e.g. BUDDY_MIN_CLASS.
type EnvConfig struct {
	MinClass    int    `envconfig:"MIN_CLASS" default:"5"`
	InitialSize int    `envconfig:"INITIAL_SIZE"` // 0 means the OS page size
	Reserve     int    `envconfig:"RESERVE" default:"1073741824"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadEnvConfig reads EnvConfig from the environment.
func LoadEnvConfig() (*EnvConfig, error) {
	c := &EnvConfig{}
	if err := envconfig.Process(envPrefix, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Options converts the config into allocator options.
func (c *EnvConfig) Options() (*Options, error) {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	l := logrus.New()
	l.SetLevel(lvl)

	o := &Options{
		MinClass:    c.MinClass,
		InitialSize: c.InitialSize,
		Logger:      l.WithField("component", "buddy"),
	}
	if o.InitialSize == 0 {
		o.InitialSize = os.Getpagesize()
	}
	return o, o.validate()
}

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
)

// Default returns the process-wide allocator behind Malloc, Free, Realloc and
// Calloc. It is built on first use from the environment (see EnvConfig) and
// grows a single reserved mapping; its arena is created by the first allocation.
// A bad environment is logged and replaced by the defaults.
func Default() *Allocator {
	defaultOnce.Do(func() {
		defaultAlloc = newDefault()
	})
	return defaultAlloc
}

func newDefault() *Allocator {
	c, err := LoadEnvConfig()
	var opts *Options
	if err == nil {
		opts, err = c.Options()
	}
	if err != nil {
		logrus.WithError(err).Warn("buddy: invalid environment, using defaults")
		c = &EnvConfig{Reserve: 1 << 30}
		opts = DefaultOptions()
	}

	var src Source
	m, err := heap.NewMmap(c.Reserve)
	if err != nil {
		logrus.WithError(err).Error("buddy: cannot reserve heap, allocations will fail")
		src = brokenSource{err: err}
	} else {
		src = m
	}
	a, err := New(src, opts)
	if err != nil {
		// opts were validated above
		panic(err)
	}
	return a
}

type brokenSource struct{ err error }

func (s brokenSource) Sbrk(int) (unsafe.Pointer, error) { return nil, s.err }

// Malloc allocates size bytes from the process-wide allocator.
// It returns nil if size is 0 or the arena cannot grow.
func Malloc(size int) []byte {
	b, _ := Default().Alloc(size)
	return b
}

// Free releases a block obtained from Malloc, Realloc or Calloc. Free(nil) is a no-op.
func Free(b []byte) {
	Default().Free(b)
}

// Realloc moves b to a block of size bytes, like C realloc.
// On failure it returns nil and b stays valid.
func Realloc(b []byte, size int) []byte {
	nb, err := Default().Realloc(b, size)
	if err != nil {
		return nil
	}
	return nb
}

// Calloc allocates count*elemSize zeroed bytes from the process-wide allocator.
func Calloc(count, elemSize int) []byte {
	b, _ := Default().Calloc(count, elemSize)
	return b
}
