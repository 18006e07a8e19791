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
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/cloudwego/buddyalloc/malloc"
)

var stressCommand = cli.Command{
	Name:  "stress",
	Usage: "run random alloc/free/realloc workloads from concurrent workers",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "workers", Value: 8, Usage: "number of concurrent workers"},
		cli.IntFlag{Name: "ops", Value: 10000, Usage: "operations per worker"},
		cli.IntFlag{Name: "max-size", Value: 4096, Usage: "largest request size in bytes"},
		cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed; worker i uses seed+i"},
	},
	Action: runStress,
}

type stressConfig struct {
	Workers int
	Ops     int
	MaxSize int
	Seed    int64
	// MaxLive bounds the blocks a worker holds at once.
	MaxLive int
}

type stressResult struct {
	Allocs, Frees, Reallocs, OOMs int64
}

func runStress(ctx *cli.Context) error {
	cfg := stressConfig{
		Workers: ctx.Int("workers"),
		Ops:     ctx.Int("ops"),
		MaxSize: ctx.Int("max-size"),
		Seed:    ctx.Int64("seed"),
		MaxLive: 256,
	}
	if cfg.Workers <= 0 || cfg.Ops < 0 || cfg.MaxSize <= 0 {
		return fmt.Errorf("invalid stress parameters: %+v", cfg)
	}

	a, release, err := newAllocator(ctx)
	if err != nil {
		return err
	}
	defer release()

	log := logrus.WithField("cmd", "stress")
	res, err := stress(a, cfg)
	log.WithFields(logrus.Fields{
		"allocs":   res.Allocs,
		"frees":    res.Frees,
		"reallocs": res.Reallocs,
		"ooms":     res.OOMs,
	}).Info("stress finished")
	logStats(log, a)
	return err
}

// stress runs cfg.Workers workers on a goroutine pool against a and audits the
// allocator once they are done. Each worker keeps a copy of every live block
// in an mcache buffer and compares fingerprints before letting go of it.
func stress(a *malloc.Allocator, cfg stressConfig) (stressResult, error) {
	var (
		res    stressResult
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)
	fail := func(err error) {
		mu.Lock()
		result = multierror.Append(result, err)
		mu.Unlock()
	}

	pool := gopool.NewPool("buddyctl-stress", int32(cfg.Workers), gopool.NewConfig())
	pool.SetPanicHandler(func(_ context.Context, r interface{}) {
		fail(fmt.Errorf("worker panic: %v", r))
	})
	for i := 0; i < cfg.Workers; i++ {
		w := &stressWorker{id: i, a: a, cfg: cfg, res: &res, rng: rand.New(rand.NewSource(cfg.Seed + int64(i)))}
		wg.Add(1)
		pool.Go(func() {
			defer wg.Done()
			if err := w.run(); err != nil {
				fail(err)
			}
		})
	}
	wg.Wait()

	if err := a.Check(); err != nil {
		fail(err)
	}
	if n := a.Stats().InUseBlocks; n != 0 {
		fail(fmt.Errorf("%d blocks still in use after all workers finished", n))
	}
	return res, result.ErrorOrNil()
}

type stressBlock struct {
	b    []byte
	want []byte // mcache copy of b
}

type stressWorker struct {
	id   int
	a    *malloc.Allocator
	cfg  stressConfig
	res  *stressResult
	rng  *rand.Rand
	live []stressBlock
}

func (w *stressWorker) run() error {
	defer w.releaseAll()
	for op := 0; op < w.cfg.Ops; op++ {
		var err error
		switch r := w.rng.Intn(10); {
		case len(w.live) == 0 || (r < 5 && len(w.live) < w.cfg.MaxLive):
			err = w.alloc()
		case r < 8:
			err = w.free(w.rng.Intn(len(w.live)))
		default:
			err = w.realloc(w.rng.Intn(len(w.live)))
		}
		if err != nil {
			return fmt.Errorf("worker %d, op %d: %w", w.id, op, err)
		}
	}
	for len(w.live) > 0 {
		if err := w.free(len(w.live) - 1); err != nil {
			return fmt.Errorf("worker %d, drain: %w", w.id, err)
		}
	}
	return nil
}

func (w *stressWorker) size() int {
	return 1 + w.rng.Intn(w.cfg.MaxSize)
}

func (w *stressWorker) alloc() error {
	size := w.size()
	b, err := w.a.Alloc(size)
	if errors.Is(err, malloc.ErrOutOfMemory) {
		atomic.AddInt64(&w.res.OOMs, 1)
		return nil
	}
	if err != nil {
		return err
	}
	w.rng.Read(b)
	want := mcache.Malloc(size)
	copy(want, b)
	w.live = append(w.live, stressBlock{b: b, want: want})
	atomic.AddInt64(&w.res.Allocs, 1)
	return nil
}

func (w *stressWorker) free(i int) error {
	sb := w.live[i]
	if xxhash3.Hash(sb.b) != xxhash3.Hash(sb.want) {
		return fmt.Errorf("block of %d bytes corrupted", len(sb.b))
	}
	w.a.Free(sb.b)
	mcache.Free(sb.want)
	w.live[i] = w.live[len(w.live)-1]
	w.live = w.live[:len(w.live)-1]
	atomic.AddInt64(&w.res.Frees, 1)
	return nil
}

func (w *stressWorker) realloc(i int) error {
	sb := w.live[i]
	if xxhash3.Hash(sb.b) != xxhash3.Hash(sb.want) {
		return fmt.Errorf("block of %d bytes corrupted", len(sb.b))
	}
	size := w.size()
	nb, err := w.a.Realloc(sb.b, size)
	if errors.Is(err, malloc.ErrOutOfMemory) {
		atomic.AddInt64(&w.res.OOMs, 1)
		return nil
	}
	if err != nil {
		return err
	}
	n := min(len(sb.b), size)
	if xxhash3.Hash(nb[:n]) != xxhash3.Hash(sb.want[:n]) {
		return errors.New("realloc lost the block contents")
	}
	w.rng.Read(nb)
	want := mcache.Malloc(size)
	copy(want, nb)
	mcache.Free(sb.want)
	w.live[i] = stressBlock{b: nb, want: want}
	atomic.AddInt64(&w.res.Reallocs, 1)
	return nil
}

// releaseAll gives back whatever a failed run still holds.
func (w *stressWorker) releaseAll() {
	for _, sb := range w.live {
		w.a.Free(sb.b)
		mcache.Free(sb.want)
	}
	w.live = nil
}
