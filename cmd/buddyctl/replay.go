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
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bytedance/gopkg/lang/mcache"
	"github.com/bytedance/gopkg/util/xxhash3"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/buddyalloc/malloc"
)

var replayCommand = cli.Command{
	Name:      "replay",
	Usage:     "replay allocation scenarios from YAML files",
	ArgsUsage: "FILE...",
	Action:    runReplay,
}

// scenario is one YAML document of a replay file.
//
//	name: reuse after free
//	steps:
//	  - {op: malloc, id: a, size: 10}
//	  - {op: free, id: a}
//	  - {op: expect, in_use: 0, free_blocks: {12: 1}}
type scenario struct {
	Name  string `yaml:"name"`
	Steps []step `yaml:"steps"`
}

type step struct {
	Op    string `yaml:"op"` // malloc, free, realloc, calloc, check or expect
	ID    string `yaml:"id"`
	Size  int    `yaml:"size"`
	Count int    `yaml:"count"` // calloc only
	// Fail means the allocation must fail with ErrOutOfMemory.
	Fail bool `yaml:"fail"`

	// expect only
	ArenaSize  *int        `yaml:"arena_size"`
	InUse      *int        `yaml:"in_use"`
	Grows      *int        `yaml:"grows"`
	FreeBlocks map[int]int `yaml:"free_blocks"`
}

func runReplay(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return errors.New("replay: no scenario file given")
	}
	for _, path := range ctx.Args() {
		scenarios, err := loadScenarios(path)
		if err != nil {
			return err
		}
		for _, sc := range scenarios {
			if err := replayOne(ctx, path, sc); err != nil {
				return err
			}
		}
	}
	return nil
}

func replayOne(ctx *cli.Context, path string, sc scenario) error {
	a, release, err := newAllocator(ctx)
	if err != nil {
		return err
	}
	defer release()

	log := logrus.WithFields(logrus.Fields{"file": path, "scenario": sc.Name})
	if err := newPlayer(a, log).play(sc); err != nil {
		return fmt.Errorf("%s: scenario %q: %w", path, sc.Name, err)
	}
	logStats(log, a)
	log.WithField("steps", len(sc.Steps)).Info("scenario passed")
	return nil
}

// loadScenarios reads every YAML document in path.
func loadScenarios(path string) ([]scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var scenarios []scenario
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	for {
		var sc scenario
		err := dec.Decode(&sc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if sc.Name == "" {
			sc.Name = fmt.Sprintf("#%d", len(scenarios)+1)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

type liveBlock struct {
	b   []byte
	sum uint64
}

// player applies scenario steps to one allocator. Every live block is filled
// with a pattern derived from its id and fingerprinted, so corruption by a
// neighbour shows up on the next free or realloc of the block.
type player struct {
	a      *malloc.Allocator
	log    logrus.FieldLogger
	blocks map[string]*liveBlock
}

func newPlayer(a *malloc.Allocator, log logrus.FieldLogger) *player {
	return &player{a: a, log: log, blocks: make(map[string]*liveBlock)}
}

func (p *player) play(sc scenario) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("allocator panic: %v", r)
		}
	}()
	for i, st := range sc.Steps {
		p.log.WithFields(logrus.Fields{"step": i, "op": st.Op, "id": st.ID, "size": st.Size}).Debug("replay step")
		if err := p.apply(st); err != nil {
			return fmt.Errorf("step %d (%s %s): %w", i, st.Op, st.ID, err)
		}
	}
	return nil
}

func (p *player) apply(st step) error {
	switch st.Op {
	case "malloc":
		if _, ok := p.blocks[st.ID]; ok {
			return errors.New("id already live")
		}
		b, err := p.a.Alloc(st.Size)
		if err := p.allocResult(st, err); err != nil || b == nil {
			return err
		}
		p.track(st.ID, b)

	case "calloc":
		if _, ok := p.blocks[st.ID]; ok {
			return errors.New("id already live")
		}
		b, err := p.a.Calloc(st.Count, st.Size)
		if err := p.allocResult(st, err); err != nil || b == nil {
			return err
		}
		for _, c := range b[:cap(b)] {
			if c != 0 {
				return errors.New("calloc returned dirty memory")
			}
		}
		p.track(st.ID, b)

	case "free":
		lb, err := p.verified(st.ID)
		if err != nil {
			return err
		}
		p.a.Free(lb.b)
		delete(p.blocks, st.ID)

	case "realloc":
		lb, err := p.verified(st.ID)
		if err != nil {
			return err
		}
		nb, err := p.a.Realloc(lb.b, st.Size)
		if err := p.allocResult(st, err); err != nil {
			return err
		}
		if st.Fail {
			// the old block must have survived the failure
			_, err := p.verified(st.ID)
			return err
		}
		if nb == nil {
			delete(p.blocks, st.ID)
			return nil
		}
		n := min(len(lb.b), len(nb))
		if xxhash3.Hash(nb[:n]) != patternSum(st.ID, n) {
			return errors.New("realloc lost the block contents")
		}
		p.track(st.ID, nb)

	case "check":
		return p.a.Check()

	case "expect":
		return expect(p.a.Stats(), st)

	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	return nil
}

// allocResult matches an allocation error against the step's expectation.
func (p *player) allocResult(st step, err error) error {
	switch {
	case st.Fail && err == nil:
		return errors.New("allocation succeeded, want failure")
	case st.Fail && !errors.Is(err, malloc.ErrOutOfMemory):
		return fmt.Errorf("want out of memory, got %v", err)
	case !st.Fail && err != nil:
		return err
	}
	return nil
}

func (p *player) track(id string, b []byte) {
	fillPattern(id, b)
	p.blocks[id] = &liveBlock{b: b, sum: xxhash3.Hash(b)}
}

func (p *player) verified(id string) (*liveBlock, error) {
	lb, ok := p.blocks[id]
	if !ok {
		return nil, fmt.Errorf("unknown block %q", id)
	}
	if xxhash3.Hash(lb.b) != lb.sum {
		return nil, fmt.Errorf("block %q corrupted", id)
	}
	return lb, nil
}

func fillPattern(id string, b []byte) {
	seed := byte(xxhash3.HashString(id))
	for i := range b {
		b[i] = seed + byte(i)
	}
}

// patternSum returns the fingerprint of the first n pattern bytes of id.
func patternSum(id string, n int) uint64 {
	buf := mcache.Malloc(n)
	defer mcache.Free(buf)
	fillPattern(id, buf)
	return xxhash3.Hash(buf)
}

func expect(s malloc.Stats, st step) error {
	var result *multierror.Error
	if st.ArenaSize != nil && *st.ArenaSize != s.ArenaSize {
		result = multierror.Append(result, fmt.Errorf("arena_size %d, want %d", s.ArenaSize, *st.ArenaSize))
	}
	if st.InUse != nil && *st.InUse != s.InUseBlocks {
		result = multierror.Append(result, fmt.Errorf("in_use %d, want %d", s.InUseBlocks, *st.InUse))
	}
	if st.Grows != nil && *st.Grows != s.Grows {
		result = multierror.Append(result, fmt.Errorf("grows %d, want %d", s.Grows, *st.Grows))
	}
	if st.FreeBlocks != nil && !sameCounts(st.FreeBlocks, s.FreeBlocks) {
		result = multierror.Append(result, fmt.Errorf("free_blocks %v, want %v", s.FreeBlocks, st.FreeBlocks))
	}
	return result.ErrorOrNil()
}

func sameCounts(want, got map[int]int) bool {
	n := 0
	for k, v := range want {
		if v == 0 {
			continue
		}
		if got[k] != v {
			return false
		}
		n++
	}
	return n == len(got)
}
