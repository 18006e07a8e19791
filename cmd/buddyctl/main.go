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
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/cloudwego/buddyalloc/heap"
	"github.com/cloudwego/buddyalloc/malloc"
)

const (
	usage = `buddy allocator driver

buddyctl replays allocation scenarios and runs concurrent workloads against a
single buddy allocator, then audits the allocator's invariants.`
)

// populated at build time
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "buddyctl"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format; must be json or text (default = text)",
		},
		cli.StringFlag{
			Name:  "heap",
			Value: "mmap",
			Usage: "memory behind the arena; mmap (reserved mapping) or slice (Go byte slice)",
		},
		cli.IntFlag{
			Name:  "reserve",
			Value: 1 << 30,
			Usage: "bytes reserved for the heap; the arena never grows past it",
		},
		cli.IntFlag{
			Name:  "min-class",
			Value: malloc.DefaultMinClass,
			Usage: "log2 of the smallest block, header included",
		},
		cli.IntFlag{
			Name:  "initial-size",
			Value: os.Getpagesize(),
			Usage: "minimum size of the arena created by the first allocation",
		},
	}

	app.Before = setupLogging
	app.Commands = []cli.Command{
		replayCommand,
		stressCommand,
	}
	return app
}

func setupLogging(ctx *cli.Context) error {
	logrus.SetOutput(os.Stderr)

	if logFormat := ctx.GlobalString("log-format"); logFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	}

	switch logLevel := ctx.GlobalString("log-level"); logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info", "":
		logrus.SetLevel(logrus.InfoLevel)
	case "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	default:
		return fmt.Errorf("'%v' log-level option not recognized", logLevel)
	}
	return nil
}

// newAllocator builds an allocator from the global flags. The returned func
// releases the heap once the allocator is no longer used.
func newAllocator(ctx *cli.Context) (*malloc.Allocator, func() error, error) {
	var (
		src     malloc.Source
		release = func() error { return nil }
	)
	reserve := ctx.GlobalInt("reserve")
	kind := ctx.GlobalString("heap")
	switch kind {
	case "mmap":
		m, err := heap.NewMmap(reserve)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to reserve heap: %v", err)
		}
		src, release = m, m.Close
	case "slice":
		if reserve <= 0 {
			return nil, nil, fmt.Errorf("invalid reserve %d", reserve)
		}
		src = heap.NewSlice(reserve)
	default:
		return nil, nil, fmt.Errorf("'%v' heap option not recognized", kind)
	}

	a, err := malloc.New(src, &malloc.Options{
		MinClass:    ctx.GlobalInt("min-class"),
		InitialSize: ctx.GlobalInt("initial-size"),
		Logger:      logrus.WithField("heap", kind),
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return a, release, nil
}

// logStats reports the allocator state at info level.
func logStats(log logrus.FieldLogger, a *malloc.Allocator) {
	s := a.Stats()
	log.WithFields(logrus.Fields{
		"arena_size":  s.ArenaSize,
		"grows":       s.Grows,
		"allocs":      s.Allocs,
		"frees":       s.Frees,
		"splits":      s.Splits,
		"merges":      s.Merges,
		"in_use":      s.InUseBlocks,
		"free_bytes":  s.FreeBytes,
		"free_blocks": s.FreeBlocks,
	}).Info("allocator stats")
}
