/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package cycle owns the run context: the reloadable aggregate that
// holds a Cycle's pool, its
// open files, shared zones, listening sockets, configured paths and
// per-module configuration table, plus the reload algorithm that builds a
// fresh Cycle from a prior one.
package cycle

import (
	"context"
	"sync/atomic"

	"github.com/hashicorp/go-uuid"

	"github.com/sabouaram/ember/internal/arena"
	"github.com/sabouaram/ember/internal/listener"
	"github.com/sabouaram/ember/internal/logging"
	"github.com/sabouaram/ember/internal/nctx"
	"github.com/sabouaram/ember/internal/shmzone"
)

// EnvListenFDs is the reserved environment variable name, spelled
// literally NGINX for compatibility, carrying a binary upgrade's
// inherited listening-socket set as "fd:addr;fd:addr;...".
const EnvListenFDs = "NGINX"

// DefaultPoolSize is the standard block size a Cycle's pool is built
// with.
const DefaultPoolSize = arena.DefaultBlockSize

// defaultPaths/defaultOpenFiles/defaultZones/defaultListening are the
// container pre-sizes used for a cold-start Cycle with no prior to copy
// sizing hints from.
const (
	defaultPaths      = 10
	defaultOpenFiles  = 20
	defaultZones      = 1
	defaultListening  = 10
	openFileNodeChunk = 8
	zoneNodeChunk     = 4
)

// Path is one configured directory, created if missing and chowned to
// the configured owner during commit.
type Path struct {
	Name string
	Mode Perm // config-facing: parsed from an octal string like "0755"
	User string
}

// Cycle is the reloadable run context.
// A Cycle becomes globally visible only once Build returns
// successfully - construction happens entirely off to the side, so a
// failure at any step leaves the previous Cycle, if any, untouched.
type Cycle struct {
	Pool *arena.Pool
	Log  *logging.Logger

	OpenFiles *OpenFileList
	Zones     shmzone.Registry
	Listening listener.Registry

	Paths []Path
	Conf  nctx.ModuleConfigs

	ConfFile  string
	Prefix    string
	ConfParam string
	PidPath   string

	// Generation is a fresh identifier stamped on every built Cycle,
	// used in diagnostics to tell two Cycles with the same configuration
	// apart.
	Generation string

	// prior is the Cycle this one was built from; it is a borrowing
	// reference used only while Build runs - it is cleared once Build
	// returns so no back-pointer survives commit.
	prior *Cycle

	refs      int64
	retiredAt int64 // unix nanos; 0 while still live
}

// newEmpty allocates a fresh Cycle with a pool of size bytes and
// pre-sized containers, ready for Build's steps 3+ to populate.
func newEmpty(ctx context.Context, poolSize, paths, openFiles, zones, listening int) (*Cycle, error) {
	pool, err := arena.Create(poolSize)
	if err != nil {
		return nil, err
	}

	of, err := newOpenFileList(pool, openFiles)
	if err != nil {
		return nil, err
	}

	gen, err := uuid.GenerateUUID()
	if err != nil {
		gen = ""
	}

	return &Cycle{
		Pool:       pool,
		OpenFiles:  of,
		Conf:       nctx.NewModuleConfigs(ctx),
		Generation: gen,
		Paths:      make([]Path, 0, paths),
	}, nil
}

// IncRef records one more live holder of this Cycle: a worker process,
// or a connection still being served out of it after a reload.
func (c *Cycle) IncRef() { atomic.AddInt64(&c.refs, 1) }

// DecRef releases one holder. When the count reaches zero and the Cycle
// has been marked for retirement, the caller's periodic sweep may now
// destroy its pool.
func (c *Cycle) DecRef() { atomic.AddInt64(&c.refs, -1) }

// liveRefs reports how many holders remain.
func (c *Cycle) liveRefs() int64 { return atomic.LoadInt64(&c.refs) }

// MarkRetiring records the Cycle as superseded. It does not destroy
// anything; the supervisor's retirement sweep does that once liveRefs
// reaches zero.
func (c *Cycle) MarkRetiring(nowUnixNano int64) {
	atomic.StoreInt64(&c.retiredAt, nowUnixNano)
}

// Retirable reports whether this Cycle has been marked for retirement
// and has no live references left.
func (c *Cycle) Retirable() bool {
	return atomic.LoadInt64(&c.retiredAt) != 0 && c.liveRefs() == 0
}

// Destroy runs the Cycle's pool cleanups and unmaps every remaining
// shared zone. It must only be called once the Cycle is Retirable (or
// is the master/initial Cycle being discarded immediately on
// replacement).
func (c *Cycle) Destroy() error {
	var firstErr error
	for _, z := range c.Zones.Zones() {
		if err := z.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.Pool.Destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Container growth helpers below round the requested size up to at least
// one list/array node, so zero-value "no prior" sizing hints still
// produce a working container.

func nodeChunk(hint, def int) int {
	if hint > 0 {
		return hint
	}
	return def
}
