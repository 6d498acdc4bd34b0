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

package supervisor

import (
	"os/exec"
	"strconv"

	"github.com/shirou/gopsutil/process"
)

// WorkerEntry is one row of the master's worker table, written only by
// the master in the reaper and spawner.
type WorkerEntry struct {
	Slot int
	Pid  int

	// Generation ties this entry back to the Cycle it was spawned for
	// (cycle.Cycle.Generation), so a reload can tell its old cohort from
	// its new one when both are briefly alive together.
	Generation string

	Exiting   bool
	Exited    bool
	Detached  bool
	Respawn   bool
	JustSpawn bool

	MasterChannelFD int
	cmd             *exec.Cmd
}

// live reports whether e still counts toward the supervisor's "any
// non-detached worker still running" check.
func (e *WorkerEntry) live() bool {
	return !e.Detached && !e.Exited
}

// liveWorkers reports whether any non-detached worker table entry has
// not yet exited.
func (s *Supervisor) liveWorkers() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.workers {
		if e != nil && e.live() {
			return true
		}
	}
	return false
}

// sampleWorkerRSS refreshes the worker_rss_bytes gauge for every live
// worker and drops the series for any slot that is no longer live, so a
// retired worker's last sample doesn't linger forever.
func (s *Supervisor) sampleWorkerRSS() {
	if s.opts.Metrics == nil {
		return
	}

	s.mu.Lock()
	entries := make([]*WorkerEntry, len(s.workers))
	copy(entries, s.workers)
	s.mu.Unlock()

	for _, e := range entries {
		if e == nil {
			continue
		}
		label := strconv.Itoa(e.Slot)
		if !e.live() {
			s.opts.Metrics.DropWorkerRSS(label)
			continue
		}
		p, err := process.NewProcess(int32(e.Pid))
		if err != nil {
			continue
		}
		mem, err := p.MemoryInfo()
		if err != nil || mem == nil {
			continue
		}
		s.opts.Metrics.WorkerRSS.WithLabelValues(label).Set(float64(mem.RSS))
	}
}

// nextFreeSlot returns the lowest worker-table slot that is empty or
// holds an exited entry, appending a new one if every existing slot is
// occupied. A detached entry that has not exited still occupies its slot.
func (s *Supervisor) nextFreeSlot() int {
	for i, e := range s.workers {
		if e == nil || e.Exited {
			return i
		}
	}
	return len(s.workers)
}
