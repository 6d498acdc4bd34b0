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
	"context"
	"time"

	"github.com/sabouaram/ember/internal/channel"
	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/logging"
)

// reconfigure implements SIGHUP: build a new
// Cycle from the same command-line configuration path, spawn a fresh
// worker cohort bound to it, let them settle, then QUIT the old cohort.
//
// If a binary upgrade is already pending (s.newBinary), reload
// short-circuits into "just accept workers for the new binary" instead
// of building a second Cycle: the handover has to resolve before a new
// configuration generation makes sense.
func (s *Supervisor) reconfigure() error {
	if s.newBinary {
		return s.spawnCohort(s.Current(), true)
	}

	old := s.Current()

	ctx := context.Background()
	next, err := cycle.Build(ctx, old, s.opts.Registry, s.opts.Parser, s.opts.BuildOpts)
	if err != nil {
		if s.opts.Metrics != nil {
			s.opts.Metrics.ReloadFailures.Inc()
		}
		return err
	}

	if old != nil {
		old.MarkRetiring(time.Now().UnixNano())
		s.retireMu.Lock()
		s.retiring = append(s.retiring, old)
		s.retireMu.Unlock()
	}
	s.current.Store(next)

	if err := s.spawnCohort(next, true); err != nil {
		return err
	}

	time.Sleep(s.opts.ReconfigureSettle)

	if old != nil {
		s.quitCohortForCycle(old)
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.Reloads.Inc()
	}
	return nil
}

// sweepRetired runs on the retirement ticker and reclaims a retired
// cycle only once it has no live references. Every retired Cycle still holding live
// references is left in place for the next tick; the rest have their
// pool destroyed and their shared zones unmapped, then drop out of the
// retiring set.
func (s *Supervisor) sweepRetired() {
	s.retireMu.Lock()
	kept := s.retiring[:0]
	var done []*cycle.Cycle
	for _, old := range s.retiring {
		if old.Retirable() {
			done = append(done, old)
		} else {
			kept = append(kept, old)
		}
	}
	s.retiring = kept
	remaining := len(s.retiring)
	s.retireMu.Unlock()

	for _, old := range done {
		if err := old.Destroy(); err != nil && s.opts.Log != nil {
			s.opts.Log.Entry(logging.Error, "", 0, "retired cycle %s destroy failed: %v", old.Generation, err)
		} else if s.opts.Log != nil {
			s.opts.Log.Entry(logging.Info, "", 0, "retired cycle %s reclaimed", old.Generation)
		}
		if s.opts.Metrics != nil {
			s.opts.Metrics.CyclesRetired.Inc()
		}
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.CyclesRetiring.Set(float64(remaining))
	}
}

// quitCohortForCycle sends QUIT to the live worker entries still bound
// to old's generation; workers already spawned against the replacement
// Cycle are left alone.
func (s *Supervisor) quitCohortForCycle(old *cycle.Cycle) {
	s.mu.Lock()
	var toQuit []*WorkerEntry
	for _, e := range s.workers {
		if e != nil && !e.Exited && e.Generation == old.Generation {
			e.Exiting = true
			e.Respawn = false
			toQuit = append(toQuit, e)
		}
	}
	s.mu.Unlock()

	m := channel.Message{Command: channel.Quit, FD: -1}
	for _, e := range toQuit {
		if e.MasterChannelFD >= 0 {
			_ = channel.Send(e.MasterChannelFD, m)
		}
	}
}
