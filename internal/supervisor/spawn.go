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
	"github.com/sabouaram/ember/internal/channel"
	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/perr"
)

// SpawnInitialCohort spawns the first worker cohort for the Cycle
// Bootstrap just committed. It must run after Bootstrap and before Run.
func (s *Supervisor) SpawnInitialCohort() error {
	c := s.Current()
	if c == nil {
		return perr.New(perr.Fatal)
	}
	return s.spawnCohort(c, false)
}

// spawnOne forks one worker into slot. If justRespawn is set, the new
// entry's JustSpawn flag is armed so the next signalWorkers broadcast
// skips it.
func (s *Supervisor) spawnOne(slot int, justRespawn bool) error {
	c := s.Current()
	if c == nil || s.opts.Spawn == nil {
		return perr.New(perr.ChildSpawnError)
	}

	masterFD, workerFD, err := channel.NewPair()
	if err != nil {
		return perr.New(perr.ChildSpawnError, err)
	}

	pid, err := s.opts.Spawn(slot, c, workerFD)
	if err != nil {
		return perr.New(perr.ChildSpawnError, err)
	}

	entry := &WorkerEntry{
		Slot:            slot,
		Pid:             pid,
		Generation:      c.Generation,
		Respawn:         true,
		JustSpawn:       justRespawn,
		MasterChannelFD: masterFD,
	}

	s.mu.Lock()
	if slot < len(s.workers) {
		s.workers[slot] = entry
	} else {
		for len(s.workers) < slot {
			s.workers = append(s.workers, nil)
		}
		s.workers = append(s.workers, entry)
	}
	siblings := make([]*WorkerEntry, 0, len(s.workers))
	for _, e := range s.workers {
		if e != nil && e != entry && !e.Exited {
			siblings = append(siblings, e)
		}
	}
	s.mu.Unlock()

	// Tell every live sibling about the new worker's identity so
	// workers can address each other over their channels.
	for _, sib := range siblings {
		_ = channel.Send(sib.MasterChannelFD, channel.Message{
			Command: channel.OpenChannel, Pid: int32(pid), Slot: int32(slot), FD: int32(masterFD),
		})
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.WorkersSpawned.Inc()
	}
	return nil
}

// spawnCohort spawns one worker per s.opts.WorkerCount(cyc), filling
// free slots first.
func (s *Supervisor) spawnCohort(cyc *cycle.Cycle, justRespawn bool) error {
	n := 1
	if s.opts.WorkerCount != nil {
		n = s.opts.WorkerCount(cyc)
	}
	for i := 0; i < n; i++ {
		slot := s.nextFreeSlot()
		if err := s.spawnOne(slot, justRespawn); err != nil {
			return err
		}
	}
	return nil
}
