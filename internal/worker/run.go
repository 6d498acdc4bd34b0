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

package worker

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/ember/internal/channel"
	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/logging"
	"github.com/sabouaram/ember/internal/module"
)

// EventProcessor is the external event-loop collaborator, called once
// per worker loop iteration. Idle reports whether every connection the
// worker owns is closed or has gone idle, the condition the
// graceful-exit path waits for.
type EventProcessor interface {
	ProcessEventsAndTimers(cyc *cycle.Cycle) error
	Idle() bool
}

// Worker is one running worker/cache-manager/cache-loader process. Its
// Term/Quit/Reopen flags are single-writer (signal handler or channel
// dispatch), single-reader (Run's own loop).
type Worker struct {
	Slot      int
	Cfg       Config
	Cycle     *cycle.Cycle
	Registry  *module.Registry
	ChannelFD int

	Term    atomic.Bool
	Quit    atomic.Bool
	Reopen  atomic.Bool
	exiting atomic.Bool
}

// HandleChannel dispatches a received channel command into the same
// flags a signal would set, so Run's loop body is identical regardless
// of which one triggered it.
func (w *Worker) HandleChannel(m channel.Message) {
	switch m.Command {
	case channel.Quit:
		w.Quit.Store(true)
	case channel.Terminate:
		w.Term.Store(true)
	case channel.Reopen:
		w.Reopen.Store(true)
	case channel.OpenChannel, channel.CloseChannel:
		// Sibling bookkeeping only; the supervisor's worker table, not
		// this worker's own loop, acts on these.
	}
}

// Run drives the worker loop until Term fires or a graceful Quit drains
// to idle. It returns once the process should exit; the caller is
// responsible for actually calling os.Exit.
func (w *Worker) Run(proc EventProcessor) error {
	for {
		if w.Term.Load() {
			w.exitProcess()
			return nil
		}

		if w.Quit.Load() && !w.exiting.Load() {
			w.closeListening()
			w.exiting.Store(true)
		}

		if w.Reopen.Load() {
			_ = w.Cycle.OpenFiles.Reopen()
			w.Reopen.Store(false)
		}

		if w.exiting.Load() && proc.Idle() {
			w.exitProcess()
			return nil
		}

		if err := w.processOnce(proc); err != nil {
			return err
		}
	}
}

// processOnce calls the event processor for a single loop iteration with
// a recover() guard: a panic inside a module's event handling must not
// take the whole worker process down mid-connection, so it's logged and
// treated as a no-op iteration instead.
func (w *Worker) processOnce(proc EventProcessor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.RecoveryCaller("worker.ProcessEventsAndTimers", r)
		}
	}()
	return proc.ProcessEventsAndTimers(w.Cycle)
}

func (w *Worker) closeListening() {
	for _, l := range w.Cycle.Listening.Listeners() {
		if l.FD >= 0 && l.Open() {
			_ = unix.Close(l.FD)
		}
	}
}

// exitProcess calls every module's ExitProcess hook, in reverse
// registration order, mirroring the pool cleanup list's LIFO teardown
// discipline.
func (w *Worker) exitProcess() {
	mods := w.Registry.Modules()
	for i := len(mods) - 1; i >= 0; i-- {
		if mods[i].ExitProcess != nil {
			mods[i].ExitProcess(w.Cycle)
		}
	}
}
