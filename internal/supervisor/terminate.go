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
	"time"

	"golang.org/x/sys/unix"

	libdur "github.com/nabbar/golib/duration"

	"github.com/sabouaram/ember/internal/channel"
	"github.com/sabouaram/ember/internal/logging"
)

// initialTermInterval/termCeiling implement the ALRM-backoff ladder:
// 50ms initial delay, doubling on each expiry, until total elapsed
// exceeds 1 second, at which point KILL is sent instead of another TERM.
const (
	initialTermInterval = 50 * time.Millisecond
	termCeiling         = time.Second
)

// beginTerminate enters MasterTerminating and sends the first TERM.
// Re-entrant: a second TERM/INT while already terminating is a no-op,
// the ladder already owns escalation.
func (s *Supervisor) beginTerminate() {
	if s.State() == MasterTerminating {
		return
	}
	s.state.Store(int32(MasterTerminating))
	s.termStart = time.Now()
	s.termInterval = initialTermInterval
	s.killWorkers(unix.SIGTERM)
	s.signalWorkers(channel.Message{Command: channel.Terminate})
	s.armAlarm(s.termInterval)
}

// onAlarm is the ALRM handler: resend TERM and double the interval, or
// escalate to KILL once the ladder has run past one second.
func (s *Supervisor) onAlarm() {
	if s.State() != MasterTerminating {
		return
	}
	elapsed := time.Since(s.termStart)
	if elapsed > termCeiling {
		if s.opts.Log != nil {
			s.opts.Log.Entry(logging.Warn, "", 0, "terminate ladder exhausted after %s, sending KILL", libdur.ParseDuration(elapsed).String())
		}
		s.killWorkers(unix.SIGKILL)
		return
	}
	s.termInterval *= 2
	s.killWorkers(unix.SIGTERM)
	s.signalWorkers(channel.Message{Command: channel.Terminate})
	s.armAlarm(s.termInterval)
}

func (s *Supervisor) armAlarm(d time.Duration) {
	time.AfterFunc(d, func() {
		s.flags.Store(flagSigAlrm, true)
		select {
		case s.alarmCh <- struct{}{}:
		default:
		}
	})
}

func (s *Supervisor) killWorkers(sig unix.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.workers {
		if e != nil && !e.Exited {
			_ = unix.Kill(e.Pid, sig)
		}
	}
}

// beginGracefulShutdown enters MasterShuttingDown: each worker is told
// to quit over its channel, drains its open connections and exits on
// its own.
func (s *Supervisor) beginGracefulShutdown() {
	s.state.Store(int32(MasterShuttingDown))
	s.mu.Lock()
	for _, e := range s.workers {
		if e != nil {
			e.Exiting = true
			e.Respawn = false
		}
	}
	s.mu.Unlock()
	s.signalWorkers(channel.Message{Command: channel.Quit})
}
