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
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sys/unix"

	libatm "github.com/nabbar/golib/atomic"

	"github.com/sabouaram/ember/internal/channel"
	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/logging"
	"github.com/sabouaram/ember/internal/metrics"
	"github.com/sabouaram/ember/internal/module"
	"github.com/sabouaram/ember/internal/nctx"
	"github.com/sabouaram/ember/internal/perr"
)

// SpawnFunc forks (in the Go mapping: launches) one worker process
// bound to cyc at worker-table slot, handing it workerChannelFD, the
// worker's end of its channel socketpair. It returns the spawned pid.
type SpawnFunc func(slot int, cyc *cycle.Cycle, workerChannelFD int) (pid int, err error)

// WorkerCount reports how many worker processes the current
// configuration wants running; re-read on every spawn cohort so a
// reload can change it.
type WorkerCount func(cyc *cycle.Cycle) int

// Options configures a Supervisor.
type Options struct {
	Registry    *module.Registry
	Parser      cycle.ConfigParser
	BuildOpts   cycle.Options
	Spawn       SpawnFunc
	WorkerCount WorkerCount
	Log         *logging.Logger
	Metrics     *metrics.Metrics

	// ReconfigureSettle is how long the master waits after spawning a new
	// worker cohort before QUITting the old one, giving the new cohort
	// time to establish.
	ReconfigureSettle time.Duration

	// RetirementSweep is how often the master checks retired Cycles for
	// zero live references.
	RetirementSweep time.Duration

	// ConfigWatch, when non-empty, is a path (typically the main config
	// file's directory) the master watches for writes; a matching event
	// sets flagReconfigure exactly as SIGHUP would, for deployments that
	// push new config instead of sending a signal. Left unset, the master
	// only reconfigures on SIGHUP.
	ConfigWatch string
}

// Supervisor is the master process's state machine.
type Supervisor struct {
	opts Options

	state atomic.Int32

	// current is the process-wide "current cycle" pointer:
	// release-store on commit, acquire-load everywhere else.
	current  libatm.Value[*cycle.Cycle]
	retiring []*cycle.Cycle
	retireMu sync.Mutex

	flags nctx.SignalFlags

	mu           sync.Mutex
	workers      []*WorkerEntry
	newBinary    bool // a pending binary upgrade short-circuits reload
	newBinaryPid int
	noAccept     bool

	termStart    time.Time
	termInterval time.Duration

	// pendingRestartAfterUpgrade is armed when an upgraded binary exits
	// while accept was suspended: the next tick respawns a worker cohort
	// so this master resumes accepting.
	pendingRestartAfterUpgrade bool

	sigCh   chan os.Signal
	alarmCh chan struct{}
	watcher *fsnotify.Watcher
}

// New builds a Supervisor with no current Cycle; call Bootstrap to build
// the first one.
func New(opts Options) *Supervisor {
	if opts.ReconfigureSettle == 0 {
		opts.ReconfigureSettle = 100 * time.Millisecond
	}
	if opts.RetirementSweep == 0 {
		opts.RetirementSweep = 30 * time.Second
	}
	s := &Supervisor{
		opts:    opts,
		current: libatm.NewValue[*cycle.Cycle](),
		flags:   nctx.NewSignalFlags(context.Background()),
		sigCh:   make(chan os.Signal, 16),
		alarmCh: make(chan struct{}, 1),
	}
	s.state.Store(int32(MasterRunning))
	return s
}

// State returns the supervisor's current state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Current returns the currently committed Cycle, or nil before the first
// successful build.
func (s *Supervisor) Current() *cycle.Cycle { return s.current.Load() }

// Bootstrap runs every module's InitMaster hook exactly once, then
// builds the initial Cycle from the command-line configuration and
// installs it as current unconditionally - there is no prior cycle to
// diff against.
func (s *Supervisor) Bootstrap(ctx context.Context) (*cycle.Cycle, error) {
	if s.opts.Registry != nil {
		for _, m := range s.opts.Registry.Modules() {
			if m.InitMaster == nil {
				continue
			}
			if err := m.InitMaster(); err != nil {
				return nil, perr.New(perr.Fatal, err)
			}
		}
	}

	c, err := cycle.Build(ctx, nil, s.opts.Registry, s.opts.Parser, s.opts.BuildOpts)
	if err != nil {
		return nil, err
	}
	s.current.Store(c)
	return c, nil
}

// Shutdown runs every module's ExitMaster hook in reverse registration
// order, mirroring the pool cleanup and worker-exit-process LIFO
// discipline elsewhere in the core. Call once Run has returned and no
// worker remains live.
func (s *Supervisor) Shutdown() {
	if s.opts.Registry == nil {
		return
	}
	mods := s.opts.Registry.Modules()
	for i := len(mods) - 1; i >= 0; i-- {
		if mods[i].ExitMaster != nil {
			mods[i].ExitMaster()
		}
	}
}

// installSignals wires the master's signal set into os/signal
// notifications; the handler goroutine only ever sets flags, never acts
// directly.
func (s *Supervisor) installSignals() {
	signal.Notify(s.sigCh,
		unix.SIGCHLD, unix.SIGQUIT, unix.SIGTERM, unix.SIGINT,
		unix.SIGHUP, unix.SIGUSR1, unix.SIGUSR2, unix.SIGWINCH, unix.SIGALRM,
	)
}

func (s *Supervisor) dispatchSignal(sig os.Signal) {
	switch sig {
	case unix.SIGCHLD:
		s.flags.Store(flagReap, true)
	case unix.SIGQUIT:
		s.flags.Store(flagQuit, true)
	case unix.SIGTERM, unix.SIGINT:
		s.flags.Store(flagTerminate, true)
	case unix.SIGHUP:
		s.flags.Store(flagReconfigure, true)
	case unix.SIGUSR1:
		s.flags.Store(flagReopen, true)
	case unix.SIGUSR2:
		s.flags.Store(flagChangeBinary, true)
	case unix.SIGWINCH:
		s.flags.Store(flagNoAccept, true)
	case unix.SIGALRM:
		s.flags.Store(flagSigAlrm, true)
	}
}

func (s *Supervisor) flag(name string) bool {
	v, ok := s.flags.Load(name)
	return ok && v.(bool)
}

func (s *Supervisor) clearFlag(name string) { s.flags.Store(name, false) }

// Run is the master loop. It blocks on the signal channel (the Go
// mapping of sigsuspend: there is no equivalent "wake on any unblocked
// signal" primitive, so the channel read is the suspension point) and
// translates each delivery into the matching flag before acting on
// whatever is currently set.
func (s *Supervisor) Run(ctx context.Context) error {
	s.installSignals()
	defer signal.Stop(s.sigCh)

	sweep := time.NewTicker(s.opts.RetirementSweep)
	defer sweep.Stop()

	var rssSample <-chan time.Time
	if s.opts.Metrics != nil {
		t := time.NewTicker(s.opts.RetirementSweep)
		defer t.Stop()
		rssSample = t.C
	}

	if s.opts.ConfigWatch != "" {
		if w, err := s.watchConfig(s.opts.ConfigWatch); err != nil && s.opts.Log != nil {
			s.opts.Log.Entry(logging.Warn, "", 0, "config watch disabled: %v", err)
		} else {
			s.watcher = w
		}
	}
	if s.watcher != nil {
		defer func() { _ = s.watcher.Close() }()
	}

	for {
		if s.State() == MasterExit {
			return nil
		}

		select {
		case <-ctx.Done():
			s.flags.Store(flagTerminate, true)
		case sig := <-s.sigCh:
			s.dispatchSignal(sig)
		case <-s.alarmCh:
			// wakes the suspension point for a software-timer escalation;
			// the flag it set is consumed below like any other.
		case ev, ok := <-s.watchEvents():
			if !ok {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				s.flags.Store(flagReconfigure, true)
			} else {
				continue
			}
		case <-sweep.C:
			s.sweepRetired()
			continue
		case <-rssSample:
			s.sampleWorkerRSS()
			continue
		}

		if err := s.tick(); err != nil {
			return err
		}
	}
}

// watchConfig opens an fsnotify watch on dir (the config file's directory,
// since most editors and deploy tools replace rather than truncate the
// file in place, which a direct file watch would miss).
func (s *Supervisor) watchConfig(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// watchEvents returns the watcher's event channel, or a nil channel (which
// blocks forever and is simply never selected) when no watcher is active.
func (s *Supervisor) watchEvents() <-chan fsnotify.Event {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Events
}

// tick consumes whatever flags are currently set, reap first so exited
// children are accounted for before anything else acts on worker
// counts.
func (s *Supervisor) tick() error {
	if s.flag(flagReap) {
		s.clearFlag(flagReap)
		s.reap()
	}

	if s.flag(flagSigAlrm) {
		s.clearFlag(flagSigAlrm)
		s.onAlarm()
	}

	if s.flag(flagTerminate) {
		s.clearFlag(flagTerminate)
		s.beginTerminate()
	}

	if s.State() == MasterTerminating {
		if !s.liveWorkers() {
			s.state.Store(int32(MasterExit))
		}
		return nil
	}

	if s.flag(flagQuit) {
		s.clearFlag(flagQuit)
		s.beginGracefulShutdown()
	}

	if s.State() == MasterShuttingDown && !s.liveWorkers() {
		s.state.Store(int32(MasterExit))
		return nil
	}

	if s.flag(flagReopen) {
		s.clearFlag(flagReopen)
		s.reopenFiles()
	}

	if s.flag(flagNoAccept) {
		s.clearFlag(flagNoAccept)
		s.noAccept = true
		s.signalWorkers(channel.Message{Command: channel.Quit})
	}

	if s.flag(flagChangeBinary) {
		s.clearFlag(flagChangeBinary)
		if err := s.beginBinaryUpgrade(); err != nil && s.opts.Log != nil {
			s.opts.Log.Entry(logging.Error, "", 0, "binary upgrade failed: %v", err)
		}
	}

	if s.flag(flagReconfigure) {
		s.clearFlag(flagReconfigure)
		if err := s.reconfigure(); err != nil && s.opts.Log != nil {
			s.opts.Log.Entry(logging.Error, "", 0, "reload failed: %v", err)
		}
	}

	if s.pendingRestartAfterUpgrade {
		s.pendingRestartAfterUpgrade = false
		if err := s.spawnCohort(s.Current(), false); err != nil && s.opts.Log != nil {
			s.opts.Log.Entry(logging.Error, "", 0, "restart after failed upgrade: %v", err)
		}
	}

	return nil
}

func (s *Supervisor) reopenFiles() {
	c := s.Current()
	if c != nil {
		_ = c.OpenFiles.Reopen()
	}
	s.signalWorkers(channel.Message{Command: channel.Reopen})
}

// signalWorkers fans m out to every live worker over its channel,
// skipping (and disarming) just-spawned entries.
func (s *Supervisor) signalWorkers(m channel.Message) {
	m.FD = -1 // none of the broadcast commands carries a descriptor
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.workers {
		if e == nil || e.Exited || e.JustSpawn {
			if e != nil {
				e.JustSpawn = false
			}
			continue
		}
		if e.MasterChannelFD >= 0 {
			_ = channel.Send(e.MasterChannelFD, m)
		}
	}
}

// reap harvests exited children: for each exited worker, close its
// channel, broadcast CLOSE_CHANNEL to siblings, respawn if the entry is
// marked respawn, is not exiting, and the master is not terminating.
func (s *Supervisor) reap() {
	for {
		var wstatus unix.WaitStatus
		wpid, err := unix.Wait4(-1, &wstatus, unix.WNOHANG, nil)
		if err != nil || wpid <= 0 {
			return
		}

		if wpid == s.newBinaryPid {
			s.reapUpgradeChild()
			continue
		}

		s.mu.Lock()
		var dead *WorkerEntry
		for _, e := range s.workers {
			if e != nil && e.Pid == wpid && !e.Exited {
				dead = e
				break
			}
		}
		if dead == nil {
			s.mu.Unlock()
			continue
		}
		dead.Exited = true
		if s.opts.Metrics != nil {
			s.opts.Metrics.WorkersReaped.Inc()
			if wstatus.ExitStatus() != 0 {
				s.opts.Metrics.WorkersCrashed.Inc()
			}
		}
		if dead.MasterChannelFD >= 0 {
			_ = unix.Close(dead.MasterChannelFD)
		}
		respawn := dead.Respawn && !dead.Exiting && s.State() != MasterTerminating
		slot := dead.Slot
		s.mu.Unlock()

		s.signalWorkers(channel.Message{Command: channel.CloseChannel, Slot: int32(slot)})

		if respawn {
			_ = s.spawnOne(slot, true)
		}
	}
}
