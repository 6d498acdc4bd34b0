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

// Package worker implements per-worker process init and the worker-loop
// driver, shared by ordinary workers and the cache manager/loader
// helpers. A Worker is single-threaded and cooperative: all it does
// between channel commands is call the external event processor.
package worker

import (
	"math/rand"
	"os"
	"runtime"
	"time"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/module"
	"github.com/sabouaram/ember/internal/perr"
)

// rng is the per-process random source, reseeded by Init so two workers
// forked in the same tick never share a sequence.
var rng = rand.New(rand.NewSource(1))

// Rand returns the worker's reseeded random source.
func Rand() *rand.Rand { return rng }

// Role distinguishes the three process kinds that share this init path.
type Role uint8

const (
	RoleWorker Role = iota
	RoleCacheManager
	RoleCacheLoader
)

// Config carries the per-process tuning applied at worker init:
// rlimits, privilege drop target, CPU affinity, working directory.
type Config struct {
	Role Role

	// ConnectionN bounds the event processor's connection table; cache
	// helpers use 512 regardless of the worker configuration.
	ConnectionN int

	User, Group string // empty = do not change privileges

	RLimitNoFile     uint64
	RLimitCore       uint64
	RLimitSigPending uint64

	CPUAffinity *bitset.BitSet // nil = no pinning

	WorkingDir string
	Niceness   int
}

// EffectiveConnectionN returns the connection-table size for cfg,
// applying the cache-helper override.
func (cfg Config) EffectiveConnectionN() int {
	if cfg.Role != RoleWorker {
		return 512
	}
	return cfg.ConnectionN
}

// Init performs the per-worker init sequence: priority, rlimits,
// privilege drop, CPU pinning, chdir, PRNG reseed, listening-socket
// bookkeeping, module InitProcess hooks. It sets no environment
// variables, leaves the signal mask as inherited and closes no channel
// descriptors. It must run after fork, before the worker touches its
// Cycle's listening sockets or calls into the event processor.
func Init(cyc *cycle.Cycle, reg *module.Registry, cfg Config) error {
	if cfg.Niceness != 0 {
		_ = unix.Setpriority(unix.PRIO_PROCESS, 0, cfg.Niceness)
	}

	if err := applyRlimits(cfg); err != nil {
		return perr.New(perr.Fatal, err)
	}

	if os.Geteuid() == 0 && cfg.User != "" {
		if err := dropPrivileges(cfg.User, cfg.Group); err != nil {
			return perr.New(perr.Fatal, err)
		}
	}

	if cfg.CPUAffinity != nil {
		_ = pinCPU(cfg.CPUAffinity)
	}

	if cfg.WorkingDir != "" {
		if err := os.Chdir(cfg.WorkingDir); err != nil {
			return perr.New(perr.Fatal, err)
		}
	}

	// The process signal mask is not touched here, and neither Init nor
	// the re-exec'd worker entry point installs a signal.Notify set of
	// its own.

	rng = rand.New(rand.NewSource(int64(os.Getpid())<<16 ^ time.Now().UnixNano()))

	if cfg.Role == RoleWorker {
		for _, l := range cyc.Listening.Listeners() {
			l.Previous = nil
		}
	} else {
		// Cache manager/loader: listening sockets are force-closed at
		// startup, they never accept connections.
		for _, l := range cyc.Listening.Listeners() {
			if l.FD >= 0 {
				_ = unix.Close(l.FD)
				l.FD = -1
			}
		}
	}

	for _, m := range reg.Modules() {
		if m.InitProcess == nil {
			continue
		}
		if err := m.InitProcess(cyc); err != nil {
			return perr.New(perr.Fatal, err)
		}
	}

	return nil
}

func applyRlimits(cfg Config) error {
	if cfg.RLimitNoFile > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: cfg.RLimitNoFile, Max: cfg.RLimitNoFile}); err != nil {
			return err
		}
	}
	if cfg.RLimitCore > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{Cur: cfg.RLimitCore, Max: cfg.RLimitCore}); err != nil {
			return err
		}
	}
	if cfg.RLimitSigPending > 0 {
		_ = setSigPendingLimit(cfg.RLimitSigPending)
	}
	return nil
}

func dropPrivileges(user, group string) error {
	if group != "" {
		if gid, err := lookupGID(group); err == nil {
			if err := unix.Setgid(gid); err != nil {
				return err
			}
		}
	}
	if err := unix.Initgroups(user, 0); err != nil {
		// Not fatal on platforms/containers without group DB access; the
		// explicit Setuid below is what actually drops root.
		_ = err
	}
	uid, err := lookupUID(user)
	if err != nil {
		return err
	}
	return unix.Setuid(uid)
}

// pinCPU converts mask into a unix.CPUSet and applies it via
// Sched_setaffinity.
func pinCPU(mask *bitset.BitSet) error {
	var set unix.CPUSet
	set.Zero()
	for i := uint(0); i < mask.Len() && i < uint(runtime.NumCPU()); i++ {
		if mask.Test(i) {
			set.Set(int(i))
		}
	}
	return unix.SchedSetaffinity(0, &set)
}
