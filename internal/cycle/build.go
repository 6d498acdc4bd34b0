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

package cycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sabouaram/ember/internal/listener"
	"github.com/sabouaram/ember/internal/module"
	"github.com/sabouaram/ember/internal/perr"
	"github.com/sabouaram/ember/internal/shmzone"
)

// ConfigParser is the external configuration-parsing collaborator: it
// reads the main file plus an inline directive fragment and
// decodes each module's section into the Config value CreateConf handed
// back. internal/config.Parser is the core's one built-in implementation
// (YAML + mapstructure); deployments may substitute their own.
type ConfigParser interface {
	Parse(path, extra string, target map[string]interface{}) error
}

// Options carries the command-line/bootstrap inputs that seed a build:
// the -c, -p, -g, -t and -q flag values.
type Options struct {
	ConfFile        string
	Prefix          string
	ExtraDirectives string
	TestOnly        bool
	Quiet           bool
	DefaultPidPath  string
	Paths           []Path

	// InheritListenEnv is the raw NGINX environment variable value,
	// set by a freshly exec'd process (worker spawn or binary
	// upgrade) that has no in-process old Cycle to diff listening sockets
	// against. When set and old is nil, it stands in for old's listening
	// registry so matching declared addresses reuse the inherited fd
	// instead of rebinding.
	InheritListenEnv string
}

// Build constructs the next run context: it allocates a fresh Cycle,
// asks every core module for a Config, runs parser against it, lets
// every core module validate/default its Config, reconciles shared
// zones and listening sockets against old, opens registered files and
// configured paths, and finally invokes every module's InitModule.
//
// On any failure before InitModule, the fresh Cycle's pool (and any
// temporary state) is destroyed, nil is returned and old is left untouched - no
// partial commit is observable: old is unchanged and no new sockets
// remain open. A failure from InitModule itself is
// reported as perr.Fatal: by that point the new Cycle may already have
// sockets and zones a sibling process could observe, so the only safe
// response is for the caller to exit.
func Build(ctx context.Context, old *Cycle, reg *module.Registry, parser ConfigParser, opts Options) (*Cycle, error) {
	poolSize := DefaultPoolSize
	paths := defaultPaths
	openFiles := defaultOpenFiles
	zones := defaultZones
	listening := defaultListening

	if old != nil {
		if n := len(old.Paths); n > paths {
			paths = n
		}
		if n := old.OpenFiles.Len(); n > openFiles {
			openFiles = n
		}
		if n := len(old.Zones.Zones()); n > zones {
			zones = n
		}
		if n := len(old.Listening.Listeners()); n > listening {
			listening = n
		}
	}

	// Step 2: allocate a fresh pool and the Cycle inside it.
	c, err := newEmpty(ctx, poolSize, paths, openFiles, zones, listening)
	if err != nil {
		return nil, err
	}
	c.prior = old

	// Step 3: copy string fields; seed configured paths from options (or
	// from old if the caller passed none, e.g. a signal-triggered reload
	// that reuses the running configuration).
	c.ConfFile = opts.ConfFile
	c.Prefix = opts.Prefix
	c.ConfParam = opts.ExtraDirectives
	c.PidPath = opts.DefaultPidPath
	if old != nil {
		if c.ConfFile == "" {
			c.ConfFile = old.ConfFile
		}
		if c.Prefix == "" {
			c.Prefix = old.Prefix
		}
		if c.PidPath == "" {
			c.PidPath = old.PidPath
		}
	}
	c.Paths = append(c.Paths, opts.Paths...)
	if len(c.Paths) == 0 && old != nil {
		c.Paths = append(c.Paths, old.Paths...)
	}

	rollback := func(err error) (*Cycle, error) {
		_ = c.Pool.Destroy()
		return nil, err
	}

	// Step 4: create_conf for every core module.
	target := make(map[string]interface{}, len(reg.OfType(module.TypeCore)))
	for _, m := range reg.OfType(module.TypeCore) {
		if m.CreateConf == nil {
			continue
		}
		conf, err := m.CreateConf()
		if err != nil {
			return rollback(perr.New(perr.ReloadError, err))
		}
		c.Conf.Store(m.Index, conf)
		target[m.Name] = conf
	}

	// Step 5: run the external config parser against the scratch target
	// map. A parser failure rolls back the fresh pool and leaves old
	// fully intact.
	if parser != nil {
		if err := parser.Parse(c.ConfFile, c.ConfParam, target); err != nil {
			return rollback(err)
		}
	}

	// Step 6: init_conf for every core module.
	for _, m := range reg.OfType(module.TypeCore) {
		if m.InitConf == nil {
			continue
		}
		conf, _ := c.Conf.Load(m.Index)
		if err := m.InitConf(conf); err != nil {
			return rollback(perr.New(perr.ReloadError, err))
		}
	}

	// Step 7: test-config mode stops here, after writing the pid file.
	if opts.TestOnly {
		if err := writePidFile(c.PidPath, os.Getpid()); err != nil {
			return rollback(err)
		}
		return c, nil
	}

	// Step 8: pid file diff against old.
	if err := reconcilePidFile(old, c); err != nil {
		return rollback(err)
	}

	// Step 9: create configured paths.
	for _, p := range c.Paths {
		if err := ensurePath(p); err != nil {
			return rollback(perr.New(perr.IoError, err))
		}
	}

	// Step 10: open registered files.
	if err := c.OpenFiles.OpenAll(); err != nil {
		return rollback(err)
	}

	// Step 11: shared-zone reconciliation.
	var priorZones *shmzone.Registry
	if old != nil {
		priorZones = &old.Zones
	}
	if _, err := c.Zones.Commit(priorZones); err != nil {
		c.OpenFiles.CloseAll()
		return rollback(err)
	}

	// Steps 12-13: listening-socket reconciliation; unmatched new entries
	// are bound inside Commit itself.
	var priorListening *listener.Registry
	if old != nil {
		priorListening = &old.Listening
	} else if opts.InheritListenEnv != "" {
		priorListening = listener.FromInherited(listener.InheritEnv(opts.InheritListenEnv))
	}
	if _, err := c.Listening.Commit(priorListening); err != nil {
		c.OpenFiles.CloseAll()
		return rollback(err)
	}

	// Step 14: init_module for every module, in registration order. A
	// failure here is Fatal - the new Cycle may already be partially
	// visible (open sockets, mapped zones), so there is no safe rollback;
	// the caller must exit.
	for _, m := range reg.Modules() {
		if m.InitModule == nil {
			continue
		}
		if err := m.InitModule(c); err != nil {
			return nil, perr.New(perr.Fatal, err)
		}
	}

	// Step 15 (commit) happens implicitly by returning c: the caller
	// atomically stores c as the current Cycle and is responsible for
	// closing old's dropped sockets/zones (already done above via each
	// registry's Commit) and either destroying old.Pool immediately
	// (master/initial cycle) or scheduling it for deferred retirement.
	c.prior = nil
	return c, nil
}

func ensurePath(p Path) error {
	mode := p.Mode.FileMode()
	if mode == 0 {
		mode = 0755
	}
	if err := os.MkdirAll(p.Name, mode); err != nil {
		return err
	}
	if p.User == "" {
		return nil
	}
	return chownPath(p.Name, p.User)
}

func reconcilePidFile(old *Cycle, c *Cycle) error {
	if c.PidPath == "" {
		return nil
	}
	if old != nil && old.PidPath == c.PidPath {
		return writePidFile(c.PidPath, os.Getpid())
	}
	if err := writePidFile(c.PidPath, os.Getpid()); err != nil {
		return err
	}
	if old != nil && old.PidPath != "" && old.PidPath != c.PidPath {
		_ = os.Remove(old.PidPath)
	}
	return nil
}

func writePidFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		_ = os.MkdirAll(dir, 0755)
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}
