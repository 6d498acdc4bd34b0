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

package main

import (
	"fmt"

	libyaml "gopkg.in/yaml.v3"

	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/module"
)

// CoreConfig is the "core" module's section: the one piece of
// per-module configuration the
// binary itself reads, namely how many worker processes to spawn and
// how large each worker's connection table is. Every other section in
// the configuration file belongs to a domain module this tree doesn't
// implement and simply goes unmatched by the parser's CreateConf loop.
type CoreConfig struct {
	WorkerProcesses   int `mapstructure:"worker_processes" yaml:"worker_processes"`
	WorkerConnections int `mapstructure:"worker_connections" yaml:"worker_connections"`
}

// coreModule is the descriptor registerCoreModule hands back, kept so
// workerCountFromConf/workerConnectionsFromConf can find their section
// in a built Cycle's config table by index without a second registry
// walk on every spawn.
var coreModule *module.Descriptor

// registerCoreModule registers the binary's one CORE module, the kind
// that owns a slot in the cycle's configuration table via its
// CreateConf/InitConf hooks. Registration order here is the whole of
// buildRegistry's fixed order - a domain build would append its own
// modules after this one, never before.
func registerCoreModule(reg *module.Registry) *module.Descriptor {
	coreModule = reg.Register(&module.Descriptor{
		Name:    "core",
		Type:    module.TypeCore,
		Version: "0.1.0",
		CreateConf: func() (module.Config, error) {
			return &CoreConfig{WorkerProcesses: 1, WorkerConnections: 512}, nil
		},
		InitConf: func(conf module.Config) error {
			cc, ok := conf.(*CoreConfig)
			if !ok {
				return fmt.Errorf("core: unexpected config type %T", conf)
			}
			if cc.WorkerProcesses <= 0 {
				cc.WorkerProcesses = 1
			}
			if cc.WorkerConnections <= 0 {
				cc.WorkerConnections = 512
			}
			return nil
		},
	})
	return coreModule
}

// workerCountFromConf reads the committed Cycle's "core" section for
// how many worker processes the WorkerCount callback should spawn,
// sized per the running configuration rather than a compiled-in
// constant.
func workerCountFromConf(reg *module.Registry, cyc *cycle.Cycle) int {
	cc := coreConfOf(cyc)
	if cc == nil || cc.WorkerProcesses <= 0 {
		return 1
	}
	return cc.WorkerProcesses
}

// workerConnectionsFromConf reads the committed Cycle's "core" section
// for the per-worker connection-table size.
func workerConnectionsFromConf(reg *module.Registry, cyc *cycle.Cycle) int {
	cc := coreConfOf(cyc)
	if cc == nil || cc.WorkerConnections <= 0 {
		return 512
	}
	return cc.WorkerConnections
}

// dumpConfig renders every registered module's resolved section as one
// YAML document, keyed by module name. A module whose section the parser
// never matched still appears, with its CreateConf defaults; a module
// with no entry in the built Cycle's config table (it has no CreateConf
// hook) is simply omitted rather than reported as an error.
func dumpConfig(reg *module.Registry, cyc *cycle.Cycle) (string, error) {
	tree := make(map[string]interface{}, len(reg.Modules()))
	for _, d := range reg.Modules() {
		if v, ok := cyc.Conf.Load(d.Index); ok {
			tree[d.Name] = v
		}
	}
	out, err := libyaml.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("dump config: %w", err)
	}
	return string(out), nil
}

func coreConfOf(cyc *cycle.Cycle) *CoreConfig {
	if coreModule == nil || cyc == nil {
		return nil
	}
	v, ok := cyc.Conf.Load(coreModule.Index)
	if !ok {
		return nil
	}
	cc, _ := v.(*CoreConfig)
	return cc
}
