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

// Package module implements the module registry: a fixed, statically
// ordered list of descriptors with optional lifecycle hooks, each
// assigned a global and a per-type index once, before any Cycle is
// built.
package module

// Type distinguishes the three module roles the supervisor treats
// specially; CORE modules own a config slot populated during a cycle
// build.
type Type uint8

const (
	TypeCore Type = iota
	TypeEvent
	TypeWorker
)

// Config is a per-module configuration value, created fresh for every
// Cycle and populated by the external config parser.
type Config interface{}

// Descriptor is one module's static registration. Every hook is
// optional; nil hooks are skipped.
type Descriptor struct {
	Name     string
	Index    int
	CtxIndex int
	Type     Type
	Version  string

	// CreateConf builds a fresh Config for a Cycle being built (step 4,
	// CORE modules only).
	CreateConf func() (Config, error)

	// InitConf validates/defaults a populated Config once the external
	// parser has run (step 6, CORE modules only).
	InitConf func(conf Config) error

	// InitMaster runs once, in the master process only, before the first
	// Cycle is ever built.
	InitMaster func() error

	// InitModule and InitProcess receive the *cycle.Cycle being built (or
	// just-forked into), as interface{} rather than the concrete type -
	// package module sits below package cycle in the import graph (cycle
	// registers modules, so module can't import it back). Callers in
	// this tree always pass a *cycle.Cycle; a module implementation
	// type-asserts it back.
	InitModule  func(cyc interface{}) error
	InitProcess func(cyc interface{}) error
	InitThread  func() error
	ExitThread  func()
	ExitProcess func(cyc interface{})
	ExitMaster  func()
}

// Registry is the fixed, ordered list of statically registered modules.
type Registry struct {
	modules []*Descriptor
	byType  map[Type]int
}

// Register appends d to the registry, assigning its global Index and its
// per-type CtxIndex. Registration order is significant and must be
// identical across every Cycle built in the process's lifetime.
func (r *Registry) Register(d *Descriptor) *Descriptor {
	if r.byType == nil {
		r.byType = make(map[Type]int)
	}
	d.Index = len(r.modules)
	d.CtxIndex = r.byType[d.Type]
	r.byType[d.Type]++
	r.modules = append(r.modules, d)
	return d
}

// Modules returns every registered descriptor in registration order.
func (r *Registry) Modules() []*Descriptor { return r.modules }

// OfType returns the registered descriptors of the given type, in
// registration order.
func (r *Registry) OfType(t Type) []*Descriptor {
	out := make([]*Descriptor, 0, len(r.modules))
	for _, d := range r.modules {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}
