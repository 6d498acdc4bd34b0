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

package shmzone

import (
	"github.com/sabouaram/ember/internal/perr"
)

// Registry is the ordered, per-Cycle list of declared zones. Modules call
// Declare while a Cycle is being built; Commit resolves the declarations
// against the prior Cycle's registry, preserving or remapping as needed.
type Registry struct {
	declared []*Zone
}

// Declare records a zone a module wants present in the Cycle being
// built. The zone is not mapped until Commit runs.
func (r *Registry) Declare(name string, size Size, tag interface{}, init InitFunc) (*Zone, error) {
	if size == 0 {
		return nil, perr.New(perr.ZoneConflict)
	}
	for _, z := range r.declared {
		if z.Name == name && !tagEqual(z.Tag, tag) {
			return nil, perr.New(perr.ZoneConflict)
		}
	}

	z := &Zone{Name: name, Size: size, Tag: tag, Init: init}
	r.declared = append(r.declared, z)
	return z, nil
}

// Commit resolves every declared zone against old (the prior Cycle's
// registry, or nil on cold start): a declared zone matching an old one
// by name+tag+size reuses its mapping and receives the old data; every
// other declared zone is freshly mapped. Old zones with no match are
// closed. Reports the closed old zones so the caller can log/retire them.
func (r *Registry) Commit(old *Registry) ([]*Zone, error) {
	var oldZones []*Zone
	if old != nil {
		oldZones = old.declared
	}

	matched := make(map[*Zone]bool, len(oldZones))

	for _, z := range r.declared {
		var reused *Zone
		for _, o := range oldZones {
			if !matched[o] && z.Matches(o) {
				reused = o
				break
			}
		}

		if reused != nil {
			matched[reused] = true
			z.Addr = reused.Addr
			z.Exists = true
			z.tag = reused.tag
			if z.Init != nil {
				if err := z.Init(z, reused.Data); err != nil {
					return nil, err
				}
			}
			continue
		}

		addr, err := mapZone(z.Size)
		if err != nil {
			return nil, err
		}
		z.Addr = addr
		z.mutexInit()
		if z.Init != nil {
			if err := z.Init(z, nil); err != nil {
				return nil, err
			}
		}
	}

	var closed []*Zone
	for _, o := range oldZones {
		if !matched[o] {
			_ = o.Close()
			closed = append(closed, o)
		}
	}
	return closed, nil
}

// Zones returns the registry's declared zones in declaration order.
func (r *Registry) Zones() []*Zone { return r.declared }
