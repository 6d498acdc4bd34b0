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

// Package shmzone implements named, sized, tagged process-shared regions.
// Each zone is backed by an anonymous MAP_SHARED mapping
// so it survives a worker fork with the same address, and its first
// bytes hold a futex word used as the zone's cross-process mutex.
package shmzone

import (
	"github.com/hashicorp/go-uuid"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/ember/internal/perr"
)

// InitFunc initializes a zone, receiving the data carried over from the
// preceding zone of the same name+tag+size (nil on first creation or
// after a size/tag change).
type InitFunc func(z *Zone, oldData interface{}) error

// Zone is one named shared-memory region.
type Zone struct {
	Name string
	Size Size
	Tag  interface{}

	Addr   []byte
	Exists bool
	Init   InitFunc
	Data   interface{}

	tag string
}

// New mmaps a fresh size-byte MAP_SHARED|MAP_ANONYMOUS region for name,
// identified across reloads by tag, and installs its futex-based mutex
// header. size must be positive: a zero-size zone is rejected here, as
// in Registry.Declare, with ZoneConflict.
func New(name string, size Size, tag interface{}) (*Zone, error) {
	if size == 0 {
		return nil, perr.New(perr.ZoneConflict)
	}

	addr, err := mapZone(size)
	if err != nil {
		return nil, err
	}

	t, terr := uuid.GenerateUUID()
	if terr != nil {
		t = name
	}

	z := &Zone{Name: name, Size: size, Tag: tag, Addr: addr, tag: t}
	z.mutexInit()
	return z, nil
}

// Close unmaps the zone's region. Callers must ensure no worker still
// references the zone before calling this.
func (z *Zone) Close() error {
	if z.Addr == nil {
		return nil
	}
	err := unix.Munmap(z.Addr)
	z.Addr = nil
	return err
}

// Matches reports whether z and old identify the same zone across a
// reload: same name, same tag, same size. A match means the old mapping
// is preserved and handed to the new zone.
func (z *Zone) Matches(old *Zone) bool {
	if old == nil {
		return false
	}
	return z.Name == old.Name && z.Size == old.Size && tagEqual(z.Tag, old.Tag)
}

func tagEqual(a, b interface{}) bool {
	return a == b
}

// mapZone allocates a fresh anonymous MAP_SHARED region of size bytes.
func mapZone(size Size) ([]byte, error) {
	addr, err := unix.Mmap(-1, 0, int(size.Int64()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, perr.New(perr.AllocError, err)
	}
	return addr, nil
}
