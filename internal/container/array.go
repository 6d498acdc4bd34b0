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

package container

import (
	"github.com/sabouaram/ember/internal/arena"
)

// Array is a pool-backed dynamic array. Growth either extends the
// current allocation in place (if
// it sits at its pool block's tail with room to spare) or doubles and
// copies. Pointers into the array may be invalidated by a doubling push;
// callers that need stable addresses use a List instead.
type Array struct {
	pool   *arena.Pool
	size   int
	nalloc int

	buf   []byte
	nelts int
}

// NewArray allocates an Array with room for nalloc elements of size bytes
// each, backed by pool.
func NewArray(pool *arena.Pool, size, nalloc int) (*Array, error) {
	buf, err := pool.Alloc(size * nalloc)
	if err != nil {
		return nil, err
	}
	return &Array{pool: pool, size: size, nalloc: nalloc, buf: buf}, nil
}

// Len returns the number of elements pushed.
func (a *Array) Len() int { return a.nelts }

// Cap returns the element capacity of the current backing allocation.
func (a *Array) Cap() int { return len(a.buf) / a.size }

// At returns the i'th element's slot. Panics if i is out of range, like
// a slice index.
func (a *Array) At(i int) []byte {
	return a.buf[i*a.size : (i+1)*a.size]
}

// Push appends one element's worth of space and returns it.
func (a *Array) Push() ([]byte, error) {
	if a.nelts == a.Cap() {
		if err := a.grow(1); err != nil {
			return nil, err
		}
	}
	slot := a.At(a.nelts)
	a.nelts++
	return slot, nil
}

// PushN reserves space for n more elements, doubling capacity to at
// least the needed size if the current block cannot be extended in
// place, and returns the first of the n new slots.
func (a *Array) PushN(n int) ([]byte, error) {
	if a.nelts+n > a.Cap() {
		if err := a.grow(n); err != nil {
			return nil, err
		}
	}
	start := a.nelts * a.size
	a.nelts += n
	return a.buf[start : start+n*a.size], nil
}

func (a *Array) grow(n int) error {
	need := n * a.size
	if extended, ok := a.pool.ExtendTail(a.buf, need); ok {
		a.buf = extended
		return nil
	}

	newCap := a.Cap() * 2
	if newCap == 0 {
		newCap = n
	}
	for newCap < a.nelts+n {
		newCap *= 2
	}

	nb, err := a.pool.Alloc(newCap * a.size)
	if err != nil {
		return err
	}
	copy(nb, a.buf[:a.nelts*a.size])
	a.buf = nb
	return nil
}

// Destroy is a best-effort pool-tail rewind: if this array's backing
// allocation is still the last thing its pool block handed out, the
// block's free pointer is rewound to reclaim the space. Otherwise it is
// a no-op - the memory is only reclaimed when the whole pool resets or
// is destroyed.
func (a *Array) Destroy() {
	a.pool.RewindTail(a.buf)
}
