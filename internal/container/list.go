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

// Package container implements the two pool-backed collections every
// higher component stores its state in: List, an append/iterate-only
// chunked list whose element pointers never move, and Array, a
// doubling dynamic array addressable by index.
package container

import (
	"github.com/sabouaram/ember/internal/arena"
)

// listNode is one chunk of a List: a contiguous run of up to nalloc
// elements of size bytes each.
type listNode struct {
	buf    []byte
	nalloc int
	size   int
	used   int
	next   *listNode
}

// List is a pool-backed chunked list. Append never moves a previously
// returned element; iteration visits nodes in insertion order.
type List struct {
	pool   *arena.Pool
	size   int
	nalloc int
	head   *listNode
	last   *listNode
}

// NewList creates a List whose elements are size bytes each, nalloc of
// them per node, allocated from pool.
func NewList(pool *arena.Pool, size, nalloc int) (*List, error) {
	l := &List{pool: pool, size: size, nalloc: nalloc}
	n, err := l.newNode()
	if err != nil {
		return nil, err
	}
	l.head = n
	l.last = n
	return l, nil
}

func (l *List) newNode() (*listNode, error) {
	buf, err := l.pool.Alloc(l.size * l.nalloc)
	if err != nil {
		return nil, err
	}
	return &listNode{buf: buf, nalloc: l.nalloc, size: l.size}, nil
}

// Push appends one element's worth of space and returns it, extending
// the tail node or allocating a fresh one as needed.
func (l *List) Push() ([]byte, error) {
	if l.last.used == l.last.nalloc {
		n, err := l.newNode()
		if err != nil {
			return nil, err
		}
		l.last.next = n
		l.last = n
	}

	n := l.last
	start := n.used * n.size
	buf := n.buf[start : start+n.size]
	n.used++
	return buf, nil
}

// Each calls fn once per element, in insertion order, stopping early if
// fn returns false.
func (l *List) Each(fn func(elt []byte) bool) {
	for n := l.head; n != nil; n = n.next {
		for i := 0; i < n.used; i++ {
			if !fn(n.buf[i*n.size : (i+1)*n.size]) {
				return
			}
		}
	}
}

// Len returns the total number of elements appended across all nodes.
func (l *List) Len() int {
	n := 0
	for c := l.head; c != nil; c = c.next {
		n += c.used
	}
	return n
}
