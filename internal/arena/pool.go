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

// Package arena implements the bump-allocated pool that every other
// component in the lifecycle core builds its long-lived state on: a chain
// of fixed-capacity blocks for small allocations, an overflow list for
// large ones, and a LIFO list of cleanup callbacks run at destroy.
//
// A Pool is not safe for concurrent use. Like the allocator it is modeled
// on, it assumes a single thread of control owns it for its whole
// lifetime - a worker's own pool, or the pool backing one Cycle build.
// Callers that hand a Pool across goroutines must serialize access
// themselves.
package arena

import (
	"errors"
	"os"
	"unsafe"

	"github.com/sabouaram/ember/internal/perr"
)

const (
	// DefaultBlockSize is the standard block size a Cycle's pool is
	// built with.
	DefaultBlockSize = 16 * 1024

	// headerSize approximates the bookkeeping a bump allocator keeps at
	// the head of its first block (next/end/failed/next-block links plus
	// the pool-wide max/current/large-list/cleanup-list fields). It only
	// feeds the pool.max computation, it does not model an actual
	// in-block memory layout.
	headerSize = 64

	// maxLargeScan bounds how many head entries of the large-list are
	// scanned for a reusable (freed) slot before giving up and prepending
	// a fresh entry.
	maxLargeScan = 4

	// failureThreshold is how many consecutive misses a block tolerates
	// before alloc stops considering it as the "current" block.
	failureThreshold = 4
)

// block is one fixed-capacity chunk in the pool's block chain.
type block struct {
	buf    []byte
	last   int // offset of the next free byte
	failed int
	next   *block
}

// large is one individually-freeable allocation living outside the block
// chain, used for requests above pool.max and for over-aligned requests.
type large struct {
	buf  []byte
	next *large
}

// CleanupHandler is invoked with its associated data when a pool is
// destroyed, or - for close-file handlers - when run_file_cleanups
// matches its fd.
type CleanupHandler func(data interface{}) error

// CleanupRecord is one entry in a pool's LIFO cleanup list.
type CleanupRecord struct {
	Data interface{}

	handler     CleanupHandler
	fd          int
	isCloseFile bool
	next        *CleanupRecord
}

// SetHandler assigns the callback run at destroy (or at a matching
// run_file_cleanups) for this record.
func (c *CleanupRecord) SetHandler(h CleanupHandler) { c.handler = h }

// SetCloseFile marks this record as a close-file cleanup bound to fd, so
// run_file_cleanups(pool, fd) will invoke and clear it before destroy.
func (c *CleanupRecord) SetCloseFile(fd int, h CleanupHandler) {
	c.fd = fd
	c.isCloseFile = true
	c.handler = h
}

// Pool is a bump-allocated arena with large-block overflow and a LIFO
// cleanup list.
type Pool struct {
	blockSize int
	max       int

	head    *block
	current *block

	large   *large
	cleanup *CleanupRecord

	destroyed bool
}

// Create allocates the pool's first block of size bytes and computes its
// small-allocation ceiling. size must be larger than headerSize.
func Create(size int) (*Pool, error) {
	if size <= headerSize {
		return nil, perr.New(perr.AllocError, errors.New("pool size smaller than header"))
	}

	max := size - headerSize
	if pg := os.Getpagesize() - 1; pg < max {
		max = pg
	}

	b := &block{buf: make([]byte, 0, size)}
	return &Pool{
		blockSize: size,
		max:       max,
		head:      b,
		current:   b,
	}, nil
}

// Max returns the largest request size still served as a small, bump
// allocation; requests above it are routed to the large-list.
func (p *Pool) Max() int { return p.max }

// LargeCount returns the number of entries (freed or not) in the
// large-allocation list, for tests and diagnostics.
func (p *Pool) LargeCount() int {
	n := 0
	for l := p.large; l != nil; l = l.next {
		n++
	}
	return n
}

// BlockCount returns the number of blocks in the pool's block chain.
func (p *Pool) BlockCount() int {
	n := 0
	for b := p.head; b != nil; b = b.next {
		n++
	}
	return n
}

// align rounds n up to the platform pointer alignment.
func align(n int) int {
	const a = 8
	return (n + a - 1) &^ (a - 1)
}

// Alloc returns an aligned, unzeroed slice of n bytes.
func (p *Pool) Alloc(n int) ([]byte, error) {
	return p.alloc(n, true)
}

// AllocUnaligned is Alloc without alignment padding.
func (p *Pool) AllocUnaligned(n int) ([]byte, error) {
	return p.alloc(n, false)
}

// AllocZeroed is Alloc with the returned memory guaranteed zero-filled.
// A fresh block starts zeroed, but space handed out again after Reset or
// RewindTail still holds its earlier content, so the slice is cleared
// explicitly.
func (p *Pool) AllocZeroed(n int) ([]byte, error) {
	buf, err := p.alloc(n, true)
	if err != nil {
		return nil, err
	}
	for i := range buf {
		buf[i] = 0
	}
	return buf, nil
}

// AllocOverAligned always routes through the large-list: a
// request for a specific alignment beyond the pointer-word default cannot
// be satisfied from the middle of a shared block.
func (p *Pool) AllocOverAligned(n, _ int) ([]byte, error) {
	return p.allocLarge(n)
}

func (p *Pool) alloc(n int, aligned bool) ([]byte, error) {
	if p.destroyed {
		return nil, perr.New(perr.AllocError, errors.New("pool destroyed"))
	}
	if n > p.max {
		return p.allocLarge(n)
	}

	for b := p.current; b != nil; b = b.next {
		start := b.last
		if aligned {
			start = align(start)
		}
		if len(b.buf[:cap(b.buf)])-start >= n {
			buf := b.buf[:cap(b.buf)][start : start+n]
			b.last = start + n
			return buf, nil
		}
		b.failed++
		if b.failed > failureThreshold && b == p.current && b.next != nil {
			p.current = b.next
		}
	}

	nb := &block{buf: make([]byte, 0, p.blockSize)}
	tail := p.head
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = nb
	if p.current == nil {
		p.current = nb
	}

	start := 0
	if aligned {
		start = align(0)
	}
	buf := nb.buf[:cap(nb.buf)][start : start+n]
	nb.last = start + n
	return buf, nil
}

// ExtendTail grows buf in place by add bytes if and only if buf is the
// most recently allocated slice of the pool block it lives in and that
// block still has add bytes of trailing space - the "block-extend array
// push" optimization. It reports whether the extension
// happened; on false, buf is returned unchanged and the caller must fall
// back to a fresh, doubled allocation.
func (p *Pool) ExtendTail(buf []byte, add int) ([]byte, bool) {
	if len(buf) == 0 || add <= 0 {
		return buf, false
	}

	bufStart := uintptr(unsafe.Pointer(&buf[0]))
	for b := p.head; b != nil; b = b.next {
		full := b.buf[:cap(b.buf)]
		if len(full) == 0 {
			continue
		}
		blockStart := uintptr(unsafe.Pointer(&full[0]))
		blockEnd := blockStart + uintptr(cap(b.buf))
		if bufStart < blockStart || bufStart >= blockEnd {
			continue
		}

		offset := int(bufStart - blockStart)
		if offset+len(buf) != b.last {
			return buf, false
		}
		if cap(b.buf)-b.last < add {
			return buf, false
		}

		b.last += add
		return full[offset : offset+len(buf)+add], true
	}
	return buf, false
}

// RewindTail frees buf back to its pool block's free pointer if, and only
// if, buf is the most recently allocated slice in that block - the
// best-effort tail-rewind a dynamic array's Destroy performs.
// It reports whether the rewind happened.
func (p *Pool) RewindTail(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}

	bufStart := uintptr(unsafe.Pointer(&buf[0]))
	for b := p.head; b != nil; b = b.next {
		full := b.buf[:cap(b.buf)]
		if len(full) == 0 {
			continue
		}
		blockStart := uintptr(unsafe.Pointer(&full[0]))
		blockEnd := blockStart + uintptr(cap(b.buf))
		if bufStart < blockStart || bufStart >= blockEnd {
			continue
		}

		offset := int(bufStart - blockStart)
		if offset+len(buf) != b.last {
			return false
		}
		b.last = offset
		return true
	}
	return false
}

func (p *Pool) allocLarge(n int) ([]byte, error) {
	if p.destroyed {
		return nil, perr.New(perr.AllocError, errors.New("pool destroyed"))
	}

	scanned := 0
	for l := p.large; l != nil && scanned < maxLargeScan; l, scanned = l.next, scanned+1 {
		if l.buf == nil {
			l.buf = make([]byte, n)
			return l.buf, nil
		}
	}

	l := &large{buf: make([]byte, n)}
	l.next = p.large
	p.large = l
	return l.buf, nil
}

// FreeLarge releases a large allocation's backing slice so its slot can
// be reused by a later AllocOverAligned/large request. Returns NotFound
// if ptr was never returned by a large allocation.
func (p *Pool) FreeLarge(ptr []byte) error {
	for l := p.large; l != nil; l = l.next {
		if l.buf != nil && &l.buf[0] == &ptr[0] {
			l.buf = nil
			return nil
		}
	}
	return perr.New(perr.NotFound)
}

// RegisterCleanup pushes a new cleanup record (LIFO), optionally carrying
// a size-byte pool-allocated data slot addressed by the returned record's
// Data field.
func (p *Pool) RegisterCleanup(size int) (*CleanupRecord, error) {
	rec := &CleanupRecord{next: p.cleanup}
	if size > 0 {
		buf, err := p.Alloc(size)
		if err != nil {
			return nil, err
		}
		rec.Data = buf
	}
	p.cleanup = rec
	return rec, nil
}

// RunFileCleanups invokes and clears only the close-file cleanups bound
// to fd, leaving every other cleanup (and ordering) untouched.
func (p *Pool) RunFileCleanups(fd int) error {
	var prev *CleanupRecord
	cur := p.cleanup
	var firstErr error

	for cur != nil {
		next := cur.next
		if cur.isCloseFile && cur.fd == fd {
			if cur.handler != nil {
				if err := cur.handler(cur.Data); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			if prev == nil {
				p.cleanup = next
			} else {
				prev.next = next
			}
		} else {
			prev = cur
		}
		cur = next
	}
	return firstErr
}

// Reset frees every large allocation and rewinds each block's free
// pointer back to empty, keeping the blocks themselves and the cleanup
// list intact - used between pipeline-style reuses of the same pool.
func (p *Pool) Reset() {
	p.large = nil
	for b := p.head; b != nil; b = b.next {
		b.last = 0
		b.failed = 0
	}
	p.current = p.head
}

// Destroy runs every cleanup in LIFO order, then discards the large-list
// and block chain. The Pool must not be used afterward.
func (p *Pool) Destroy() error {
	if p.destroyed {
		return nil
	}

	var firstErr error
	for c := p.cleanup; c != nil; c = c.next {
		if c.handler == nil {
			continue
		}
		if err := c.handler(c.Data); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	p.cleanup = nil
	p.large = nil
	p.head = nil
	p.current = nil
	p.destroyed = true
	return firstErr
}
