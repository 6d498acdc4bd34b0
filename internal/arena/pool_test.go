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

package arena_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/arena"
)

var _ = Describe("Pool", func() {
	var p *arena.Pool

	BeforeEach(func() {
		var err error
		p, err = arena.Create(arena.DefaultBlockSize)
		Expect(err).ToNot(HaveOccurred())
		Expect(p).ToNot(BeNil())
	})

	It("rejects a block smaller than its own header", func() {
		_, err := arena.Create(8)
		Expect(err).To(HaveOccurred())
	})

	It("serves small requests from the block chain", func() {
		buf, err := p.Alloc(64)
		Expect(err).ToNot(HaveOccurred())
		Expect(buf).To(HaveLen(64))
		Expect(p.LargeCount()).To(Equal(0))
	})

	It("accepts exactly pool.max as a small allocation", func() {
		buf, err := p.Alloc(p.Max())
		Expect(err).ToNot(HaveOccurred())
		Expect(buf).To(HaveLen(p.Max()))
		Expect(p.LargeCount()).To(Equal(0))
	})

	It("routes pool.max+1 to the large list", func() {
		_, err := p.Alloc(p.Max() + 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(p.LargeCount()).To(Equal(1))
	})

	It("zero-fills AllocZeroed regardless of prior block content", func() {
		buf, err := p.AllocZeroed(32)
		Expect(err).ToNot(HaveOccurred())
		for _, b := range buf {
			Expect(b).To(Equal(byte(0)))
		}
	})

	It("always routes over-aligned requests through the large list", func() {
		_, err := p.AllocOverAligned(16, 4096)
		Expect(err).ToNot(HaveOccurred())
		Expect(p.LargeCount()).To(Equal(1))
	})

	It("links a fresh block once the current one cannot satisfy a request", func() {
		before := p.BlockCount()
		// Fill the first block with as many max-size requests as it holds.
		for i := 0; i < arena.DefaultBlockSize/p.Max(); i++ {
			_, err := p.Alloc(p.Max())
			Expect(err).ToNot(HaveOccurred())
		}
		_, err := p.Alloc(p.Max())
		Expect(err).ToNot(HaveOccurred())
		Expect(p.BlockCount()).To(BeNumerically(">", before))
	})

	It("frees a large allocation and rejects a second free of it", func() {
		buf, err := p.Alloc(p.Max() + 1)
		Expect(err).ToNot(HaveOccurred())

		Expect(p.FreeLarge(buf)).To(Succeed())
		Expect(p.FreeLarge(buf)).To(HaveOccurred())
	})

	It("runs cleanups in LIFO order on destroy", func() {
		var order []int

		r1, err := p.RegisterCleanup(0)
		Expect(err).ToNot(HaveOccurred())
		r1.SetHandler(func(interface{}) error { order = append(order, 1); return nil })

		r2, err := p.RegisterCleanup(0)
		Expect(err).ToNot(HaveOccurred())
		r2.SetHandler(func(interface{}) error { order = append(order, 2); return nil })

		Expect(p.Destroy()).To(Succeed())
		Expect(order).To(Equal([]int{2, 1}))
	})

	It("aggregates the first cleanup error but still runs the rest", func() {
		boom := errors.New("boom")
		r1, _ := p.RegisterCleanup(0)
		r1.SetHandler(func(interface{}) error { return boom })

		var ran bool
		r2, _ := p.RegisterCleanup(0)
		r2.SetHandler(func(interface{}) error { ran = true; return nil })

		err := p.Destroy()
		Expect(err).To(HaveOccurred())
		Expect(ran).To(BeTrue())
	})

	It("fails every allocation once destroyed", func() {
		Expect(p.Destroy()).To(Succeed())
		_, err := p.Alloc(1)
		Expect(err).To(HaveOccurred())
	})

	It("invokes only the close-file cleanups matching the requested fd", func() {
		var closedA, closedB, ranOther bool

		ra, _ := p.RegisterCleanup(0)
		ra.SetCloseFile(3, func(interface{}) error { closedA = true; return nil })

		rb, _ := p.RegisterCleanup(0)
		rb.SetCloseFile(4, func(interface{}) error { closedB = true; return nil })

		ro, _ := p.RegisterCleanup(0)
		ro.SetHandler(func(interface{}) error { ranOther = true; return nil })

		Expect(p.RunFileCleanups(3)).To(Succeed())
		Expect(closedA).To(BeTrue())
		Expect(closedB).To(BeFalse())
		Expect(ranOther).To(BeFalse())

		closedA = false
		Expect(p.RunFileCleanups(3)).To(Succeed())
		Expect(closedA).To(BeFalse(), "a cleared close-file cleanup must not run twice")
	})

	It("keeps blocks and the cleanup list intact across Reset", func() {
		var ran bool
		rec, _ := p.RegisterCleanup(0)
		rec.SetHandler(func(interface{}) error { ran = true; return nil })

		_, err := p.Alloc(p.Max() + 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(p.LargeCount()).To(Equal(1))

		p.Reset()
		Expect(p.LargeCount()).To(Equal(0))

		Expect(p.Destroy()).To(Succeed())
		Expect(ran).To(BeTrue())
	})
})
