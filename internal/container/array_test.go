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

package container_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/arena"
	"github.com/sabouaram/ember/internal/container"
)

var _ = Describe("Array", func() {
	var pool *arena.Pool

	BeforeEach(func() {
		var err error
		pool, err = arena.Create(arena.DefaultBlockSize)
		Expect(err).ToNot(HaveOccurred())
	})

	It("extends in place while it sits at its pool block's tail", func() {
		a, err := container.NewArray(pool, 8, 2)
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 2; i++ {
			_, err := a.Push()
			Expect(err).ToNot(HaveOccurred())
		}
		capBefore := a.Cap()

		_, err = a.Push()
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Cap()).To(BeNumerically(">", capBefore))
		Expect(a.Len()).To(Equal(3))
	})

	It("doubles and copies when another allocation sits at the pool tail", func() {
		a, err := container.NewArray(pool, 8, 2)
		Expect(err).ToNot(HaveOccurred())
		for i := 0; i < 2; i++ {
			s, err := a.Push()
			Expect(err).ToNot(HaveOccurred())
			s[0] = byte(i + 1)
		}

		// An intervening allocation makes the array no longer the pool tail.
		_, err = pool.Alloc(16)
		Expect(err).ToNot(HaveOccurred())

		oldCap := a.Cap()
		_, err = a.Push()
		Expect(err).ToNot(HaveOccurred())
		Expect(a.Cap()).To(BeNumerically(">=", oldCap*2))

		Expect(a.At(0)[0]).To(Equal(byte(1)))
		Expect(a.At(1)[0]).To(Equal(byte(2)))
	})

	It("rewinds the pool tail on Destroy only when it is the last allocation", func() {
		a, err := container.NewArray(pool, 8, 4)
		Expect(err).ToNot(HaveOccurred())
		_, err = a.Push()
		Expect(err).ToNot(HaveOccurred())

		blocksBefore := pool.BlockCount()
		a.Destroy()

		// Rewinding doesn't remove the block, it only frees trailing space;
		// a subsequent allocation of the same size should succeed without
		// growing the pool.
		_, err = pool.Alloc(8 * 4)
		Expect(err).ToNot(HaveOccurred())
		Expect(pool.BlockCount()).To(Equal(blocksBefore))
	})
})
