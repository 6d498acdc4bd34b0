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

var _ = Describe("List", func() {
	var pool *arena.Pool

	BeforeEach(func() {
		var err error
		pool, err = arena.Create(arena.DefaultBlockSize)
		Expect(err).ToNot(HaveOccurred())
	})

	It("hands back stable, non-overlapping element slots", func() {
		l, err := container.NewList(pool, 8, 4)
		Expect(err).ToNot(HaveOccurred())

		var slots [][]byte
		for i := 0; i < 10; i++ {
			s, err := l.Push()
			Expect(err).ToNot(HaveOccurred())
			s[0] = byte(i)
			slots = append(slots, s)
		}

		Expect(l.Len()).To(Equal(10))
		for i, s := range slots {
			Expect(s[0]).To(Equal(byte(i)), "a later Push must not overwrite an earlier element")
		}
	})

	It("iterates elements in insertion order", func() {
		l, err := container.NewList(pool, 8, 2)
		Expect(err).ToNot(HaveOccurred())

		for i := 0; i < 5; i++ {
			s, err := l.Push()
			Expect(err).ToNot(HaveOccurred())
			s[0] = byte(i)
		}

		var seen []byte
		l.Each(func(elt []byte) bool {
			seen = append(seen, elt[0])
			return true
		})
		Expect(seen).To(Equal([]byte{0, 1, 2, 3, 4}))
	})

	It("stops iteration early when the callback returns false", func() {
		l, err := container.NewList(pool, 8, 4)
		Expect(err).ToNot(HaveOccurred())
		for i := 0; i < 4; i++ {
			_, err := l.Push()
			Expect(err).ToNot(HaveOccurred())
		}

		count := 0
		l.Each(func([]byte) bool {
			count++
			return count < 2
		})
		Expect(count).To(Equal(2))
	})
})
