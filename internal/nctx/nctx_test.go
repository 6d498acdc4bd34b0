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
package nctx_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/nctx"
)

var _ = Describe("Map", func() {
	It("stores and loads by key", func() {
		m := nctx.NewMap[string](context.Background())
		m.Store("quit", true)

		v, ok := m.Load("quit")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(true))

		_, ok = m.Load("reopen")
		Expect(ok).To(BeFalse())
	})

	It("overwrites on re-store", func() {
		m := nctx.NewModuleConfigs(context.Background())
		m.Store(0, "first")
		m.Store(0, "second")

		v, _ := m.Load(0)
		Expect(v).To(Equal("second"))
	})

	It("deletes an entry", func() {
		m := nctx.NewWorkerTable(context.Background())
		m.Store(4242, "slot-0")
		m.Delete(4242)

		_, ok := m.Load(4242)
		Expect(ok).To(BeFalse())
	})

	It("tolerates concurrent writers and readers", func() {
		m := nctx.NewSignalFlags(context.Background())

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					m.Store("reap", n%2 == 0)
					m.Load("reap")
				}
			}(i)
		}
		wg.Wait()

		_, ok := m.Load("reap")
		Expect(ok).To(BeTrue())
	})
})
