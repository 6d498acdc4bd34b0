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
package module_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/module"
)

var _ = Describe("Registry", func() {
	It("assigns global indices in registration order", func() {
		var reg module.Registry
		a := reg.Register(&module.Descriptor{Name: "core", Type: module.TypeCore})
		b := reg.Register(&module.Descriptor{Name: "events", Type: module.TypeEvent})
		c := reg.Register(&module.Descriptor{Name: "worker", Type: module.TypeWorker})

		Expect(a.Index).To(Equal(0))
		Expect(b.Index).To(Equal(1))
		Expect(c.Index).To(Equal(2))
	})

	It("assigns per-type indices independently of the global order", func() {
		var reg module.Registry
		c1 := reg.Register(&module.Descriptor{Name: "c1", Type: module.TypeCore})
		e1 := reg.Register(&module.Descriptor{Name: "e1", Type: module.TypeEvent})
		c2 := reg.Register(&module.Descriptor{Name: "c2", Type: module.TypeCore})

		Expect(c1.CtxIndex).To(Equal(0))
		Expect(e1.CtxIndex).To(Equal(0))
		Expect(c2.CtxIndex).To(Equal(1))
	})

	It("returns every descriptor in registration order", func() {
		var reg module.Registry
		reg.Register(&module.Descriptor{Name: "one"})
		reg.Register(&module.Descriptor{Name: "two"})

		names := make([]string, 0, 2)
		for _, d := range reg.Modules() {
			names = append(names, d.Name)
		}
		Expect(names).To(Equal([]string{"one", "two"}))
	})

	It("filters by type preserving order", func() {
		var reg module.Registry
		reg.Register(&module.Descriptor{Name: "c1", Type: module.TypeCore})
		reg.Register(&module.Descriptor{Name: "e1", Type: module.TypeEvent})
		reg.Register(&module.Descriptor{Name: "c2", Type: module.TypeCore})

		core := reg.OfType(module.TypeCore)
		Expect(core).To(HaveLen(2))
		Expect(core[0].Name).To(Equal("c1"))
		Expect(core[1].Name).To(Equal("c2"))
	})
})
