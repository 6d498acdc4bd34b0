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
package perr_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/perr"
)

var _ = Describe("Error", func() {
	It("renders the bare code message with no parents", func() {
		e := perr.New(perr.AllocError)
		Expect(e.Error()).To(Equal("memory allocation failed"))
	})

	It("appends each parent message in wrap order", func() {
		e := perr.New(perr.IoError, errors.New("open /tmp/x"), errors.New("ENOENT"))
		Expect(e.Error()).To(Equal("file or socket i/o error: open /tmp/x: ENOENT"))
	})

	It("drops nil parents", func() {
		e := perr.New(perr.BindError, nil)
		Expect(e.Error()).To(Equal("socket bind failed"))
		Expect(e.Unwrap()).To(BeNil())
	})

	It("reports its own code", func() {
		Expect(perr.New(perr.ZoneConflict).Code()).To(Equal(perr.ZoneConflict))
	})

	It("unwraps into the first parent so errors.Is keeps working", func() {
		sentinel := errors.New("sentinel")
		e := perr.New(perr.ReloadError, fmt.Errorf("step 5: %w", sentinel))
		Expect(errors.Is(e, sentinel)).To(BeTrue())
	})

	It("finds a code anywhere in a nested chain", func() {
		inner := perr.New(perr.ConfigError, errors.New("bad directive"))
		outer := perr.New(perr.ReloadError, inner)
		Expect(perr.HasCode(outer, perr.ConfigError)).To(BeTrue())
		Expect(perr.HasCode(outer, perr.ReloadError)).To(BeTrue())
		Expect(perr.HasCode(outer, perr.BindError)).To(BeFalse())
	})

	It("rejects a non-coded error", func() {
		Expect(perr.HasCode(errors.New("plain"), perr.Fatal)).To(BeFalse())
		Expect(perr.HasCode(nil, perr.Fatal)).To(BeFalse())
	})

	It("falls back to a generic message for an unregistered code", func() {
		Expect(perr.CodeError(9999).String()).To(Equal("unclassified error"))
	})
})
