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

// Package console colors the handful of status lines the CLI prints
// directly to the operator: the "-t" test-mode "configuration ok" message
// and the result of a "-s" signal-send. Everything else goes through
// internal/logging.
package console

import (
	"github.com/fatih/color"

	libcon "github.com/nabbar/golib/console"
)

func init() {
	libcon.SetColor(libcon.ColorPrint, int(color.FgGreen))
}

// OK prints a green confirmation line, used for "configuration ok".
func OK(format string, args ...interface{}) {
	libcon.ColorPrint.PrintLnf(format, args...)
}

// Fail prints a red failure line, used for signal-send and test-config errors.
func Fail(format string, args ...interface{}) {
	libcon.SetColor(libcon.ColorPrint, int(color.FgRed))
	libcon.ColorPrint.PrintLnf(format, args...)
	libcon.SetColor(libcon.ColorPrint, int(color.FgGreen))
}
