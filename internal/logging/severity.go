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

// Package logging wraps github.com/sirupsen/logrus behind eight
// syslog-style severities (DEBUG, INFO, NOTICE, WARN, ERROR, CRIT,
// ALERT, EMERG). logrus itself only has six levels, so NOTICE folds
// onto Info and ALERT/EMERG fold onto Fatal - the diagnostic severity
// is still carried in the log fields even when two severities share one
// logrus level.
package logging

import "github.com/sirupsen/logrus"

// Severity is one of the eight syslog-style levels, ordered from least
// to most severe.
type Severity uint8

const (
	Debug Severity = iota
	Info
	Notice
	Warn
	Error
	Crit
	Alert
	Emerg
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Notice:
		return "NOTICE"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Crit:
		return "CRIT"
	case Alert:
		return "ALERT"
	case Emerg:
		return "EMERG"
	default:
		return "UNKNOWN"
	}
}

// logrusLevel maps a Severity onto the nearest logrus.Level.
func (s Severity) logrusLevel() logrus.Level {
	switch s {
	case Debug:
		return logrus.DebugLevel
	case Info, Notice:
		return logrus.InfoLevel
	case Warn:
		return logrus.WarnLevel
	case Error:
		return logrus.ErrorLevel
	case Crit:
		return logrus.ErrorLevel
	case Alert, Emerg:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}
