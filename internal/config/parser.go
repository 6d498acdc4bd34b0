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

// Package config is the core's one built-in implementation of the
// external config-parser collaborator: it reads a
// configuration file plus an optional inline directive fragment (the
// "-g" flag) and decodes each top-level section into the matching
// module's Config value. Nothing about build_cycle depends on this
// implementation specifically - a deployment can substitute its own
// parser as long as it satisfies the same Parse signature.
package config

import (
	"context"

	"gopkg.in/yaml.v3"

	liblog "github.com/nabbar/golib/logger"
	loglvl "github.com/nabbar/golib/logger/level"
	libvpr "github.com/nabbar/golib/viper"

	"github.com/sabouaram/ember/internal/logging"
	"github.com/sabouaram/ember/internal/perr"
)

// Parser decodes a configuration file (plus an inline fragment) into a
// set of named module sections, going through the Viper wrapper so
// format detection, env-var overrides and load diagnostics all come
// from the same place every other component in this tree gets its
// configuration from.
type Parser struct {
	// Log receives the wrapper's load diagnostics, if set. A nil Log is
	// fine: the wrapper treats it as "don't report".
	Log *logging.Logger
}

// Parse reads path (any format spf13/viper recognizes by extension),
// merges in the extra directive text as a YAML fragment if non-empty,
// and decodes the section named by each target map key into that
// Config value via UnmarshalKey. A module with no matching section is
// left untouched.
func (p Parser) Parse(path string, extra string, target map[string]interface{}) error {
	v := libvpr.New(func() context.Context { return context.Background() }, p.funcLog())

	if path != "" {
		if err := v.SetConfigFile(path); err != nil {
			return perr.New(perr.ConfigError, err)
		}
		if err := v.Config(loglvl.ErrorLevel, loglvl.DebugLevel); err != nil {
			return perr.New(perr.ConfigError, err)
		}
	}

	if extra != "" {
		var fragment map[string]interface{}
		if err := yaml.Unmarshal([]byte(extra), &fragment); err != nil {
			return perr.New(perr.ConfigError, err)
		}
		if err := v.Viper().MergeConfigMap(fragment); err != nil {
			return perr.New(perr.ConfigError, err)
		}
	}

	for name, dst := range target {
		if !v.Viper().IsSet(name) {
			continue
		}
		if err := v.Viper().UnmarshalKey(name, dst); err != nil {
			return perr.New(perr.ConfigError, err)
		}
	}

	return nil
}

func (p Parser) funcLog() liblog.FuncLog {
	if p.Log == nil {
		return nil
	}
	return func() liblog.Logger { return p.Log.Raw() }
}
